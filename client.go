// Package agent bridges local tmux sessions to a SessionCast relay. A
// Client drives one relay connection and any number of per-session capture
// loops, translating relay control messages into tmux operations and
// captured frames into outbound screen messages.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"sessioncast.io/agent/bus"
	"sessioncast.io/agent/relay"
	"sessioncast.io/agent/schema"
	"sessioncast.io/agent/screen"
	"sessioncast.io/agent/tmux"
)

// Multiplexer is the tmux surface the client drives. *tmux.Controller
// implements it; tests substitute fakes.
type Multiplexer interface {
	ListSessions(ctx context.Context) ([]schema.Session, error)
	SessionExists(ctx context.Context, name string) bool
	CreateSession(ctx context.Context, name, workDir string) error
	KillSession(ctx context.Context, name string) error
	SendKeys(ctx context.Context, target, keys string, literal bool) error
	SendKeysWithEnter(ctx context.Context, target, keys string) error
	SendSpecialKey(ctx context.Context, target string, key tmux.SpecialKey) error
	CapturePaneForStream(ctx context.Context, session string) (string, error)
	Resize(ctx context.Context, name string, cols, rows int) error
	GetPaneWorkDir(ctx context.Context, name string) (string, error)
}

// CaptureConfig tunes the adaptive capture engine and the compressor.
// Zero values mean the screen package defaults.
type CaptureConfig struct {
	ActiveInterval       time.Duration
	IdleInterval         time.Duration
	IdleThreshold        time.Duration
	ForceSendInterval    time.Duration
	CompressionThreshold int
}

// Config assembles a Client. Relay.Token and Relay.MachineID are required.
type Config struct {
	Relay   relay.Config
	Capture CaptureConfig

	// AutoStreamOnCreate starts streaming sessions created through
	// CreateSession.
	AutoStreamOnCreate bool

	// Multiplexer overrides the default tmux controller.
	Multiplexer Multiplexer

	Logger pslog.Logger
}

// Client composes the tmux adapter, capture engine, event bus and relay
// transport. Construct with New, connect with Connect, release with Close.
type Client struct {
	cfg    Config
	mux    Multiplexer
	events *bus.Bus
	engine *screen.Engine
	relay  *relay.Client
	logger pslog.Logger

	mu      sync.Mutex
	streams map[string]struct{}

	internal []*bus.Subscription
}

// New validates cfg and wires up a Client. The relay connection is not
// opened; call Connect.
func New(cfg Config, logger pslog.Logger) (*Client, error) {
	if logger == nil {
		logger = cfg.Logger
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	events := bus.New(logger)
	transport, err := relay.NewClient(cfg.Relay, events, logger)
	if err != nil {
		events.Close()
		return nil, err
	}

	mux := cfg.Multiplexer
	if mux == nil {
		mux = tmux.NewController(logger)
	}

	comp := screen.NewCompressor(logger)
	if cfg.Capture.CompressionThreshold > 0 {
		comp.Threshold = cfg.Capture.CompressionThreshold
	}
	engine := screen.NewEngine(mux, comp, logger)
	if cfg.Capture.ActiveInterval > 0 {
		engine.SetActiveInterval(cfg.Capture.ActiveInterval)
	}
	if cfg.Capture.IdleInterval > 0 {
		engine.SetIdleInterval(cfg.Capture.IdleInterval)
	}
	if cfg.Capture.IdleThreshold > 0 {
		engine.SetIdleThreshold(cfg.Capture.IdleThreshold)
	}
	if cfg.Capture.ForceSendInterval > 0 {
		engine.SetForceSendInterval(cfg.Capture.ForceSendInterval)
	}

	c := &Client{
		cfg:     cfg,
		mux:     mux,
		events:  events,
		engine:  engine,
		relay:   transport,
		logger:  logger,
		streams: make(map[string]struct{}),
	}
	c.wireHandlers()
	return c, nil
}

func (c *Client) wireHandlers() {
	// Relay-originated keystrokes. The bus workers keep the tmux
	// subprocess calls off the transport reader.
	c.internal = append(c.internal, c.events.Subscribe(schema.KindKeysReceived, func(e schema.Event) {
		ctx := context.Background()
		var err error
		if e.Enter {
			err = c.mux.SendKeysWithEnter(ctx, e.Session, e.Keys)
		} else {
			err = c.mux.SendKeys(ctx, e.Session, e.Keys, true)
		}
		if err != nil {
			c.logger.Warn("send keys failed", "session", e.Session, "err", err)
		}
	}))

	c.internal = append(c.internal, c.events.Subscribe(schema.KindResizeRequest, func(e schema.Event) {
		if err := c.mux.Resize(context.Background(), e.Session, e.Cols, e.Rows); err != nil {
			c.logger.Warn("resize failed", "session", e.Session, "err", err)
		}
	}))

	// A session coming into existence, locally or relay-initiated,
	// starts streaming once the relay is up.
	c.internal = append(c.internal, c.events.Subscribe(schema.KindSessionCreated, func(e schema.Event) {
		if c.relay.IsConnected() && !c.IsStreaming(e.Session) {
			c.StartStreaming(e.Session)
		}
	}))

	// Relay-initiated creates reach the local tmux first; the event goes
	// out only once the session exists.
	c.relay.OnCreateSession(func(name, workDir string) {
		ctx := context.Background()
		if !c.mux.SessionExists(ctx, name) {
			if err := c.mux.CreateSession(ctx, name, workDir); err != nil {
				c.logger.Warn("create session failed", "session", name, "err", err)
				return
			}
		}
		c.events.Publish(schema.NewSessionCreatedEvent(name))
	})

	c.internal = append(c.internal, c.events.Subscribe(schema.KindSessionKilled, func(e schema.Event) {
		c.StopStreaming(e.Session)
		if err := c.mux.KillSession(context.Background(), e.Session); err != nil {
			c.logger.Warn("kill session failed", "session", e.Session, "err", err)
		}
	}))

	// On register, announce the local session list and pick up existing
	// sessions for streaming.
	c.internal = append(c.internal, c.events.Subscribe(schema.KindConnected, func(e schema.Event) {
		sessions, err := c.mux.ListSessions(context.Background())
		if err != nil {
			c.logger.Warn("session announce failed", "err", err)
			return
		}
		c.relay.Send(schema.NewSessions(sessions))
		if c.cfg.AutoStreamOnCreate {
			for _, session := range sessions {
				if !c.IsStreaming(session.Name) {
					c.StartStreaming(session.Name)
				}
			}
		}
	}))
}

// Connect opens the relay connection. The returned completion yields nil
// once registered, or the error that ended the attempt.
func (c *Client) Connect() <-chan error {
	return c.relay.Connect()
}

// Disconnect closes the relay connection without reconnecting.
func (c *Client) Disconnect() {
	c.relay.Disconnect()
}

// IsConnected reports whether the relay connection is up.
func (c *Client) IsConnected() bool {
	return c.relay.IsConnected()
}

// ListSessions lists the local tmux sessions.
func (c *Client) ListSessions(ctx context.Context) ([]schema.Session, error) {
	return c.mux.ListSessions(ctx)
}

// SessionExists reports whether the named local session exists.
func (c *Client) SessionExists(ctx context.Context, name string) bool {
	return c.mux.SessionExists(ctx, name)
}

// CreateSession creates a local tmux session, optionally starts streaming
// it, and publishes the created event.
func (c *Client) CreateSession(ctx context.Context, name, workDir string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: session name is required", schema.ErrConfigInvalid)
	}
	if err := c.mux.CreateSession(ctx, name, workDir); err != nil {
		return err
	}
	if c.cfg.AutoStreamOnCreate {
		c.StartStreaming(name)
	}
	c.events.Publish(schema.NewSessionCreatedEvent(name))
	return nil
}

// KillSession stops streaming, kills the local session and publishes the
// killed event.
func (c *Client) KillSession(ctx context.Context, name string) error {
	c.StopStreaming(name)
	if err := c.mux.KillSession(ctx, name); err != nil {
		return err
	}
	c.events.Publish(schema.NewSessionKilledEvent(name))
	return nil
}

// SendKeys sends key text to a session, optionally followed by Enter.
func (c *Client) SendKeys(ctx context.Context, session, keys string, enter bool) error {
	if enter {
		return c.mux.SendKeysWithEnter(ctx, session, keys)
	}
	return c.mux.SendKeys(ctx, session, keys, true)
}

// SendSpecialKey sends one named key to a session.
func (c *Client) SendSpecialKey(ctx context.Context, session string, key tmux.SpecialKey) error {
	return c.mux.SendSpecialKey(ctx, session, key)
}

// Resize resizes a session's window.
func (c *Client) Resize(ctx context.Context, session string, cols, rows int) error {
	return c.mux.Resize(ctx, session, cols, rows)
}

// StartStreaming begins capturing the session and forwarding its frames to
// the relay. Starting an already-streaming session is a no-op.
func (c *Client) StartStreaming(session string) {
	c.mu.Lock()
	if _, exists := c.streams[session]; exists {
		c.mu.Unlock()
		return
	}
	c.streams[session] = struct{}{}
	c.mu.Unlock()

	c.engine.Start(session, func(frame schema.Frame) {
		c.events.Publish(schema.NewScreenEvent(frame))
		if !c.relay.IsConnected() {
			return
		}
		if frame.IsCompressed {
			c.relay.Send(schema.NewScreenGz(frame.Session, frame.Base64Payload()))
		} else {
			c.relay.Send(schema.NewScreen(frame.Session, frame.Base64Payload()))
		}
	})
	c.logger.Info("started streaming", "session", session)
}

// StopStreaming stops capturing the session. Idempotent.
func (c *Client) StopStreaming(session string) {
	c.mu.Lock()
	_, exists := c.streams[session]
	delete(c.streams, session)
	c.mu.Unlock()
	if !exists {
		return
	}
	c.engine.Stop(session)
	c.logger.Info("stopped streaming", "session", session)
}

// IsStreaming reports whether the session is being captured.
func (c *Client) IsStreaming(session string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[session]
	return ok
}

// OnScreen subscribes to every captured frame.
func (c *Client) OnScreen(handler func(schema.Frame)) *bus.Subscription {
	return c.events.Subscribe(schema.KindScreen, func(e schema.Event) {
		handler(e.Frame)
	})
}

// OnSessionScreen subscribes to frames of one session.
func (c *Client) OnSessionScreen(session string, handler func(schema.Frame)) *bus.Subscription {
	return c.events.Subscribe(schema.KindScreen, func(e schema.Event) {
		if e.Session == session {
			handler(e.Frame)
		}
	})
}

// OnConnect subscribes to relay connection establishment.
func (c *Client) OnConnect(handler func()) *bus.Subscription {
	return c.events.Subscribe(schema.KindConnected, func(schema.Event) {
		handler()
	})
}

// OnDisconnect subscribes to relay disconnects.
func (c *Client) OnDisconnect(handler func(schema.DisconnectReason)) *bus.Subscription {
	return c.events.Subscribe(schema.KindDisconnected, func(e schema.Event) {
		handler(e.Reason)
	})
}

// OnError subscribes to coded errors.
func (c *Client) OnError(handler func(schema.AgentError)) *bus.Subscription {
	return c.events.Subscribe(schema.KindError, func(e schema.Event) {
		handler(e.Err)
	})
}

// OnKeysReceived subscribes to relay-originated keystrokes.
func (c *Client) OnKeysReceived(handler func(session, keys string, enter bool)) *bus.Subscription {
	return c.events.Subscribe(schema.KindKeysReceived, func(e schema.Event) {
		handler(e.Session, e.Keys, e.Enter)
	})
}

// Events exposes the bus for subscription to any event kind.
func (c *Client) Events() *bus.Bus {
	return c.events
}

// Close releases everything in reverse construction order: streaming, the
// capture engine, the relay transport, then the bus.
func (c *Client) Close() {
	c.mu.Lock()
	sessions := make([]string, 0, len(c.streams))
	for session := range c.streams {
		sessions = append(sessions, session)
	}
	c.streams = make(map[string]struct{})
	c.mu.Unlock()
	for _, session := range sessions {
		c.engine.Stop(session)
	}

	c.engine.Close()
	c.relay.Close()
	for _, sub := range c.internal {
		sub.Dispose()
	}
	c.events.Close()
	c.logger.Info("sessioncast client closed")
}
