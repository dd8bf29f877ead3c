package relay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"sessioncast.io/agent/bus"
	"sessioncast.io/agent/schema"
)

// Relay connection defaults.
const (
	DefaultURL                    = "wss://relay.sessioncast.io/ws"
	DefaultReconnectInitialDelay  = 2 * time.Second
	DefaultReconnectMaxDelay      = 60 * time.Second
	DefaultMaxReconnectAttempts   = 5
	DefaultCircuitBreakerDuration = 2 * time.Minute

	dialTimeout     = 15 * time.Second
	writeTimeout    = 10 * time.Second
	closeGrace      = 5 * time.Second
	closeWaitWindow = time.Second
)

// phase is the transport state machine position.
type phase int32

const (
	phaseDisconnected phase = iota
	phaseConnecting
	phaseConnected
	phaseClosing
)

// Config describes the relay connection. Token and MachineID are required.
type Config struct {
	URL       string
	Token     string
	MachineID string
	Label     string

	ReconnectEnabled       bool
	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration
	MaxReconnectAttempts   int
	CircuitBreakerDuration time.Duration
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("%w: token is required", schema.ErrConfigInvalid)
	}
	if strings.TrimSpace(c.MachineID) == "" {
		return fmt.Errorf("%w: machine id is required", schema.ErrConfigInvalid)
	}
	return nil
}

// withDefaults fills unset knobs with the package defaults.
func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Label == "" {
		c.Label = c.MachineID
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.CircuitBreakerDuration <= 0 {
		c.CircuitBreakerDuration = DefaultCircuitBreakerDuration
	}
	return c
}

// Client keeps one WebSocket to the relay alive. Connection loss while not
// closing schedules reconnects with exponential backoff plus jitter; once
// the attempt budget is exhausted the breaker opens and Connect fails fast
// until the window elapses. Inbound frames are decoded and dispatched as
// events on the bus; Send is best-effort and drops when not connected.
type Client struct {
	cfg    Config
	events *bus.Bus
	logger pslog.Logger

	createSession func(name, workDir string)

	mu             sync.Mutex
	conn           *websocket.Conn
	phase          phase
	closing        bool
	attempts       int
	breakerUntil   time.Time
	pending        []chan error
	reconnectTimer *time.Timer
	readerDone     chan struct{}

	writeMu sync.Mutex
}

// NewClient builds a Client publishing events on events. The config is
// validated and defaulted.
func NewClient(cfg Config, events *bus.Bus, logger pslog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg.withDefaults(), events: events, logger: logger}, nil
}

func (c *Client) log() pslog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return pslog.Ctx(context.Background())
}

// Config returns the effective (defaulted) configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// OnCreateSession installs the handler for relay-initiated session creation.
// When set, an inbound createSession is handed to fn (off the reader
// goroutine) instead of being published directly, so the local session can
// be created before the SessionCreated event goes out. Set before Connect.
func (c *Client) OnCreateSession(fn func(name, workDir string)) {
	c.createSession = fn
}

// IsConnected reports whether the socket is open and registered.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseConnected && c.conn != nil
}

// Connect starts connecting and returns a single-shot completion: the
// channel yields nil once the connection is registered, or the error that
// ended this attempt. During an open breaker window it fails immediately
// with ErrCircuitBreaker. Connecting while connected completes immediately.
func (c *Client) Connect() <-chan error {
	done := make(chan error, 1)

	c.mu.Lock()
	if c.phase == phaseConnected || c.closing {
		c.mu.Unlock()
		done <- nil
		return done
	}
	if until := c.breakerUntil; time.Now().Before(until) {
		wait := time.Until(until).Round(time.Second)
		c.mu.Unlock()
		done <- fmt.Errorf("%w: retry in %s", schema.ErrCircuitBreaker, wait)
		return done
	}
	if c.phase == phaseConnecting {
		// A dial is in flight; piggyback on its outcome.
		c.pending = append(c.pending, done)
		c.mu.Unlock()
		return done
	}
	c.phase = phaseConnecting
	c.pending = append(c.pending, done)
	c.mu.Unlock()

	go c.dial()
	return done
}

// dial performs one connection attempt off the caller's goroutine.
func (c *Client) dial() {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.Dial(c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.log().Warn("relay dial failed", "url", c.cfg.URL, "err", err)
		c.events.Publish(schema.NewErrorEvent(schema.CodeWSError, err.Error()))
		c.mu.Lock()
		c.phase = phaseDisconnected
		c.completePendingLocked(err)
		c.mu.Unlock()
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.phase = phaseConnected
	c.attempts = 0
	c.breakerUntil = time.Time{}
	c.readerDone = make(chan struct{})
	readerDone := c.readerDone
	c.mu.Unlock()

	c.log().Info("relay connected", "url", c.cfg.URL)
	c.Send(schema.NewRegister(c.cfg.MachineID, c.cfg.Label, c.cfg.Token))
	c.events.Publish(schema.NewConnectedEvent(c.cfg.MachineID))

	c.mu.Lock()
	c.completePendingLocked(nil)
	c.mu.Unlock()

	go c.readLoop(conn, readerDone)
}

// completePendingLocked resolves every outstanding connect completion.
// Caller holds c.mu; the channels are buffered so sends never block.
func (c *Client) completePendingLocked(err error) {
	for _, waiter := range c.pending {
		waiter <- err
	}
	c.pending = nil
}

// readLoop pumps inbound frames until the socket dies. It never performs
// blocking work itself; dispatched events run on the bus workers.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(data)
	}
}

// handleClose reacts to the socket ending. A close during Disconnect is
// quiet (Disconnect publishes the Normal disconnect itself); a remote close
// publishes ConnectionLost and schedules a reconnect.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	_ = conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closing := c.closing || c.phase == phaseClosing
	c.phase = phaseDisconnected
	c.mu.Unlock()

	if closing {
		return
	}
	c.log().Warn("relay connection lost", "err", err)
	c.events.Publish(schema.NewDisconnectedEvent(schema.DisconnectConnectionLost, err.Error()))
	c.scheduleReconnect()
}

// dispatch decodes one inbound frame and maps it to its event. Ping is
// answered in place; unknown or agent-only message types are logged and
// dropped without disturbing the connection.
func (c *Client) dispatch(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		c.log().Debug("inbound frame dropped", "err", err)
		return
	}
	switch m := msg.(type) {
	case schema.Keys:
		c.events.Publish(schema.NewKeysReceivedEvent(m.SessionName, m.Keys, m.Enter))
	case schema.Resize:
		c.events.Publish(schema.NewResizeRequestEvent(m.SessionName, m.Cols, m.Rows))
	case schema.CreateSession:
		if c.createSession != nil {
			go c.createSession(m.SessionName, m.WorkDir)
		} else {
			c.events.Publish(schema.NewSessionCreatedEvent(m.SessionName))
		}
	case schema.KillSession:
		c.events.Publish(schema.NewSessionKilledEvent(m.SessionName))
	case schema.ErrorMessage:
		c.events.Publish(schema.NewErrorEvent(m.Code, m.Message))
	case schema.Ping:
		c.Send(schema.NewPong())
	default:
		c.log().Debug("unhandled message type", "type", msg.MessageType())
	}
}

// Send transmits one message, best-effort: when not connected the message
// is dropped with a warning, and encoding failures are logged and dropped.
// Callers own any flow control.
func (c *Client) Send(msg schema.Message) {
	c.mu.Lock()
	conn := c.conn
	connected := c.phase == phaseConnected && conn != nil
	c.mu.Unlock()
	if !connected {
		c.log().Warn("cannot send, not connected", "type", msg.MessageType())
		return
	}

	data, err := Encode(msg)
	if err != nil {
		c.log().Error("message encode failed", "type", msg.MessageType(), "err", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log().Warn("message send failed", "type", msg.MessageType(), "err", err)
	}
}

// scheduleReconnect books the next attempt per the backoff schedule, or
// opens the breaker once the attempt budget is spent.
func (c *Client) scheduleReconnect() {
	if !c.cfg.ReconnectEnabled {
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.breakerUntil = time.Now().Add(c.cfg.CircuitBreakerDuration)
		c.attempts = 0
		c.mu.Unlock()
		c.log().Warn("max reconnect attempts reached, circuit breaker open",
			"window", c.cfg.CircuitBreakerDuration)
		c.events.Publish(schema.NewDisconnectedEvent(schema.DisconnectCircuitBreaker,
			fmt.Sprintf("circuit breaker open for %s", c.cfg.CircuitBreakerDuration)))
		return
	}
	attempt := c.attempts
	delay := backoffDelay(c.cfg.ReconnectInitialDelay, c.cfg.ReconnectMaxDelay, attempt)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if !closing {
			c.Connect()
		}
	})
	c.mu.Unlock()
	c.log().Info("scheduling reconnect", "attempt", attempt, "delay", delay)
}

// backoffDelay computes min(base * 2^(attempt-1), max) plus additive
// uniform jitter in [0, delay/4).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	if delay > max || delay <= 0 {
		delay = max
	}
	if jitterSpan := int64(delay / 4); jitterSpan > 0 {
		delay += time.Duration(rand.Int64N(jitterSpan))
	}
	return delay
}

// Disconnect closes the connection locally. No reconnect is scheduled and,
// when the connection was up, the Normal disconnect event is published
// before returning.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	readerDone := c.readerDone
	wasConnected := c.phase == phaseConnected
	if conn != nil {
		c.phase = phaseClosing
	}
	c.completePendingLocked(schema.ErrNotConnected)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent closing"))
		c.writeMu.Unlock()
		_ = conn.Close()
		if readerDone != nil {
			select {
			case <-readerDone:
			case <-time.After(closeWaitWindow):
			}
		}
	}

	c.mu.Lock()
	c.phase = phaseDisconnected
	c.conn = nil
	c.mu.Unlock()

	if wasConnected {
		c.events.Publish(schema.NewDisconnectedEvent(schema.DisconnectNormal, "client disconnect"))
	}
}

// Close shuts the transport down for good: Disconnect plus a bounded wait
// for the reader to drain. After Close returns, the client publishes no
// further events.
func (c *Client) Close() {
	c.mu.Lock()
	readerDone := c.readerDone
	c.mu.Unlock()

	c.Disconnect()

	if readerDone != nil {
		select {
		case <-readerDone:
		case <-time.After(closeGrace):
			c.log().Warn("relay reader did not drain in time")
		}
	}
}
