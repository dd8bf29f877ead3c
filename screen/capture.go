package screen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"

	"sessioncast.io/agent/schema"
)

// Capture engine defaults.
const (
	DefaultActiveInterval    = 50 * time.Millisecond
	DefaultIdleInterval      = 200 * time.Millisecond
	DefaultIdleThreshold     = 2 * time.Second
	DefaultForceSendInterval = 10 * time.Second

	closeGrace = 5 * time.Second
)

// Source captures the current pane content of a session as a self-contained
// repaint. Implemented by *tmux.Controller.
type Source interface {
	CapturePaneForStream(ctx context.Context, session string) (string, error)
}

// Sink receives frames emitted by the engine.
type Sink func(schema.Frame)

// Engine polls each started session at a data-dependent rate: fast while the
// pane is changing, slow once it has been quiet past the idle threshold. A
// frame goes to the sink when the content changed or the force-send interval
// elapsed without any send. The intervals are mutable while running and take
// effect on the next tick.
type Engine struct {
	source Source
	comp   *Compressor
	logger pslog.Logger

	activeInterval    atomic.Int64 // milliseconds
	idleInterval      atomic.Int64
	idleThreshold     atomic.Int64
	forceSendInterval atomic.Int64

	mu     sync.Mutex
	tasks  map[string]*captureTask
	closed bool
	wg     sync.WaitGroup
}

// captureTask is the per-session loop state. Its fields past stop are owned
// by the single loop goroutine; running is the cross-goroutine kill switch.
type captureTask struct {
	session string
	sink    Sink
	running atomic.Bool
	stop    chan struct{}

	lastRaw    string
	lastChange time.Time
	lastSend   time.Time
	idle       bool
}

// NewEngine returns an Engine polling source and compressing with comp.
func NewEngine(source Source, comp *Compressor, logger pslog.Logger) *Engine {
	if comp == nil {
		comp = NewCompressor(logger)
	}
	e := &Engine{
		source: source,
		comp:   comp,
		logger: logger,
		tasks:  make(map[string]*captureTask),
	}
	e.activeInterval.Store(int64(DefaultActiveInterval / time.Millisecond))
	e.idleInterval.Store(int64(DefaultIdleInterval / time.Millisecond))
	e.idleThreshold.Store(int64(DefaultIdleThreshold / time.Millisecond))
	e.forceSendInterval.Store(int64(DefaultForceSendInterval / time.Millisecond))
	return e
}

func (e *Engine) log() pslog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return pslog.Ctx(context.Background())
}

// SetActiveInterval sets the polling interval while the pane is changing.
func (e *Engine) SetActiveInterval(d time.Duration) *Engine {
	e.activeInterval.Store(int64(d / time.Millisecond))
	return e
}

// SetIdleInterval sets the polling interval once the pane has gone idle.
func (e *Engine) SetIdleInterval(d time.Duration) *Engine {
	e.idleInterval.Store(int64(d / time.Millisecond))
	return e
}

// SetIdleThreshold sets how long the pane must be unchanged to count idle.
func (e *Engine) SetIdleThreshold(d time.Duration) *Engine {
	e.idleThreshold.Store(int64(d / time.Millisecond))
	return e
}

// SetForceSendInterval sets the keepalive bound between sends.
func (e *Engine) SetForceSendInterval(d time.Duration) *Engine {
	e.forceSendInterval.Store(int64(d / time.Millisecond))
	return e
}

func (e *Engine) active() time.Duration {
	return time.Duration(e.activeInterval.Load()) * time.Millisecond
}

func (e *Engine) idleDelay() time.Duration {
	return time.Duration(e.idleInterval.Load()) * time.Millisecond
}

func (e *Engine) idleAfter() time.Duration {
	return time.Duration(e.idleThreshold.Load()) * time.Millisecond
}

func (e *Engine) forceAfter() time.Duration {
	return time.Duration(e.forceSendInterval.Load()) * time.Millisecond
}

// Start begins capturing session, delivering frames to sink. Starting an
// already-captured session is a warned no-op.
func (e *Engine) Start(session string, sink Sink) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.log().Warn("capture engine closed", "session", session)
		return
	}
	if _, exists := e.tasks[session]; exists {
		e.mu.Unlock()
		e.log().Warn("capture already running", "session", session)
		return
	}
	task := &captureTask{
		session:    session,
		sink:       sink,
		stop:       make(chan struct{}),
		lastChange: time.Now(),
	}
	task.running.Store(true)
	e.tasks[session] = task
	e.wg.Add(1)
	e.mu.Unlock()

	go e.loop(task)
	e.log().Info("started screen capture", "session", session)
}

// Stop ends capturing session. After Stop returns, the sink is not invoked
// again for that session: the pending tick is cancelled, and a tick already
// capturing observes the cleared running flag and skips delivery.
func (e *Engine) Stop(session string) {
	e.mu.Lock()
	task, ok := e.tasks[session]
	if ok {
		delete(e.tasks, session)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	task.running.Store(false)
	close(task.stop)
	e.log().Info("stopped screen capture", "session", session)
}

// StopAll stops every active capture.
func (e *Engine) StopAll() {
	e.mu.Lock()
	tasks := make([]*captureTask, 0, len(e.tasks))
	for _, task := range e.tasks {
		tasks = append(tasks, task)
	}
	e.tasks = make(map[string]*captureTask)
	e.mu.Unlock()
	for _, task := range tasks {
		task.running.Store(false)
		close(task.stop)
	}
}

// IsCapturing reports whether session has an active capture loop.
func (e *Engine) IsCapturing(session string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tasks[session]
	return ok
}

// Close stops all captures and waits up to the grace period for loops to
// drain.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.StopAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeGrace):
		e.log().Warn("capture loops did not drain in time")
	}
}

// loop runs the per-session schedule. A single goroutine owns the task, so
// at most one tick is ever in flight for a session.
func (e *Engine) loop(task *captureTask) {
	defer e.wg.Done()
	timer := time.NewTimer(e.active())
	defer timer.Stop()
	for {
		select {
		case <-task.stop:
			return
		case <-timer.C:
			if !task.running.Load() {
				return
			}
			e.tick(task)
			delay := e.active()
			if task.idle {
				delay = e.idleDelay()
			}
			timer.Reset(delay)
		}
	}
}

// tick performs one capture-compare-emit cycle. Capture failures are
// transient: the task state is untouched and the loop just reschedules.
func (e *Engine) tick(task *captureTask) {
	defer func() {
		if r := recover(); r != nil {
			e.log().Error("capture tick panicked", "session", task.session, "panic", r)
		}
	}()

	content, err := e.source.CapturePaneForStream(context.Background(), task.session)
	if err != nil {
		e.log().Debug("pane capture failed", "session", task.session, "err", err)
		return
	}

	now := time.Now()
	changed := content != task.lastRaw
	force := now.Sub(task.lastSend) >= e.forceAfter()

	if changed {
		task.lastRaw = content
		task.lastChange = now
		task.idle = false
	} else if now.Sub(task.lastChange) >= e.idleAfter() {
		task.idle = true
	}

	if changed || force {
		frame := e.comp.CompressFrame(task.session, content)
		if task.running.Load() {
			task.sink(frame)
		}
		task.lastSend = now
	}
}
