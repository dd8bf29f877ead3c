package screen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sessioncast.io/agent/schema"
)

// fakeSource serves canned pane content and counts captures.
type fakeSource struct {
	mu       sync.Mutex
	content  string
	err      error
	captures int
}

func (f *fakeSource) CapturePaneForStream(ctx context.Context, session string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	return f.content, f.err
}

func (f *fakeSource) set(content string) {
	f.mu.Lock()
	f.content = content
	f.mu.Unlock()
}

func (f *fakeSource) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

// collect accumulates delivered frames.
type collect struct {
	mu     sync.Mutex
	frames []schema.Frame
}

func (c *collect) sink(frame schema.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
}

func (c *collect) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newTestEngine(source Source) *Engine {
	e := NewEngine(source, NewCompressor(nil), nil)
	e.SetActiveInterval(10 * time.Millisecond)
	e.SetIdleInterval(40 * time.Millisecond)
	e.SetIdleThreshold(60 * time.Millisecond)
	e.SetForceSendInterval(10 * time.Second)
	return e
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestUnchangedContentSendsOnce(t *testing.T) {
	source := &fakeSource{content: "ready\n"}
	sink := &collect{}
	e := newTestEngine(source)
	defer e.Close()

	e.Start("s1", sink.sink)
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	// Plenty of ticks later, still exactly one frame: content never
	// changed and force-send is far away.
	time.Sleep(200 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Fatalf("expected 1 frame, got %d", got)
	}
	if source.captureCount() < 2 {
		t.Fatalf("expected polling to continue, got %d captures", source.captureCount())
	}
}

func TestIdleTransitionSlowsPolling(t *testing.T) {
	source := &fakeSource{content: "ready\n"}
	sink := &collect{}
	e := newTestEngine(source)
	defer e.Close()

	e.Start("s1", sink.sink)
	// Let the loop cross the idle threshold.
	time.Sleep(150 * time.Millisecond)
	before := source.captureCount()
	time.Sleep(200 * time.Millisecond)
	ticks := source.captureCount() - before
	// At the 40ms idle interval, 200ms fits ~5 ticks; the 10ms active
	// rate would fit ~20. Allow generous slack for scheduling.
	if ticks > 12 {
		t.Fatalf("expected idle-rate polling, got %d ticks in 200ms", ticks)
	}
}

func TestChangedContentSendsAgain(t *testing.T) {
	source := &fakeSource{content: "one"}
	sink := &collect{}
	e := newTestEngine(source)
	defer e.Close()

	e.Start("s1", sink.sink)
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	source.set("two")
	waitFor(t, time.Second, func() bool { return sink.count() == 2 })
}

func TestForceSendKeepsViewersAlive(t *testing.T) {
	source := &fakeSource{content: "static"}
	sink := &collect{}
	e := newTestEngine(source)
	e.SetForceSendInterval(80 * time.Millisecond)
	defer e.Close()

	e.Start("s1", sink.sink)
	waitFor(t, time.Second, func() bool { return sink.count() >= 2 })
}

func TestCaptureErrorLeavesStateAndReschedules(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("pane gone")}
	sink := &collect{}
	e := newTestEngine(source)
	defer e.Close()

	e.Start("s1", sink.sink)
	waitFor(t, time.Second, func() bool { return source.captureCount() >= 3 })
	if sink.count() != 0 {
		t.Fatalf("expected no frames on capture failure")
	}

	// Recovery: once the source works again, the frame flows.
	source.mu.Lock()
	source.err = nil
	source.content = "back"
	source.mu.Unlock()
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })
}

func TestStopPreventsFurtherDelivery(t *testing.T) {
	source := &fakeSource{content: "ready"}
	sink := &collect{}
	e := newTestEngine(source)
	defer e.Close()

	e.Start("s1", sink.sink)
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	e.Stop("s1")
	if e.IsCapturing("s1") {
		t.Fatalf("expected capture stopped")
	}
	delivered := sink.count()
	source.set("changed after stop")
	time.Sleep(100 * time.Millisecond)
	if got := sink.count(); got != delivered {
		t.Fatalf("expected no delivery after stop, got %d frames (was %d)", got, delivered)
	}
}

func TestStartIsExclusivePerSession(t *testing.T) {
	source := &fakeSource{content: "ready"}
	e := newTestEngine(source)
	defer e.Close()

	var first, second atomic.Int32
	e.Start("s1", func(schema.Frame) { first.Add(1) })
	e.Start("s1", func(schema.Frame) { second.Add(1) })

	waitFor(t, time.Second, func() bool { return first.Load() >= 1 })
	if second.Load() != 0 {
		t.Fatalf("second start must be a no-op")
	}
}

func TestSinkPanicDoesNotKillLoop(t *testing.T) {
	source := &fakeSource{content: "one"}
	e := newTestEngine(source)
	defer e.Close()

	var delivered atomic.Int32
	e.Start("s1", func(schema.Frame) {
		if delivered.Add(1) == 1 {
			panic("sink exploded")
		}
	})
	waitFor(t, time.Second, func() bool { return delivered.Load() >= 1 })
	source.set("two")
	waitFor(t, time.Second, func() bool { return delivered.Load() >= 2 })
}

func TestStopAllAndClose(t *testing.T) {
	source := &fakeSource{content: "ready"}
	e := newTestEngine(source)

	e.Start("a", func(schema.Frame) {})
	e.Start("b", func(schema.Frame) {})
	if !e.IsCapturing("a") || !e.IsCapturing("b") {
		t.Fatalf("expected both sessions capturing")
	}
	e.StopAll()
	if e.IsCapturing("a") || e.IsCapturing("b") {
		t.Fatalf("expected no sessions capturing")
	}
	e.Close()

	// Start after close is refused.
	e.Start("c", func(schema.Frame) {})
	if e.IsCapturing("c") {
		t.Fatalf("expected start after close to be refused")
	}
}
