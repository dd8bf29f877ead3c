// Package bus fans events out to subscribers keyed by event kind.
//
// Delivery is asynchronous by default: each subscription owns a buffered
// queue drained by its own worker, which keeps per-handler order without
// letting one slow handler stall its siblings. A synchronous bus exists for
// tests. Handlers that panic are logged and isolated.
package bus

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"

	"sessioncast.io/agent/schema"
)

const queueDepth = 256

const closeGrace = 5 * time.Second

// Handler consumes one event.
type Handler func(schema.Event)

// Subscription is the disposable capability returned by Subscribe. Dispose
// is idempotent; once it returns, the handler is not invoked for any event
// published afterwards.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Dispose removes the subscription from the bus.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// subscriber state is guarded by the bus mutex; the queue is closed exactly
// once, under that mutex, when the subscriber is removed or the bus closes.
type subscriber struct {
	handler Handler
	queue   chan schema.Event
	done    bool
}

// Bus routes published events to kind-matched subscribers plus the
// subscribe-all set.
type Bus struct {
	mu     sync.Mutex
	subs   map[schema.EventKind][]*subscriber
	closed bool
	inline bool
	wg     sync.WaitGroup
	logger pslog.Logger
}

// New constructs an asynchronous Bus.
func New(logger pslog.Logger) *Bus {
	return &Bus{subs: make(map[schema.EventKind][]*subscriber), logger: logger}
}

// NewSync constructs a Bus that delivers inline on the publisher's
// goroutine, in publish order. Intended for tests.
func NewSync(logger pslog.Logger) *Bus {
	b := New(logger)
	b.inline = true
	return b
}

func (b *Bus) log() pslog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return pslog.Ctx(context.Background())
}

// Subscribe registers handler for events of the given kind and returns its
// disposable handle.
func (b *Bus) Subscribe(kind schema.EventKind, handler Handler) *Subscription {
	sub := &subscriber{handler: handler}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &Subscription{cancel: func() {}}
	}
	if !b.inline {
		sub.queue = make(chan schema.Event, queueDepth)
		b.wg.Add(1)
		go b.drain(sub)
	}
	// Copy-on-write so synchronous dispatch iterates a stable slice
	// without holding the lock.
	b.subs[kind] = append(append([]*subscriber(nil), b.subs[kind]...), sub)
	b.mu.Unlock()

	return &Subscription{cancel: func() { b.remove(kind, sub) }}
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	return b.Subscribe(schema.KindAny, handler)
}

// Publish delivers event to subscribers of its kind and to subscribe-all
// handlers. Asynchronous delivery is best-effort: a subscriber whose queue
// is full drops the event rather than blocking the publisher.
func (b *Bus) Publish(event schema.Event) {
	if event.Kind == "" {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	targets := b.subs[event.Kind]
	if event.Kind != schema.KindAny {
		targets = append(append([]*subscriber(nil), targets...), b.subs[schema.KindAny]...)
	}
	if b.inline {
		b.mu.Unlock()
		for _, sub := range targets {
			b.invoke(sub.handler, event)
		}
		return
	}

	dropped := 0
	for _, sub := range targets {
		if sub.done {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log().Debug("event bus dropped", "kind", event.Kind, "count", dropped)
	}
}

// Close stops delivery and waits up to the grace period for queued events
// to drain. After Close returns, Publish is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, sub := range list {
			if !sub.done {
				sub.done = true
				if sub.queue != nil {
					close(sub.queue)
				}
			}
		}
	}
	b.subs = make(map[schema.EventKind][]*subscriber)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeGrace):
		b.log().Warn("event bus workers did not drain in time")
	}
}

func (b *Bus) remove(kind schema.EventKind, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[kind]
	next := make([]*subscriber, 0, len(list))
	for _, s := range list {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(b.subs, kind)
	} else {
		b.subs[kind] = next
	}
	if !sub.done {
		sub.done = true
		if sub.queue != nil {
			close(sub.queue)
		}
	}
}

func (b *Bus) drain(sub *subscriber) {
	defer b.wg.Done()
	for event := range sub.queue {
		b.invoke(sub.handler, event)
	}
}

func (b *Bus) invoke(handler Handler, event schema.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log().Error("event handler panicked", "kind", event.Kind, "panic", r)
		}
	}()
	handler(event)
}
