package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sessioncast.io/agent/schema"
)

func TestSyncDeliveryInPublishOrder(t *testing.T) {
	b := NewSync(nil)
	defer b.Close()

	var got []string
	b.Subscribe(schema.KindSessionCreated, func(e schema.Event) {
		got = append(got, e.Session)
	})

	b.Publish(schema.NewSessionCreatedEvent("one"))
	b.Publish(schema.NewSessionCreatedEvent("two"))
	b.Publish(schema.NewSessionCreatedEvent("three"))

	if len(got) != 3 || got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestKindFiltering(t *testing.T) {
	b := NewSync(nil)
	defer b.Close()

	var created, killed int
	b.Subscribe(schema.KindSessionCreated, func(schema.Event) { created++ })
	b.Subscribe(schema.KindSessionKilled, func(schema.Event) { killed++ })

	b.Publish(schema.NewSessionCreatedEvent("s"))
	b.Publish(schema.NewSessionCreatedEvent("s"))
	b.Publish(schema.NewSessionKilledEvent("s"))

	if created != 2 || killed != 1 {
		t.Fatalf("expected 2 created / 1 killed, got %d / %d", created, killed)
	}
}

func TestSubscribeAllSeesEveryKind(t *testing.T) {
	b := NewSync(nil)
	defer b.Close()

	var all int
	b.SubscribeAll(func(schema.Event) { all++ })

	b.Publish(schema.NewConnectedEvent("m1"))
	b.Publish(schema.NewSessionCreatedEvent("s"))
	b.Publish(schema.NewErrorEvent("WS_ERROR", "boom"))

	if all != 3 {
		t.Fatalf("expected 3 deliveries, got %d", all)
	}
}

func TestAsyncDelivery(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var count atomic.Int32
	b.Subscribe(schema.KindConnected, func(schema.Event) { count.Add(1) })

	b.Publish(schema.NewConnectedEvent("m1"))

	deadline := time.Now().Add(time.Second)
	for count.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("event not delivered")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAsyncPerHandlerOrder(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	b.Subscribe(schema.KindSessionCreated, func(e schema.Event) {
		mu.Lock()
		got = append(got, e.Session)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})

	b.Publish(schema.NewSessionCreatedEvent("one"))
	b.Publish(schema.NewSessionCreatedEvent("two"))
	b.Publish(schema.NewSessionCreatedEvent("three"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for deliveries")
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestDisposeStopsDelivery(t *testing.T) {
	b := NewSync(nil)
	defer b.Close()

	var count int
	sub := b.Subscribe(schema.KindConnected, func(schema.Event) { count++ })

	b.Publish(schema.NewConnectedEvent("m1"))
	sub.Dispose()
	sub.Dispose() // idempotent
	b.Publish(schema.NewConnectedEvent("m1"))

	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}

func TestHandlerPanicDoesNotAffectSiblings(t *testing.T) {
	b := NewSync(nil)
	defer b.Close()

	var survived bool
	b.Subscribe(schema.KindConnected, func(schema.Event) { panic("bad handler") })
	b.Subscribe(schema.KindConnected, func(schema.Event) { survived = true })

	b.Publish(schema.NewConnectedEvent("m1"))

	if !survived {
		t.Fatalf("sibling handler must still run")
	}
}

func TestCloseStopsPublishing(t *testing.T) {
	b := NewSync(nil)
	var count int
	b.Subscribe(schema.KindConnected, func(schema.Event) { count++ })
	b.Close()
	b.Publish(schema.NewConnectedEvent("m1"))
	if count != 0 {
		t.Fatalf("expected no delivery after close, got %d", count)
	}

	// Subscribing after close yields an inert subscription.
	sub := b.Subscribe(schema.KindConnected, func(schema.Event) { count++ })
	sub.Dispose()
	if count != 0 {
		t.Fatalf("expected inert subscription after close")
	}
}
