package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnected, UserID: "u1", Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != KindConnected {
			t.Errorf("got kind %q, want %q", evt.Kind, KindConnected)
		}
		if evt.UserID != "u1" {
			t.Errorf("got user %q, want u1", evt.UserID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnected})
	b.Publish(Event{Kind: KindMessage})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUserFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeUser("session.", "u1", 10)
	defer unsub()

	b.Publish(Event{Kind: KindQR, UserID: "u2"})
	b.Publish(Event{Kind: KindQR, UserID: "u1"})

	select {
	case evt := <-ch:
		if evt.UserID != "u1" {
			t.Errorf("received event for user %q, want u1 only", evt.UserID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("cross-tenant event leaked: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: KindConnected})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
