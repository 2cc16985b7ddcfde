package eventbus

import (
	"testing"
	"time"

	"vtsched/internal/clock"
)

func TestPublishStampsVirtualTime(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	vc := clock.NewVirtual(start)
	b := New(vc)
	ch, unsub := b.Subscribe(4)
	defer unsub()

	vc.Advance(time.Minute)
	b.Publish(Event{Type: TypeClockAdvanced})

	select {
	case e := <-ch:
		if e.Type != TypeClockAdvanced {
			t.Fatalf("Type = %q", e.Type)
		}
		if !e.Time.Equal(start.Add(time.Minute)) {
			t.Fatalf("Time = %v, want virtual now", e.Time)
		}
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	b := New(nil)
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, must not block

	if e := <-ch; e.Type != "a" {
		t.Fatalf("first event = %q, want a", e.Type)
	}
	unsub()
	unsub() // idempotent
	b.Publish(Event{Type: "c"})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}
