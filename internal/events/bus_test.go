package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscribedTypes(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPlayerStatus, EventPlayerPower)
	defer bus.Unsubscribe(sub)

	bus.Publish(EventPlayerStatus, Payload{"status": "playing"})
	bus.Publish(EventPlayerTask, Payload{"kind": "play"})
	bus.Publish(EventPlayerPower, Payload{"powered": true})

	want := []EventType{EventPlayerStatus, EventPlayerPower}
	for _, typ := range want {
		select {
		case ev := <-sub:
			if ev.Type != typ {
				t.Fatalf("got %s, want %s", ev.Type, typ)
			}
			if ev.At.IsZero() {
				t.Fatal("event timestamp not set")
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}

	select {
	case ev := <-sub:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPlayerTask)

	for i := 0; i < 100; i++ {
		bus.Publish(EventPlayerTask, Payload{"i": i})
	}
	if got := len(sub); got != cap(sub) {
		t.Fatalf("buffered %d events, want %d", got, cap(sub))
	}

	bus.Unsubscribe(sub)
	for range sub {
	}
	// Unsubscribing twice must not panic on a closed channel.
	bus.Unsubscribe(sub)
}
