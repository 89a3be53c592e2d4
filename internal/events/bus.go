/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"time"
)

// EventType enumerates event categories.
type EventType string

const (
	// Player controller events.
	EventPlayerStatus   EventType = "player.status"
	EventPlayerTask     EventType = "player.task"
	EventPlayerVolume   EventType = "player.volume"
	EventPlayerStopping EventType = "player.stopping"
	EventPlayerPower    EventType = "player.power"
	EventPlayerFault    EventType = "player.fault"

	// Settings changes made through the control surface.
	EventSettingsChanged EventType = "settings.changed"
)

// AllPlayerEvents lists the event types bridged off-process.
var AllPlayerEvents = []EventType{
	EventPlayerStatus,
	EventPlayerTask,
	EventPlayerVolume,
	EventPlayerStopping,
	EventPlayerPower,
	EventPlayerFault,
	EventSettingsChanged,
}

// Payload generic event payload.
type Payload map[string]any

// Event is one published payload tagged with its type.
type Event struct {
	Type    EventType `json:"type"`
	Payload Payload   `json:"payload"`
	At      time.Time `json:"at"`
}

// Subscriber receives events.
type Subscriber chan Event

// Bus implements a simple in-process pubsub. Slow subscribers miss events
// rather than stall publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers one subscriber for every listed event type.
func (b *Bus) Subscribe(types ...EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers of eventType.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	ev := Event{Type: eventType, Payload: payload, At: time.Now().UTC()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Unsubscribe removes the subscriber from every type and closes it.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	found := false
	for t, subs := range b.subs {
		for i, candidate := range subs {
			if candidate == sub {
				b.subs[t] = append(subs[:i:i], subs[i+1:]...)
				found = true
				break
			}
		}
	}
	if found {
		close(sub)
	}
}
