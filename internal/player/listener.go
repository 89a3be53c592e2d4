/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"github.com/friendsincode/talkclock/internal/events"
)

// Host is the environment the controller drives. Implementations decide how
// power and muting are physically toggled.
type Host interface {
	IsLinkPowered() bool
	PowerOn() error
	PowerOff() error
	Mute() error
	Unmute() error
}

// HardResetter is implemented by hosts that can reset the decoder outright.
// The controller calls it after repeated hangs.
type HardResetter interface {
	HardReset() error
}

// Listener receives controller callbacks. Methods run on the controller
// goroutine and must not block.
type Listener interface {
	// OnIdle fires on every idle tick while no real work is queued or current.
	OnIdle()
	// OnStopping fires just before a Stop is honored.
	OnStopping()
	// OnPowerChanged fires after the decoder is powered on or off.
	OnPowerChanged(powered bool)
}

// NopListener ignores every callback.
type NopListener struct{}

func (NopListener) OnIdle()             {}
func (NopListener) OnStopping()         {}
func (NopListener) OnPowerChanged(bool) {}

// Listeners fans callbacks out to several listeners in order.
type Listeners []Listener

func (ls Listeners) OnIdle() {
	for _, l := range ls {
		l.OnIdle()
	}
}

func (ls Listeners) OnStopping() {
	for _, l := range ls {
		l.OnStopping()
	}
}

func (ls Listeners) OnPowerChanged(powered bool) {
	for _, l := range ls {
		l.OnPowerChanged(powered)
	}
}

// EventListener publishes callbacks onto the in-process event bus. Idle ticks
// are not published; they fire far too often to be useful downstream.
type EventListener struct {
	Bus *events.Bus
}

func (l EventListener) OnIdle() {}

func (l EventListener) OnStopping() {
	l.Bus.Publish(events.EventPlayerStopping, events.Payload{})
}

func (l EventListener) OnPowerChanged(powered bool) {
	l.Bus.Publish(events.EventPlayerPower, events.Payload{"powered": powered})
}
