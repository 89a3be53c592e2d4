/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package host

import (
	"sync/atomic"

	"github.com/friendsincode/talkclock/internal/decodersim"
)

// SimHost powers a simulated decoder.
type SimHost struct {
	dev *decodersim.Device

	linkDown atomic.Bool
	muted    atomic.Bool

	powerOns  atomic.Int32
	powerOffs atomic.Int32
	resets    atomic.Int32
}

// NewSimHost wraps dev.
func NewSimHost(dev *decodersim.Device) *SimHost {
	return &SimHost{dev: dev}
}

// SetLinkDown simulates the link losing power.
func (h *SimHost) SetLinkDown(down bool) {
	h.linkDown.Store(down)
	if down {
		h.dev.SetPowered(false)
	}
}

func (h *SimHost) IsLinkPowered() bool {
	return !h.linkDown.Load() && h.dev.Powered()
}

func (h *SimHost) PowerOn() error {
	h.powerOns.Add(1)
	if !h.linkDown.Load() {
		h.dev.SetPowered(true)
	}
	return nil
}

func (h *SimHost) PowerOff() error {
	h.powerOffs.Add(1)
	h.dev.SetPowered(false)
	return nil
}

func (h *SimHost) Mute() error   { h.muted.Store(true); return nil }
func (h *SimHost) Unmute() error { h.muted.Store(false); return nil }

// HardReset resets the simulated chip.
func (h *SimHost) HardReset() error {
	h.resets.Add(1)
	h.dev.Reset()
	return nil
}

// Muted reports the amplifier state.
func (h *SimHost) Muted() bool { return h.muted.Load() }

// Counts returns how often power on, power off and hard reset ran.
func (h *SimHost) Counts() (powerOns, powerOffs, resets int) {
	return int(h.powerOns.Load()), int(h.powerOffs.Load()), int(h.resets.Load())
}
