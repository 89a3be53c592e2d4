/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"time"

	"github.com/friendsincode/talkclock/internal/codec"
)

// Config holds controller tuning. Zero fields take the defaults below.
type Config struct {
	PoolCapacity int

	// AckPoll is the read deadline of one ack attempt.
	AckPoll time.Duration
	// AckCeiling is how long a transmitted command may go unacknowledged
	// before the decoder is presumed hung.
	AckCeiling time.Duration

	BusyPollInterval  time.Duration
	IdleTick          time.Duration
	IdleShutdownGrace time.Duration
	PowerSettle       time.Duration

	// HangResetThreshold hangs within HangResetWindow trigger a hard reset.
	HangResetThreshold int
	HangResetWindow    time.Duration

	MinVolume      int
	MaxVolume      int
	DefaultVolume  int
	VolumeStep     int
	DeviceMaxLevel int

	LengthConvention codec.LengthConvention
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		PoolCapacity:       16,
		AckPoll:            50 * time.Millisecond,
		AckCeiling:         1500 * time.Millisecond,
		BusyPollInterval:   250 * time.Millisecond,
		IdleTick:           100 * time.Millisecond,
		IdleShutdownGrace:  250 * time.Millisecond,
		PowerSettle:        200 * time.Millisecond,
		HangResetThreshold: 3,
		HangResetWindow:    5 * time.Minute,
		MinVolume:          0,
		MaxVolume:          100,
		DefaultVolume:      50,
		VolumeStep:         10,
		DeviceMaxLevel:     30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolCapacity <= 0 {
		c.PoolCapacity = d.PoolCapacity
	}
	if c.AckPoll <= 0 {
		c.AckPoll = d.AckPoll
	}
	if c.AckCeiling <= 0 {
		c.AckCeiling = d.AckCeiling
	}
	if c.BusyPollInterval <= 0 {
		c.BusyPollInterval = d.BusyPollInterval
	}
	if c.IdleTick <= 0 {
		c.IdleTick = d.IdleTick
	}
	if c.IdleShutdownGrace <= 0 {
		c.IdleShutdownGrace = d.IdleShutdownGrace
	}
	if c.PowerSettle == 0 {
		c.PowerSettle = d.PowerSettle
	} else if c.PowerSettle < 0 {
		// negative disables the settle gate
		c.PowerSettle = 0
	}
	if c.HangResetThreshold <= 0 {
		c.HangResetThreshold = d.HangResetThreshold
	}
	if c.HangResetWindow <= 0 {
		c.HangResetWindow = d.HangResetWindow
	}
	if c.MaxVolume <= 0 || c.MaxVolume > 100 {
		c.MaxVolume = d.MaxVolume
	}
	if c.MinVolume < 0 || c.MinVolume > c.MaxVolume {
		c.MinVolume = 0
	}
	if c.DefaultVolume <= 0 {
		c.DefaultVolume = d.DefaultVolume
	}
	c.DefaultVolume = clamp(c.DefaultVolume, c.MinVolume, c.MaxVolume)
	if c.VolumeStep <= 0 {
		c.VolumeStep = d.VolumeStep
	}
	if c.DeviceMaxLevel <= 0 || c.DeviceMaxLevel > 255 {
		c.DeviceMaxLevel = d.DeviceMaxLevel
	}
	return c
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
