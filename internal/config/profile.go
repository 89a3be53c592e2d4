/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/talkclock/internal/codec"
	"github.com/friendsincode/talkclock/internal/host"
	"github.com/friendsincode/talkclock/internal/player"
)

// Profile describes one decoder board variant. Zero values keep the
// controller defaults.
//
//	length_convention: compact
//	ack_ceiling: 1500ms
//	volume:
//	  max: 80
//	  device_max_level: 30
//	hooks:
//	  power_on: gpioset gpiochip0 17=1
type Profile struct {
	Name             string        `yaml:"name"`
	LengthConvention string        `yaml:"length_convention"`
	PoolCapacity     int           `yaml:"pool_capacity"`
	AckPoll          time.Duration `yaml:"ack_poll"`
	AckCeiling       time.Duration `yaml:"ack_ceiling"`
	BusyPoll         time.Duration `yaml:"busy_poll"`
	IdleTick         time.Duration `yaml:"idle_tick"`
	IdleGrace        time.Duration `yaml:"idle_grace"`
	PowerSettle      time.Duration `yaml:"power_settle"`

	HangReset struct {
		Threshold int           `yaml:"threshold"`
		Window    time.Duration `yaml:"window"`
	} `yaml:"hang_reset"`

	Volume struct {
		Min            int `yaml:"min"`
		Max            int `yaml:"max"`
		Default        int `yaml:"default"`
		Step           int `yaml:"step"`
		DeviceMaxLevel int `yaml:"device_max_level"`
	} `yaml:"volume"`

	Hooks host.Commands `yaml:"hooks"`
}

// LoadProfile reads a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if _, err := codec.ParseLengthConvention(p.LengthConvention); err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.Name, err)
	}
	v := p.Volume
	if v.Min < 0 || v.Max < 0 || v.Max > 100 || (v.Max > 0 && v.Min > v.Max) {
		return nil, fmt.Errorf("profile %s: invalid volume range %d..%d", p.Name, v.Min, v.Max)
	}
	if v.DeviceMaxLevel < 0 || v.DeviceMaxLevel > 255 {
		return nil, fmt.Errorf("profile %s: invalid device_max_level %d", p.Name, v.DeviceMaxLevel)
	}
	return &p, nil
}

// Player returns the controller tuning for the loaded profile.
func (c *Config) Player() (player.Config, error) {
	p := c.Profile
	lc, err := codec.ParseLengthConvention(p.LengthConvention)
	if err != nil {
		return player.Config{}, err
	}
	return player.Config{
		PoolCapacity:       p.PoolCapacity,
		AckPoll:            p.AckPoll,
		AckCeiling:         p.AckCeiling,
		BusyPollInterval:   p.BusyPoll,
		IdleTick:           p.IdleTick,
		IdleShutdownGrace:  p.IdleGrace,
		PowerSettle:        p.PowerSettle,
		HangResetThreshold: p.HangReset.Threshold,
		HangResetWindow:    p.HangReset.Window,
		MinVolume:          p.Volume.Min,
		MaxVolume:          p.Volume.Max,
		DefaultVolume:      p.Volume.Default,
		VolumeStep:         p.Volume.Step,
		DeviceMaxLevel:     p.Volume.DeviceMaxLevel,
		LengthConvention:   lc,
	}, nil
}
