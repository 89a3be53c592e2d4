/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package host supplies the environment hooks the player controller calls:
// decoder power, amplifier mute and link power sensing.
package host

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Commands are shell snippets run for each hook. Empty entries are no-ops.
// LinkProbe must exit zero while the link is powered; when unset the host
// assumes the link follows the decoder supply.
type Commands struct {
	PowerOn   string `yaml:"power_on"`
	PowerOff  string `yaml:"power_off"`
	Mute      string `yaml:"mute"`
	Unmute    string `yaml:"unmute"`
	LinkProbe string `yaml:"link_probe"`
	HardReset string `yaml:"hard_reset"`
}

// ExecHost drives the board through shell commands (gpioset, i2cset and
// friends).
type ExecHost struct {
	cmds    Commands
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	powered bool
	muted   bool
}

// NewExecHost creates a host running cmds with a per-command timeout.
func NewExecHost(cmds Commands, timeout time.Duration, logger zerolog.Logger) *ExecHost {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ExecHost{
		cmds:    cmds,
		timeout: timeout,
		logger:  logger.With().Str("component", "exec_host").Logger(),
	}
}

func (h *ExecHost) run(name, shellCmd string) error {
	if strings.TrimSpace(shellCmd) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", shellCmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		h.logger.Debug().Str("hook", name).Bytes("output", out).Err(err).Msg("host command failed")
		return fmt.Errorf("%s hook: %w", name, err)
	}
	return nil
}

// IsLinkPowered runs the link probe, or reports the last supply state.
func (h *ExecHost) IsLinkPowered() bool {
	if strings.TrimSpace(h.cmds.LinkProbe) != "" {
		return h.run("link_probe", h.cmds.LinkProbe) == nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.powered
}

// PowerOn switches the decoder supply on.
func (h *ExecHost) PowerOn() error {
	if err := h.run("power_on", h.cmds.PowerOn); err != nil {
		return err
	}
	h.mu.Lock()
	h.powered = true
	h.mu.Unlock()
	return nil
}

// PowerOff switches the decoder supply off.
func (h *ExecHost) PowerOff() error {
	h.mu.Lock()
	h.powered = false
	h.mu.Unlock()
	return h.run("power_off", h.cmds.PowerOff)
}

// Mute silences the amplifier.
func (h *ExecHost) Mute() error {
	if err := h.run("mute", h.cmds.Mute); err != nil {
		return err
	}
	h.mu.Lock()
	h.muted = true
	h.mu.Unlock()
	return nil
}

// Unmute enables the amplifier.
func (h *ExecHost) Unmute() error {
	if err := h.run("unmute", h.cmds.Unmute); err != nil {
		return err
	}
	h.mu.Lock()
	h.muted = false
	h.mu.Unlock()
	return nil
}

// Muted reports the last mute state set.
func (h *ExecHost) Muted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.muted
}

// HardReset runs the reset command, or power-cycles when none is set.
func (h *ExecHost) HardReset() error {
	if strings.TrimSpace(h.cmds.HardReset) != "" {
		return h.run("hard_reset", h.cmds.HardReset)
	}
	if err := h.PowerOff(); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return h.PowerOn()
}
