/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/telemetry"
)

func (c *Controller) setPowered(on bool) {
	if c.powered == on {
		return
	}
	c.powered = on
	c.poweredFlag.Store(on)
	if on {
		telemetry.PlayerPowered.Set(1)
	} else {
		telemetry.PlayerPowered.Set(0)
	}
	c.logger.Info().Bool("powered", on).Msg("decoder power changed")
	c.listener.OnPowerChanged(on)
}

// deviceHung escalates an ack ceiling breach: every pending task is
// discarded and the decoder is forced off.
func (c *Controller) deviceHung(t *Task) {
	telemetry.PlayerDeviceHangs.Inc()
	c.logger.Error().
		Str("kind", t.kind.String()).
		Str("command", t.command.String()).
		Str("request_id", t.requestID).
		Int("attempts", t.attempts).
		Dur("ceiling", c.cfg.AckCeiling).
		Msg("decoder did not acknowledge, presumed hung")

	c.finish(t, Result{Outcome: OutcomeFailed, Err: ErrDeviceUnavailable})
	c.flush(Result{Outcome: OutcomeCancelled, Err: ErrDeviceUnavailable})

	if c.host.IsLinkPowered() {
		if err := c.host.Mute(); err != nil {
			c.logger.Warn().Err(err).Msg("mute failed")
		}
		if err := c.host.PowerOff(); err != nil {
			c.logger.Error().Err(err).Msg("decoder power off failed")
		}
	}
	c.setStatus(StatusStopped)
	c.setPowered(false)
	c.setState(StatePoweredDown)
	c.publish(events.EventPlayerFault, events.Payload{"fault": "device_hung", "kind": t.kind.String()})

	c.recordHang()
}

// recordHang requests a hard reset once hangs cluster inside the window.
func (c *Controller) recordHang() {
	now := c.clock.Now()
	cutoff := now.Add(-c.cfg.HangResetWindow)
	kept := c.hangs[:0]
	for _, at := range c.hangs {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	c.hangs = append(kept, now)

	if len(c.hangs) < c.cfg.HangResetThreshold {
		return
	}
	resetter, ok := c.host.(HardResetter)
	if !ok {
		c.logger.Warn().Int("hangs", len(c.hangs)).Msg("repeated hangs but host cannot hard reset")
		return
	}
	c.hangs = c.hangs[:0]
	telemetry.PlayerHardResets.Inc()
	if err := resetter.HardReset(); err != nil {
		c.logger.Error().Err(err).Msg("hard reset failed")
		return
	}
	c.logger.Warn().Msg("decoder hard reset after repeated hangs")
}

// linkDown cancels all work when the link has lost power. Nothing is
// flushed through the dead link.
func (c *Controller) linkDown() {
	telemetry.PlayerLinkDowns.Inc()
	c.logger.Warn().Msg("link unpowered, cancelling pending work")

	res := Result{Outcome: OutcomeCancelled, Err: ErrDeviceUnavailable}
	if t := c.current; t != nil {
		c.finish(t, res)
	}
	c.flush(res)
	c.setStatus(StatusStopped)
	c.setPowered(false)
	c.setState(StatePoweredDown)
	c.publish(events.EventPlayerFault, events.Payload{"fault": "link_down"})
}

// deviceLevel maps a volume percentage onto the decoder's level range.
func (c *Controller) deviceLevel(percent int) int {
	return clamp(percent, c.cfg.MinVolume, c.cfg.MaxVolume) * c.cfg.DeviceMaxLevel / 100
}
