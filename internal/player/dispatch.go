/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/talkclock/internal/codec"
)

// begin makes t current and starts it: a local gate, a local decision, or a
// transmission.
func (c *Controller) begin(ctx context.Context, t *Task) {
	if t == nil {
		return
	}
	c.cancelCountdown()

	if t.kind.needsPower() && !c.powered {
		if c.beginPowerOn(ctx, t) {
			return
		}
	}

	c.setCurrent(t)
	t.outcome = OutcomeInProgress
	c.setState(StateDispatching)
	c.startSpan(ctx, t)

	now := c.clock.Now()
	switch t.kind {
	case KindFade:
		t.gateUntil = now.Add(t.fade)
		c.setState(StateAwaiting)
		return

	case KindPowerOn:
		c.powerUp()
		if c.cfg.PowerSettle > 0 {
			t.gateUntil = now.Add(c.cfg.PowerSettle)
			t.sendAfterGate = true
			c.setState(StateAwaiting)
			return
		}

	case KindPowerOff:
		if c.queue.HasWork() {
			c.finish(t, Result{Outcome: OutcomeDropped})
			return
		}
		c.powerDown()
		c.finish(t, Result{Outcome: OutcomeSuccess})
		c.setState(StatePoweredDown)
		return

	case KindPause:
		if c.Status() != StatusPlaying {
			c.finish(t, Result{Outcome: OutcomeDropped})
			return
		}

	case KindResume:
		if c.Status() != StatusPaused {
			c.finish(t, Result{Outcome: OutcomeDropped})
			return
		}

	case KindStop:
		if !t.internal {
			c.listener.OnStopping()
			if !c.deviceBusy() {
				// Nothing is playing: honor without touching the link.
				c.flush(Result{Outcome: OutcomeCancelled})
				c.finish(t, Result{Outcome: OutcomeSuccess})
				return
			}
		}

	case KindPeekFile:
		if err := c.host.Mute(); err != nil {
			c.logger.Warn().Err(err).Msg("mute before probe failed")
		}
		t.holdsMute = true
	}

	c.transmit(t)
}

// deviceBusy reports whether the decoder may be executing a command: a track
// is audible or seeking, or a parked task already reached the wire.
func (c *Controller) deviceBusy() bool {
	if c.Status() != StatusStopped {
		return true
	}
	return c.parked != nil && !c.parked.startedAt.IsZero()
}

// transmit writes the framed command of the current task and arms the ack
// ceiling.
func (c *Controller) transmit(t *Task) {
	if !c.host.IsLinkPowered() {
		c.linkDown()
		return
	}

	t.gateUntil = time.Time{}
	t.sendAfterGate = false
	t.startedAt = c.clock.Now()
	t.attempts = 0

	if _, err := c.link.Write(t.Frame()); err != nil {
		// The ack ceiling escalates if the write never reached the decoder.
		c.logger.Warn().Err(err).Str("command", t.command.String()).Msg("link write failed")
	}

	if t.kind.IsPlayback() && !t.polling() {
		c.setStatus(StatusSeeking)
	}
	c.setState(StateAwaiting)
}

// beginPowerOn runs a synthesized PowerOn ahead of t. It reports false when
// no slot was free and the decoder was powered inline instead.
func (c *Controller) beginPowerOn(ctx context.Context, t *Task) bool {
	p, err := c.pool.Acquire()
	if err != nil {
		c.logger.Warn().Err(err).Msg("no slot for power-on task; powering inline")
		c.powerUp()
		return false
	}
	p.kind = KindPowerOn
	p.priority = PriorityPower
	p.internal = true
	p.requestID = uuid.NewString()
	// Decoders forget their volume across power cycles; the power-on ack
	// doubles as the volume restore.
	level := c.deviceLevel(c.Volume())
	if err := p.encode(c.codec, codec.CmdSetVolume, []byte{byte(level)}); err != nil {
		c.release(p)
		c.powerUp()
		return false
	}

	if err := c.queue.PushFront(t); err != nil {
		c.resolve(t, Result{Outcome: OutcomeFailed, Err: err})
	}
	c.begin(ctx, p)
	return true
}

// beginPowerOff dispatches the idle shutdown.
func (c *Controller) beginPowerOff(ctx context.Context) {
	t, err := c.pool.Acquire()
	if err != nil {
		c.powerDown()
		c.setState(StatePoweredDown)
		return
	}
	t.kind = KindPowerOff
	t.priority = PriorityBackground
	t.internal = true
	t.requestID = uuid.NewString()
	c.begin(ctx, t)
}

func (c *Controller) powerUp() {
	if err := c.host.PowerOn(); err != nil {
		c.logger.Error().Err(err).Msg("decoder power on failed")
	}
	if err := c.host.Unmute(); err != nil {
		c.logger.Warn().Err(err).Msg("unmute failed")
	}
	c.setPowered(true)
}

func (c *Controller) powerDown() {
	if err := c.host.Mute(); err != nil {
		c.logger.Warn().Err(err).Msg("mute failed")
	}
	if err := c.host.PowerOff(); err != nil {
		c.logger.Error().Err(err).Msg("decoder power off failed")
	}
	c.setStatus(StatusStopped)
	c.setPowered(false)
}

// chainStop silences a successful probe. The stop inherits the probe's mute.
func (c *Controller) chainStop() {
	t, err := c.pool.Acquire()
	if err != nil {
		// No slot: fire the stop without waiting for its ack.
		frame, _, _ := c.codec.Encode(codec.CmdStop, nil)
		if _, err := c.link.Write(frame); err != nil {
			c.logger.Warn().Err(err).Msg("probe stop write failed")
		}
		if err := c.host.Unmute(); err != nil {
			c.logger.Warn().Err(err).Msg("unmute failed")
		}
		return
	}
	t.kind = KindStop
	t.priority = PriorityUrgent
	t.internal = true
	t.holdsMute = true
	t.requestID = uuid.NewString()
	_ = t.encode(c.codec, codec.CmdStop, nil)
	if err := c.queue.PushFront(t); err != nil {
		c.resolve(t, Result{Outcome: OutcomeCancelled, Err: err})
	}
}
