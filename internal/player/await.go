/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/talkclock/internal/codec"
	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/telemetry"
)

// service advances the current task by one gate check or one ack attempt.
func (c *Controller) service(ctx context.Context) {
	t := c.current
	now := c.clock.Now()

	if t.gated() {
		if !now.Before(t.gateUntil) {
			if t.sendAfterGate {
				c.transmit(t)
				return
			}
			c.finish(t, Result{Outcome: OutcomeSuccess})
			return
		}
		if c.preempt(ctx) {
			return
		}
		wait := t.gateUntil.Sub(now)
		if wait > c.cfg.AckPoll {
			wait = c.cfg.AckPoll
		}
		c.queue.Wait(ctx, wait)
		return
	}

	if now.Sub(t.startedAt) > c.cfg.AckCeiling {
		c.deviceHung(t)
		return
	}

	pkt, err := c.codec.Decode(c.link)
	t.attempts++
	switch {
	case err == nil && pkt.Matches(t.command):
		c.observeLatency(c.clock.Now().Sub(t.startedAt))
		c.acknowledge(t, pkt)
		return
	case err == nil:
		telemetry.PlayerAckAttemptFailures.WithLabelValues("unexpected").Inc()
		c.logger.Debug().
			Str("expected", t.command.String()).
			Str("got", pkt.Command.String()).
			Msg("ignoring ack for another command")
	case codec.Retryable(err):
		reason := ackFailureReason(err)
		telemetry.PlayerAckAttemptFailures.WithLabelValues(reason).Inc()
		if reason != "timeout" {
			c.logger.Debug().Err(err).Str("reason", reason).Msg("bad ack, retrying")
		}
	default:
		telemetry.PlayerAckAttemptFailures.WithLabelValues("link").Inc()
		c.logger.Warn().Err(err).Msg("link read failed")
		c.queue.Wait(ctx, c.cfg.AckPoll)
	}

	if t.polling() && c.queue.HasWork() {
		// Real work overtakes a status poll.
		c.clearCurrent()
		c.reschedulePoll(t, 0)
		return
	}
	c.preempt(ctx)
}

// ackFailureReason labels a retryable decode error.
func ackFailureReason(err error) string {
	switch {
	case errors.Is(err, codec.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, codec.ErrBadFrame):
		return "bad_frame"
	default:
		return "timeout"
	}
}

// preempt parks the current task and dispatches the queue head when the
// head is a strictly more urgent Pause, Resume or Stop and the parking slot
// is free. The parked task resumes once the slot is next empty.
func (c *Controller) preempt(ctx context.Context) bool {
	if c.parked != nil {
		return false
	}
	t := c.current
	if t.kind == KindPowerOn {
		// The settle gate and volume restore must complete first.
		return false
	}
	head := c.queue.Peek()
	if head == nil || head.priority >= t.priority || !head.kind.preempts() {
		return false
	}

	telemetry.PlayerPreemptions.Inc()
	c.logger.Debug().
		Str("kind", t.kind.String()).
		Str("request_id", t.requestID).
		Str("by", head.kind.String()).
		Msg("parking task for more urgent work")

	c.clearCurrent()
	t.owner = ownerParked
	c.parked = t
	c.begin(ctx, c.queue.Pop())
	return true
}

// acknowledge interprets a matched ack according to what was asked.
func (c *Controller) acknowledge(t *Task, pkt codec.Packet) {
	telemetry.PlayerAcksTotal.WithLabelValues(t.command.String()).Inc()
	status := pkt.Status()

	if t.polling() {
		c.pollResult(t, status)
		return
	}

	switch t.kind {
	case KindPlay, KindPlayLoop, KindPlaylistQueue:
		if status != codec.StatusOK {
			c.setStatus(StatusStopped)
			c.finish(t, Result{Outcome: OutcomeNotFound, Code: status, Err: ErrNotFound})
			return
		}
		c.setStatus(StatusPlaying)
		c.notify(t, Result{Outcome: OutcomeNowPlaying})
		c.startBusyPoll(t)

	case KindPeekFile:
		if status != codec.StatusOK {
			c.finish(t, Result{Outcome: OutcomeNotFound, Code: status, Err: ErrNotFound})
			return
		}
		// The file is playing; the chained stop unmutes once it lands.
		t.holdsMute = false
		c.finish(t, Result{Outcome: OutcomeExists})
		c.chainStop()

	case KindPause:
		if status != codec.StatusOK {
			c.finish(t, Result{Outcome: OutcomeFailed, Code: status})
			return
		}
		c.setStatus(StatusPaused)
		c.finish(t, Result{Outcome: OutcomeSuccess})

	case KindResume:
		if status != codec.StatusOK {
			c.finish(t, Result{Outcome: OutcomeFailed, Code: status})
			return
		}
		c.setStatus(StatusPlaying)
		c.finish(t, Result{Outcome: OutcomeSuccess})

	case KindStop:
		c.setStatus(StatusStopped)
		if !t.internal {
			c.flush(Result{Outcome: OutcomeCancelled})
		}
		c.finish(t, Result{Outcome: OutcomeSuccess})

	case KindSetVolume:
		if status != codec.StatusOK {
			c.finish(t, Result{Outcome: OutcomeFailed, Code: status})
			return
		}
		c.volume.Store(int32(t.volume))
		c.publish(events.EventPlayerVolume, events.Payload{"volume": t.volume})
		c.finish(t, Result{Outcome: OutcomeSuccess})

	default:
		c.finish(t, Result{Outcome: OutcomeSuccess, Code: status})
	}
}

// startBusyPoll turns an acknowledged playback task into a status poll.
// Older polls belong to tracks the decoder already replaced.
func (c *Controller) startBusyPoll(t *Task) {
	c.clearCurrent()
	t.phase = PhasePollingBusy
	t.priority = PriorityIdle
	_ = t.encode(c.codec, codec.CmdQueryStatus, nil)

	for _, stale := range c.queue.Remove(func(o *Task) bool { return o.polling() }) {
		c.resolve(stale, Result{Outcome: OutcomeSuccess})
	}
	c.reschedulePoll(t, c.cfg.BusyPollInterval)
}

func (c *Controller) pollResult(t *Task, status byte) {
	switch status {
	case codec.StatusStopped:
		c.setStatus(StatusStopped)
		c.finish(t, Result{Outcome: OutcomeSuccess})
		return
	case codec.StatusPaused:
		c.setStatus(StatusPaused)
	case codec.StatusPlaying:
		c.setStatus(StatusPlaying)
	}
	c.clearCurrent()
	c.reschedulePoll(t, c.cfg.BusyPollInterval)
}

// reschedulePoll puts a poll back in the queue, due after delay.
func (c *Controller) reschedulePoll(t *Task, delay time.Duration) {
	t.nextPollAt = c.clock.Now().Add(delay)
	if span := t.span; span != nil {
		span.End()
		t.span = nil
	}
	if err := c.queue.Push(t); err != nil {
		c.resolve(t, Result{Outcome: OutcomeCancelled, Err: err})
	}
}
