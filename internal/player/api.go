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

// newTask checks out a task for a collaborator request.
func (c *Controller) newTask(kind Kind, prio Priority, cmd codec.Command, payload []byte) (*Task, error) {
	t, err := c.pool.Acquire()
	if err != nil {
		return nil, err
	}
	t.kind = kind
	t.priority = prio
	t.requestID = uuid.NewString()
	if err := t.encode(c.codec, cmd, payload); err != nil {
		c.release(t)
		return nil, err
	}
	return t, nil
}

func (c *Controller) submit(t *Task) error {
	if err := c.queue.Push(t); err != nil {
		c.release(t)
		return err
	}
	return nil
}

// submitAndWait queues t and blocks until the controller resolves it.
func (c *Controller) submitAndWait(ctx context.Context, t *Task) (Result, error) {
	w := make(chan Result, 1)
	t.waiter = w
	if err := c.submit(t); err != nil {
		return Result{}, err
	}
	select {
	case res := <-w:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Play queues path for playback.
func (c *Controller) Play(path string) error {
	t, err := c.newTask(KindPlay, PriorityNormal, codec.CmdPlay, []byte(path))
	if err != nil {
		return err
	}
	t.path = path
	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()
	return c.submit(t)
}

// PlayLooping queues path to repeat until stopped.
func (c *Controller) PlayLooping(path string) error {
	t, err := c.newTask(KindPlayLoop, PriorityNormal, codec.CmdPlayLoop, []byte(path))
	if err != nil {
		return err
	}
	t.path = path
	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()
	return c.submit(t)
}

// QueueWithFade queues path behind whatever is playing. When the previous
// request is itself playback, a Fade gate of fade minus the average ack
// latency is inserted ahead of it.
func (c *Controller) QueueWithFade(path string, fade time.Duration) error {
	play, err := c.newTask(KindPlaylistQueue, PriorityNormal, codec.CmdPlay, []byte(path))
	if err != nil {
		return err
	}
	play.path = path

	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()

	if gap := fade - c.AverageLatency(); fade > 0 && gap > 0 && c.previousIsPlayback() {
		f, err := c.pool.Acquire()
		if err != nil {
			c.release(play)
			return err
		}
		f.kind = KindFade
		f.priority = PriorityNormal
		f.fade = gap
		f.requestID = uuid.NewString()
		if err := c.submit(f); err != nil {
			c.release(play)
			return err
		}
	}
	return c.submit(play)
}

// previousIsPlayback reports whether the request ahead of a new one is a
// track: the newest queued task, else whatever is in flight or audible.
func (c *Controller) previousIsPlayback() bool {
	if k, ok := c.queue.PeekTailKind(); ok {
		return k.IsPlayback()
	}
	if Kind(c.inflight.Load()).IsPlayback() {
		return true
	}
	s := c.Status()
	return s == StatusPlaying || s == StatusSeeking
}

// Pause pauses playback. It is a no-op when nothing is playing.
func (c *Controller) Pause() error {
	t, err := c.newTask(KindPause, PriorityControl, codec.CmdPause, nil)
	if err != nil {
		return err
	}
	return c.submit(t)
}

// Resume resumes paused playback. It is a no-op unless paused.
func (c *Controller) Resume() error {
	t, err := c.newTask(KindResume, PriorityControl, codec.CmdResume, nil)
	if err != nil {
		return err
	}
	return c.submit(t)
}

// Stop halts playback, discards queued work and blocks until honored. A
// Stop that was itself discarded by an earlier one counts as honored.
func (c *Controller) Stop(ctx context.Context) error {
	t, err := c.newTask(KindStop, PriorityUrgent, codec.CmdStop, nil)
	if err != nil {
		return err
	}
	res, err := c.submitAndWait(ctx, t)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case OutcomeSuccess, OutcomeCancelled:
		return nil
	default:
		if res.Err != nil {
			return res.Err
		}
		return ErrDeviceUnavailable
	}
}

// SetVolume clamps percent to the configured range and queues it. The value
// reported by Volume changes once the decoder acknowledges.
func (c *Controller) SetVolume(percent int) error {
	pct := clamp(percent, c.cfg.MinVolume, c.cfg.MaxVolume)
	t, err := c.newTask(KindSetVolume, PriorityControl, codec.CmdSetVolume, []byte{byte(c.deviceLevel(pct))})
	if err != nil {
		return err
	}
	t.volume = pct
	if err := c.submit(t); err != nil {
		return err
	}
	c.targetVolume.Store(int32(pct))
	return nil
}

// Volume returns the last acknowledged volume percentage.
func (c *Controller) Volume() int { return int(c.volume.Load()) }

// VolumeIncrease steps the volume up and returns the new target.
func (c *Controller) VolumeIncrease() (int, error) {
	return c.stepVolume(c.cfg.VolumeStep)
}

// VolumeDecrease steps the volume down and returns the new target.
func (c *Controller) VolumeDecrease() (int, error) {
	return c.stepVolume(-c.cfg.VolumeStep)
}

func (c *Controller) stepVolume(delta int) (int, error) {
	target := clamp(int(c.targetVolume.Load())+delta, c.cfg.MinVolume, c.cfg.MaxVolume)
	if err := c.SetVolume(target); err != nil {
		return int(c.targetVolume.Load()), err
	}
	return target, nil
}

// ClearPlaylist drops queued requests. A track already playing keeps
// playing; use Stop to silence it. While Run is active the removal happens
// on the controller goroutine.
func (c *Controller) ClearPlaylist() int {
	c.requestMu.Lock()
	if !c.running.Load() {
		c.requestMu.Unlock()
		return c.clearPlaylist()
	}
	reply := make(chan int, 1)
	c.clears = append(c.clears, reply)
	c.requestMu.Unlock()

	c.queue.signal()
	return <-reply
}

// FileExists probes the decoder for path. It blocks until the decoder
// answers, the decoder is found unavailable, or ctx ends.
func (c *Controller) FileExists(ctx context.Context, path string) bool {
	t, err := c.newTask(KindPeekFile, PriorityNormal, codec.CmdPlay, []byte(path))
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("file probe not queued")
		return false
	}
	t.path = path
	res, err := c.submitAndWait(ctx, t)
	return err == nil && res.Outcome == OutcomeExists
}

// Status returns the playback status.
func (c *Controller) Status() Status { return Status(c.status.Load()) }

// State returns the state machine position.
func (c *Controller) State() State { return State(c.state.Load()) }

// AverageLatency returns the rolling average ack latency.
func (c *Controller) AverageLatency() time.Duration { return time.Duration(c.latency.Load()) }

// SetIdleShutdownGrace changes how long the decoder stays powered once idle.
func (c *Controller) SetIdleShutdownGrace(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.grace.Store(int64(d))
}

// IdleShutdownGrace returns the current idle grace period.
func (c *Controller) IdleShutdownGrace() time.Duration { return time.Duration(c.grace.Load()) }

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State          State         `json:"state"`
	Status         Status        `json:"status"`
	Volume         int           `json:"volume"`
	TargetVolume   int           `json:"target_volume"`
	QueueLength    int           `json:"queue_length"`
	PoolInUse      int           `json:"pool_in_use"`
	PoolCapacity   int           `json:"pool_capacity"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	IdleGrace      time.Duration `json:"idle_grace_ns"`
	Powered        bool          `json:"powered"`
}

// Snapshot returns the current controller view.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		State:          c.State(),
		Status:         c.Status(),
		Volume:         c.Volume(),
		TargetVolume:   int(c.targetVolume.Load()),
		QueueLength:    c.queue.Len(),
		PoolInUse:      c.pool.InUse(),
		PoolCapacity:   c.pool.Capacity(),
		AverageLatency: c.AverageLatency(),
		IdleGrace:      c.IdleShutdownGrace(),
		Powered:        c.poweredFlag.Load(),
	}
}
