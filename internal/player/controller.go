/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player serializes playback requests into commands for the audio
// decoder chip, tracks them until acknowledged, and manages decoder power.
//
// A single Controller goroutine (Run) owns the state machine. Collaborators
// call the public operations from any goroutine; those only touch the Pool,
// the Queue and a handful of atomics.
package player

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/codec"
	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/telemetry"
)

var (
	// ErrNotFound indicates the requested media is absent on the decoder.
	ErrNotFound = errors.New("player: media not found")

	// ErrDeviceUnavailable indicates the decoder hung or its link lost power.
	ErrDeviceUnavailable = errors.New("player: decoder unavailable")

	// ErrPayloadTooLarge indicates a path that does not fit in one frame.
	ErrPayloadTooLarge = codec.ErrPayloadTooLarge

	// ErrAlreadyRunning indicates a second concurrent Run.
	ErrAlreadyRunning = errors.New("player: controller already running")

	// ErrClosed resolves work still pending when Run returns.
	ErrClosed = errors.New("player: controller stopped")
)

// State is the controller state machine position.
type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateAwaiting
	StateIdleCountdown
	StatePoweredDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateAwaiting:
		return "awaiting"
	case StateIdleCountdown:
		return "idle_countdown"
	case StatePoweredDown:
		return "powered_down"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is the playback status reported to collaborators.
type Status int32

const (
	StatusStopped Status = iota
	StatusPaused
	StatusSeeking
	StatusPlaying
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusPaused:
		return "paused"
	case StatusSeeking:
		return "seeking"
	case StatusPlaying:
		return "playing"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Controller drives the decoder. Construct one with New and start it with Run.
type Controller struct {
	cfg      Config
	link     codec.Link
	codec    *codec.Codec
	host     Host
	listener Listener
	bus      *events.Bus
	clock    clock.Clock
	logger   zerolog.Logger

	pool  *Pool
	queue *Queue

	// Owned by the Run goroutine.
	current   *Task
	parked    *Task
	powered   bool
	idleSince time.Time
	hangs     []time.Time

	state        atomic.Int32
	status       atomic.Int32
	volume       atomic.Int32
	targetVolume atomic.Int32
	latency      atomic.Int64
	inflight     atomic.Uint32
	grace        atomic.Int64
	poweredFlag  atomic.Bool
	running      atomic.Bool

	// enqueueMu keeps multi-task submissions adjacent in the queue.
	enqueueMu sync.Mutex

	// clears holds ClearPlaylist callers waiting for the Run goroutine.
	requestMu sync.Mutex
	clears    []chan int
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithListener registers collaborator callbacks. Repeated use adds
// listeners; they are called in registration order.
func WithListener(l Listener) Option {
	return func(c *Controller) {
		switch cur := c.listener.(type) {
		case NopListener:
			c.listener = l
		case Listeners:
			c.listener = append(cur, l)
		default:
			c.listener = Listeners{cur, l}
		}
	}
}

// WithEventBus publishes status, task and fault events onto bus.
func WithEventBus(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithInitialVolume starts at percent instead of the configured default. The
// level reaches the decoder with the first power-on.
func WithInitialVolume(percent int) Option {
	return func(c *Controller) {
		c.cfg.DefaultVolume = clamp(percent, c.cfg.MinVolume, c.cfg.MaxVolume)
	}
}

// WithIdleShutdownGrace overrides the configured idle grace period.
func WithIdleShutdownGrace(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.cfg.IdleShutdownGrace = d
		}
	}
}

// New creates a controller speaking to the decoder over link.
func New(cfg Config, link codec.Link, host Host, logger zerolog.Logger, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:      cfg,
		link:     link,
		codec:    codec.New(cfg.LengthConvention, cfg.AckPoll),
		host:     host,
		listener: NopListener{},
		clock:    clock.New(),
		logger:   logger.With().Str("component", "player").Logger(),
		pool:     NewPool(cfg.PoolCapacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = NewQueue(c.cfg.PoolCapacity, c.clock)
	c.volume.Store(int32(c.cfg.DefaultVolume))
	c.targetVolume.Store(int32(c.cfg.DefaultVolume))
	c.grace.Store(int64(c.cfg.IdleShutdownGrace))
	c.state.Store(int32(StatePoweredDown))
	return c
}

// Run drives the state machine until ctx is cancelled. Work still pending
// on return is resolved with ErrClosed and the decoder is powered down.
func (c *Controller) Run(ctx context.Context) error {
	c.requestMu.Lock()
	if !c.running.CompareAndSwap(false, true) {
		c.requestMu.Unlock()
		return ErrAlreadyRunning
	}
	c.requestMu.Unlock()

	c.logger.Info().
		Str("length_convention", c.cfg.LengthConvention.String()).
		Int("pool_capacity", c.cfg.PoolCapacity).
		Dur("ack_ceiling", c.cfg.AckCeiling).
		Msg("player controller started")

	for ctx.Err() == nil {
		c.step(ctx)
	}

	c.shutdown()

	c.requestMu.Lock()
	c.running.Store(false)
	c.requestMu.Unlock()
	c.serveClears()

	c.logger.Info().Msg("player controller stopped")
	return nil
}

// serveClears answers pending ClearPlaylist calls.
func (c *Controller) serveClears() {
	c.requestMu.Lock()
	pending := c.clears
	c.clears = nil
	c.requestMu.Unlock()

	for _, reply := range pending {
		reply <- c.clearPlaylist()
	}
}

// clearPlaylist drops queued requests, keeping busy polls and the
// controller's own tasks.
func (c *Controller) clearPlaylist() int {
	removed := c.queue.Remove(func(t *Task) bool { return !t.polling() && !t.internal })
	for _, t := range removed {
		c.resolve(t, Result{Outcome: OutcomeCancelled})
	}
	return len(removed)
}

// step advances the state machine by one transition or one bounded wait.
func (c *Controller) step(ctx context.Context) {
	c.serveClears()
	if c.current != nil {
		c.service(ctx)
		return
	}
	if t := c.parked; t != nil {
		c.parked = nil
		c.logger.Debug().Str("kind", t.kind.String()).Str("request_id", t.requestID).Msg("resuming parked task")
		c.begin(ctx, t)
		return
	}
	if c.queue.HasWork() {
		c.begin(ctx, c.queue.Pop())
		return
	}
	c.idle(ctx)
}

// idle runs one idle tick: due busy polls, the shutdown countdown, or a
// bounded wait for new work.
func (c *Controller) idle(ctx context.Context) {
	c.listener.OnIdle()
	wait := c.cfg.IdleTick
	now := c.clock.Now()

	if head := c.queue.Peek(); head != nil {
		// Only busy polls are queued: a track is playing.
		c.cancelCountdown()
		c.setState(StateIdle)
		if !now.Before(head.nextPollAt) {
			c.begin(ctx, c.queue.Pop())
			return
		}
		if d := head.nextPollAt.Sub(now); d < wait {
			wait = d
		}
		c.queue.Wait(ctx, wait)
		return
	}

	if !c.powered {
		c.setState(StatePoweredDown)
		c.begin(ctx, c.queue.PopWait(ctx, wait))
		return
	}

	if c.idleSince.IsZero() {
		c.idleSince = now
		c.setState(StateIdleCountdown)
		c.logger.Debug().Dur("grace", c.IdleShutdownGrace()).Msg("idle countdown started")
	}
	grace := c.IdleShutdownGrace()
	elapsed := now.Sub(c.idleSince)
	if elapsed >= grace {
		c.idleSince = time.Time{}
		c.beginPowerOff(ctx)
		return
	}
	if d := grace - elapsed; d < wait {
		wait = d
	}
	c.begin(ctx, c.queue.PopWait(ctx, wait))
}

func (c *Controller) cancelCountdown() {
	if !c.idleSince.IsZero() {
		c.idleSince = time.Time{}
		c.logger.Debug().Msg("idle countdown cancelled")
	}
}

func (c *Controller) setCurrent(t *Task) {
	c.current = t
	t.owner = ownerCurrent
	c.inflight.Store(uint32(t.kind))
}

func (c *Controller) clearCurrent() {
	c.current = nil
	c.inflight.Store(uint32(KindNone))
}

// finish resolves the current task and clears the slot.
func (c *Controller) finish(t *Task, res Result) {
	if c.current == t {
		c.clearCurrent()
	}
	c.resolve(t, res)
}

// notify hands res to a waiting caller at most once.
func (c *Controller) notify(t *Task, res Result) {
	if t.waiter == nil {
		return
	}
	select {
	case t.waiter <- res:
	default:
	}
	t.waiter = nil
}

// resolve delivers the final result and returns t to the pool.
func (c *Controller) resolve(t *Task, res Result) {
	t.outcome = res.Outcome
	t.code = res.Code
	c.notify(t, res)

	if t.holdsMute {
		t.holdsMute = false
		if err := c.host.Unmute(); err != nil {
			c.logger.Warn().Err(err).Msg("unmute after probe failed")
		}
	}

	telemetry.PlayerTasksTotal.WithLabelValues(t.kind.String(), res.Outcome.String()).Inc()
	if span := t.span; span != nil {
		telemetry.AddSpanAttributes(span, map[string]any{
			"outcome":  res.Outcome.String(),
			"attempts": t.attempts,
		})
		telemetry.RecordError(span, res.Err)
		span.End()
		t.span = nil
	}

	ev := c.logger.Debug()
	if res.Outcome == OutcomeFailed {
		ev = c.logger.Warn()
	}
	ev.Str("kind", t.kind.String()).
		Str("request_id", t.requestID).
		Str("outcome", res.Outcome.String()).
		Int("attempts", t.attempts).
		Err(res.Err).
		Msg("task resolved")

	if !t.internal {
		c.publish(events.EventPlayerTask, events.Payload{
			"request_id": t.requestID,
			"kind":       t.kind.String(),
			"outcome":    res.Outcome.String(),
			"path":       t.path,
		})
	}
	c.release(t)
}

func (c *Controller) release(t *Task) {
	if err := c.pool.Release(t.handle); err != nil {
		telemetry.PlayerStaleReleases.Inc()
		c.logger.Error().Err(err).Str("kind", t.kind.String()).Msg("task released twice")
	}
}

// flush resolves every parked and queued task with res.
func (c *Controller) flush(res Result) int {
	n := 0
	if t := c.parked; t != nil {
		c.parked = nil
		c.resolve(t, res)
		n++
	}
	for _, t := range c.queue.Flush() {
		c.resolve(t, res)
		n++
	}
	if n > 0 {
		c.logger.Debug().Int("count", n).Msg("flushed pending tasks")
	}
	return n
}

// shutdown cancels outstanding work when Run exits.
func (c *Controller) shutdown() {
	res := Result{Outcome: OutcomeCancelled, Err: ErrClosed}
	if t := c.current; t != nil {
		c.finish(t, res)
	}
	c.flush(res)
	if c.powered {
		c.powerDown()
	}
	c.setState(StatePoweredDown)
}

func (c *Controller) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.logger.Debug().Str("from", old.String()).Str("to", s.String()).Msg("state transition")
	}
}

func (c *Controller) setStatus(s Status) {
	if old := Status(c.status.Swap(int32(s))); old != s {
		c.publish(events.EventPlayerStatus, events.Payload{"status": s.String()})
	}
}

func (c *Controller) publish(t events.EventType, p events.Payload) {
	if c.bus != nil {
		c.bus.Publish(t, p)
	}
}

// observeLatency folds one ack round trip into the rolling average.
func (c *Controller) observeLatency(d time.Duration) {
	telemetry.PlayerAckLatency.Observe(d.Seconds())
	old := time.Duration(c.latency.Load())
	if old == 0 {
		c.latency.Store(int64(d))
		return
	}
	c.latency.Store(int64(old + (d-old)/8))
}

// startSpan opens the tracing span of a dispatched task.
func (c *Controller) startSpan(ctx context.Context, t *Task) {
	if t.span != nil {
		return
	}
	_, span := telemetry.StartSpan(ctx, "player", "player."+t.kind.String())
	telemetry.AddSpanAttributes(span, map[string]any{
		"request_id": t.requestID,
		"priority":   int(t.priority),
		"phase":      t.phase.String(),
	})
	t.span = span
}
