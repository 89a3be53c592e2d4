/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/friendsincode/talkclock/internal/codec"
)

// Kind identifies what a task asks of the decoder.
type Kind uint8

const (
	KindNone Kind = iota
	KindPowerOn
	KindPowerOff
	KindPlay
	KindPlayLoop
	KindPause
	KindResume
	KindStop
	KindSetVolume
	KindPeekFile
	KindPlaylistQueue
	KindFade
)

var kindNames = [...]string{
	KindNone:          "none",
	KindPowerOn:       "power_on",
	KindPowerOff:      "power_off",
	KindPlay:          "play",
	KindPlayLoop:      "play_loop",
	KindPause:         "pause",
	KindResume:        "resume",
	KindStop:          "stop",
	KindSetVolume:     "set_volume",
	KindPeekFile:      "peek_file",
	KindPlaylistQueue: "playlist_queue",
	KindFade:          "fade",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsPlayback reports whether the kind starts a track.
func (k Kind) IsPlayback() bool {
	return k == KindPlay || k == KindPlayLoop || k == KindPlaylistQueue
}

// needsPower reports whether the decoder must be on before dispatch.
func (k Kind) needsPower() bool {
	switch k {
	case KindPlay, KindPlayLoop, KindPlaylistQueue, KindPeekFile, KindSetVolume:
		return true
	}
	return false
}

// preempts reports whether the kind may park an in-flight task.
func (k Kind) preempts() bool {
	return k == KindPause || k == KindResume || k == KindStop
}

// Phase is the lifecycle step of a task, orthogonal to its kind. A playback
// task that was acknowledged moves from PhaseSending to PhasePollingBusy and
// keeps its kind.
type Phase uint8

const (
	PhaseSending Phase = iota
	PhasePollingBusy
)

func (p Phase) String() string {
	if p == PhasePollingBusy {
		return "polling_busy"
	}
	return "sending"
}

// Priority orders queued work. Lower values are more urgent.
type Priority uint8

const (
	PriorityUrgent     Priority = 0
	PriorityPower      Priority = 1
	PriorityControl    Priority = 2
	PriorityNormal     Priority = 4
	PriorityBackground Priority = 6

	// PriorityIdle marks background polling that never counts as work.
	PriorityIdle Priority = 15
)

// Outcome is how a task resolved, or where it is on the way there.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeInProgress
	OutcomeSuccess
	OutcomeNowPlaying
	OutcomeExists
	OutcomeNotFound
	OutcomeDropped
	OutcomeCancelled
	OutcomeFailed
)

var outcomeNames = [...]string{
	OutcomePending:    "pending",
	OutcomeInProgress: "in_progress",
	OutcomeSuccess:    "success",
	OutcomeNowPlaying: "now_playing",
	OutcomeExists:     "exists",
	OutcomeNotFound:   "not_found",
	OutcomeDropped:    "dropped",
	OutcomeCancelled:  "cancelled",
	OutcomeFailed:     "failed",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Result is delivered to a caller waiting on a task.
type Result struct {
	Outcome Outcome
	Code    byte
	Err     error
}

// Handle addresses a pool slot. The generation catches use after release.
type Handle struct {
	index      int
	generation uint32
}

// owner records which place currently holds a task.
type owner uint8

const (
	ownerFree owner = iota
	ownerCheckedOut
	ownerInQueue
	ownerCurrent
	ownerParked
)

func (o owner) String() string {
	switch o {
	case ownerFree:
		return "free"
	case ownerCheckedOut:
		return "checked_out"
	case ownerInQueue:
		return "in_queue"
	case ownerCurrent:
		return "current"
	case ownerParked:
		return "parked"
	}
	return "unknown"
}

// Task is one request to the decoder and its in-flight bookkeeping. Tasks
// live in a Pool and are reused; every field is reset on acquire.
type Task struct {
	handle Handle
	owner  owner

	kind     Kind
	phase    Phase
	priority Priority
	seq      int64

	frame    [codec.MaxFrame]byte
	frameLen int
	command  codec.Command

	path   string
	volume int
	fade   time.Duration

	// internal marks tasks the controller synthesized for itself.
	internal bool
	// holdsMute marks the task that must unmute the host when it resolves.
	holdsMute bool

	outcome   Outcome
	code      byte
	startedAt time.Time
	attempts  int

	// gateUntil holds a task locally until the deadline. sendAfterGate
	// transmits the framed command once the gate opens.
	gateUntil     time.Time
	sendAfterGate bool
	nextPollAt    time.Time

	requestID string
	waiter    chan Result
	span      trace.Span
}

// Handle returns the pool handle of t.
func (t *Task) Handle() Handle { return t.handle }

// Kind returns the task kind.
func (t *Task) Kind() Kind { return t.kind }

// Phase returns the task phase.
func (t *Task) Phase() Phase { return t.phase }

// Priority returns the queue priority.
func (t *Task) Priority() Priority { return t.priority }

// Outcome returns the last observed outcome.
func (t *Task) Outcome() Outcome { return t.outcome }

// StartedAt returns when transmission last began.
func (t *Task) StartedAt() time.Time { return t.startedAt }

// Frame returns the encoded command bytes.
func (t *Task) Frame() []byte { return t.frame[:t.frameLen] }

// Fade returns the delay of a Fade task.
func (t *Task) Fade() time.Duration { return t.fade }

// Path returns the media path of playback and probe tasks.
func (t *Task) Path() string { return t.path }

// RequestID correlates the task across logs and events.
func (t *Task) RequestID() string { return t.requestID }

// encode frames cmd and payload into the task's own buffer.
func (t *Task) encode(c *codec.Codec, cmd codec.Command, payload []byte) error {
	out, err := c.AppendFrame(t.frame[:0], cmd, payload)
	if err != nil {
		return err
	}
	t.frameLen = len(out)
	t.command = cmd
	return nil
}

func (t *Task) gated() bool { return !t.gateUntil.IsZero() }

// polling reports whether t is a busy poll rather than real work.
func (t *Task) polling() bool { return t.phase == PhasePollingBusy }
