/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"errors"
	"fmt"
	"sync"

	"github.com/friendsincode/talkclock/internal/telemetry"
)

var (
	// ErrPoolExhausted indicates every task slot is checked out. Callers
	// should retry later.
	ErrPoolExhausted = errors.New("player: task pool exhausted")

	// ErrStaleHandle indicates a release of a slot that is not checked out
	// under that handle.
	ErrStaleHandle = errors.New("player: stale task handle")
)

// Pool is a fixed arena of reusable tasks.
type Pool struct {
	mu    sync.Mutex
	slots []Task
	free  []int
}

// NewPool creates a pool with capacity slots.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{
		slots: make([]Task, capacity),
		free:  make([]int, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		p.slots[i].handle = Handle{index: i}
		p.free = append(p.free, i)
	}
	return p
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// InUse returns the number of checked-out slots.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.free)
}

// Acquire checks out a zeroed task.
func (p *Pool) Acquire() (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		telemetry.PlayerPoolExhausted.Inc()
		return nil, ErrPoolExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	t := &p.slots[idx]
	gen := t.handle.generation + 1
	*t = Task{}
	t.handle = Handle{index: idx, generation: gen}
	t.owner = ownerCheckedOut

	telemetry.PlayerPoolInUse.Set(float64(len(p.slots) - len(p.free)))
	return t, nil
}

// Release returns the slot addressed by h to the free list.
func (p *Pool) Release(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.index < 0 || h.index >= len(p.slots) {
		return fmt.Errorf("%w: index %d", ErrStaleHandle, h.index)
	}
	t := &p.slots[h.index]
	if t.owner == ownerFree || t.handle.generation != h.generation {
		return fmt.Errorf("%w: slot %d gen %d (current gen %d, %s)",
			ErrStaleHandle, h.index, h.generation, t.handle.generation, t.owner)
	}

	t.owner = ownerFree
	t.waiter = nil
	p.free = append(p.free, h.index)

	telemetry.PlayerPoolInUse.Set(float64(len(p.slots) - len(p.free)))
	return nil
}
