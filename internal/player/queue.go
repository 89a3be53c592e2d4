/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/friendsincode/talkclock/internal/telemetry"
)

// ErrQueueFull indicates a push beyond the queue capacity.
var ErrQueueFull = errors.New("player: queue full")

// taskHeap orders by priority, then arrival sequence.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Queue is a bounded priority queue of tasks, safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    taskHeap
	capacity int
	backSeq  int64
	frontSeq int64
	notify   chan struct{}
	clock    clock.Clock
}

// NewQueue creates a queue bounded at capacity.
func NewQueue(capacity int, clk clock.Clock) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	return &Queue{
		items:    make(taskHeap, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		clock:    clk,
	}
}

// Push enqueues t behind every task of equal priority.
func (q *Queue) Push(t *Task) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.backSeq++
	t.seq = q.backSeq
	q.insertLocked(t)
	q.mu.Unlock()
	q.signal()
	return nil
}

// PushFront enqueues t ahead of every task of equal priority.
func (q *Queue) PushFront(t *Task) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.frontSeq--
	t.seq = q.frontSeq
	q.insertLocked(t)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Queue) insertLocked(t *Task) {
	t.owner = ownerInQueue
	heap.Push(&q.items, t)
	telemetry.PlayerQueueDepth.Set(float64(len(q.items)))
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the most urgent task, or returns nil when empty.
func (q *Queue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	t := heap.Pop(&q.items).(*Task)
	telemetry.PlayerQueueDepth.Set(float64(len(q.items)))
	return t
}

// PopWait pops the most urgent task, waiting up to d for one to arrive.
func (q *Queue) PopWait(ctx context.Context, d time.Duration) *Task {
	if t := q.Pop(); t != nil {
		return t
	}
	if !q.Wait(ctx, d) {
		return nil
	}
	return q.Pop()
}

// Peek returns the head task without removing it.
func (q *Queue) Peek() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// PeekPriority returns the head priority.
func (q *Queue) PeekPriority() (Priority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].priority, true
}

// PeekTailKind returns the kind of the most recently pushed task that is
// not idle polling.
func (q *Queue) PeekTailKind() (Kind, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var tail *Task
	for _, t := range q.items {
		if t.priority == PriorityIdle {
			continue
		}
		if tail == nil || t.seq > tail.seq {
			tail = t
		}
	}
	if tail == nil {
		return KindNone, false
	}
	return tail.kind, true
}

// HasWork reports whether anything other than idle polling is queued.
func (q *Queue) HasWork() bool {
	p, ok := q.PeekPriority()
	return ok && p < PriorityIdle
}

// Remove takes out every task for which match returns true.
func (q *Queue) Remove(match func(*Task) bool) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*Task
	kept := q.items[:0]
	for _, t := range q.items {
		if match(t) {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	heap.Init(&q.items)
	telemetry.PlayerQueueDepth.Set(float64(len(q.items)))
	return removed
}

// Flush empties the queue and returns the tasks in priority order.
func (q *Queue) Flush() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(*Task))
	}
	telemetry.PlayerQueueDepth.Set(0)
	return out
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until a push happens, d elapses or ctx is done. It reports
// whether it was woken by a push.
func (q *Queue) Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-q.notify:
			return true
		default:
			return false
		}
	}
	timer := q.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-q.notify:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
