package player

import (
	"context"
	"errors"
	"testing"
	"time"
)

func queued(t *testing.T, p *Pool, q *Queue, kind Kind, prio Priority) *Task {
	t.Helper()
	task, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	task.kind = kind
	task.priority = prio
	if err := q.Push(task); err != nil {
		t.Fatalf("push: %v", err)
	}
	return task
}

func TestQueueOrdersByPriorityThenArrival(t *testing.T) {
	p := NewPool(8)
	q := NewQueue(8, nil)

	a := queued(t, p, q, KindPlay, 5)
	b := queued(t, p, q, KindStop, 1)
	c := queued(t, p, q, KindPlay, 5)
	d := queued(t, p, q, KindStop, 1)

	want := []*Task{b, d, a, c}
	for i, w := range want {
		if got := q.Pop(); got != w {
			t.Fatalf("pop %d: got priority %d seq %d", i, got.priority, got.seq)
		}
	}
	if q.Pop() != nil {
		t.Fatal("queue should be empty")
	}
}

func TestQueuePushFrontJumpsEqualPriority(t *testing.T) {
	p := NewPool(4)
	q := NewQueue(4, nil)

	first := queued(t, p, q, KindPlay, PriorityNormal)
	front, _ := p.Acquire()
	front.kind = KindPeekFile
	front.priority = PriorityNormal
	if err := q.PushFront(front); err != nil {
		t.Fatalf("push front: %v", err)
	}
	urgent := queued(t, p, q, KindStop, PriorityUrgent)

	for i, w := range []*Task{urgent, front, first} {
		if got := q.Pop(); got != w {
			t.Fatalf("pop %d: got %s", i, got.kind)
		}
	}
}

func TestQueuePeeks(t *testing.T) {
	p := NewPool(4)
	q := NewQueue(4, nil)

	if _, ok := q.PeekPriority(); ok {
		t.Fatal("empty queue has no head")
	}
	if _, ok := q.PeekTailKind(); ok {
		t.Fatal("empty queue has no tail")
	}

	queued(t, p, q, KindPlay, PriorityNormal)
	queued(t, p, q, KindSetVolume, PriorityControl)
	poll := queued(t, p, q, KindPlay, PriorityIdle)
	poll.phase = PhasePollingBusy

	if prio, _ := q.PeekPriority(); prio != PriorityControl {
		t.Fatalf("head priority = %d", prio)
	}
	if kind, _ := q.PeekTailKind(); kind != KindSetVolume {
		t.Fatalf("tail kind = %s, idle polls must be skipped", kind)
	}
	if !q.HasWork() {
		t.Fatal("expected real work")
	}

	removed := q.Remove(func(task *Task) bool { return !task.polling() })
	if len(removed) != 2 || q.Len() != 1 {
		t.Fatalf("removed %d, left %d", len(removed), q.Len())
	}
	if q.HasWork() {
		t.Fatal("only an idle poll is left")
	}
	if kind, ok := q.PeekTailKind(); ok {
		t.Fatalf("tail kind %s reported for idle-only queue", kind)
	}
}

func TestQueueFlushAndCapacity(t *testing.T) {
	p := NewPool(3)
	q := NewQueue(2, nil)

	queued(t, p, q, KindPlay, PriorityNormal)
	queued(t, p, q, KindStop, PriorityUrgent)
	extra, _ := p.Acquire()
	if err := q.Push(extra); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	flushed := q.Flush()
	if len(flushed) != 2 || flushed[0].kind != KindStop {
		t.Fatalf("flush returned %d tasks", len(flushed))
	}
	if q.Len() != 0 {
		t.Fatal("queue not empty after flush")
	}
}

func TestQueueWaitWakesOnPush(t *testing.T) {
	p := NewPool(2)
	q := NewQueue(2, nil)

	if q.Wait(context.Background(), 10*time.Millisecond) {
		t.Fatal("wait on idle queue must time out")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		task, _ := p.Acquire()
		task.kind = KindPlay
		_ = q.Push(task)
	}()

	got := q.PopWait(context.Background(), 2*time.Second)
	if got == nil || got.kind != KindPlay {
		t.Fatal("PopWait did not return the pushed task")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.Wait(ctx, time.Minute) {
		t.Fatal("cancelled wait must not report a push")
	}
}
