package player

import (
	"errors"
	"math/rand"
	"testing"
)

func TestPoolNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	p := NewPool(capacity)
	rng := rand.New(rand.NewSource(7))

	var held []*Task
	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			task, err := p.Acquire()
			if len(held) == capacity {
				if !errors.Is(err, ErrPoolExhausted) {
					t.Fatalf("step %d: expected ErrPoolExhausted, got %v", i, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("step %d: acquire: %v", i, err)
			}
			held = append(held, task)
		} else if len(held) > 0 {
			j := rng.Intn(len(held))
			if err := p.Release(held[j].Handle()); err != nil {
				t.Fatalf("step %d: release: %v", i, err)
			}
			held = append(held[:j], held[j+1:]...)
		}

		if got := p.InUse(); got != len(held) || got > capacity {
			t.Fatalf("step %d: in use %d, held %d", i, got, len(held))
		}
	}
}

func TestPoolRejectsStaleReleases(t *testing.T) {
	tests := []struct {
		name   string
		handle func(p *Pool) Handle
	}{
		{
			name:   "never acquired",
			handle: func(p *Pool) Handle { return Handle{index: 1} },
		},
		{
			name:   "out of range",
			handle: func(p *Pool) Handle { return Handle{index: 99} },
		},
		{
			name: "double release",
			handle: func(p *Pool) Handle {
				task, _ := p.Acquire()
				h := task.Handle()
				_ = p.Release(h)
				return h
			},
		},
		{
			name: "previous generation",
			handle: func(p *Pool) Handle {
				task, _ := p.Acquire()
				old := task.Handle()
				_ = p.Release(old)
				// LIFO free list hands the same slot back.
				if _, err := p.Acquire(); err != nil {
					panic(err)
				}
				return old
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool(2)
			h := tt.handle(p)
			before := p.InUse()
			if err := p.Release(h); !errors.Is(err, ErrStaleHandle) {
				t.Fatalf("expected ErrStaleHandle, got %v", err)
			}
			if p.InUse() != before {
				t.Fatalf("stale release changed in-use count %d -> %d", before, p.InUse())
			}
		})
	}
}

func TestPoolZeroesSlotsOnAcquire(t *testing.T) {
	p := NewPool(1)
	task, _ := p.Acquire()
	task.kind = KindPlay
	task.path = "/voice/hello.mp3"
	task.frameLen = 9
	task.frame[0] = 0x7E
	_ = p.Release(task.Handle())

	again, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if again.kind != KindNone || again.path != "" || again.frameLen != 0 || again.frame[0] != 0 {
		t.Fatalf("slot not zeroed: %+v", again)
	}
	if again.owner != ownerCheckedOut {
		t.Fatalf("owner = %s", again.owner)
	}
}
