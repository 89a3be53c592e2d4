package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/player"
)

type fakeController struct {
	mu     sync.Mutex
	calls  []string
	err    error
	volume int
	fade   time.Duration
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Play(path string) error        { return f.record("play " + path) }
func (f *fakeController) PlayLooping(path string) error { return f.record("loop " + path) }
func (f *fakeController) QueueWithFade(path string, fade time.Duration) error {
	f.fade = fade
	return f.record("queue " + path)
}
func (f *fakeController) Pause() error                 { return f.record("pause") }
func (f *fakeController) Resume() error                { return f.record("resume") }
func (f *fakeController) Stop(context.Context) error   { return f.record("stop") }
func (f *fakeController) SetVolume(percent int) error  { f.volume = percent; return f.record("volume") }
func (f *fakeController) ClearPlaylist() int           { _ = f.record("clear"); return 3 }
func (f *fakeController) Snapshot() player.Snapshot    { return player.Snapshot{Volume: f.volume} }

func TestHandleControl(t *testing.T) {
	tests := []struct {
		action   string
		body     string
		wantCall string
		wantOK   bool
	}{
		{"play", `{"path":"/voice/seven.mp3"}`, "play /voice/seven.mp3", true},
		{"play", `{"path":"/alarm.mp3","loop":true}`, "loop /alarm.mp3", true},
		{"play", `{}`, "", false},
		{"queue", `{"path":"/b.mp3","fade_ms":500}`, "queue /b.mp3", true},
		{"pause", ``, "pause", true},
		{"resume", ``, "resume", true},
		{"stop", ``, "stop", true},
		{"volume", `{"volume":40}`, "volume", true},
		{"volume", `{}`, "", false},
		{"clear", ``, "clear", true},
		{"status", ``, "", true},
		{"rewind", ``, "", false},
		{"play", `{not json`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.action+" "+tt.body, func(t *testing.T) {
			ctl := &fakeController{}
			reply := handleControl(context.Background(), ctl, tt.action, []byte(tt.body))

			if reply.OK != tt.wantOK {
				t.Fatalf("ok = %v (error %q), want %v", reply.OK, reply.Error, tt.wantOK)
			}
			if tt.wantOK && reply.Snapshot == nil {
				t.Fatal("successful reply without snapshot")
			}
			if tt.wantCall == "" {
				if len(ctl.calls) != 0 {
					t.Fatalf("unexpected calls %v", ctl.calls)
				}
				return
			}
			if len(ctl.calls) != 1 || ctl.calls[0] != tt.wantCall {
				t.Fatalf("calls = %v, want %q", ctl.calls, tt.wantCall)
			}
		})
	}
}

func TestHandleControlDetails(t *testing.T) {
	ctl := &fakeController{}
	handleControl(context.Background(), ctl, "queue", []byte(`{"path":"/b.mp3","fade_ms":750}`))
	if ctl.fade != 750*time.Millisecond {
		t.Fatalf("fade = %v", ctl.fade)
	}

	reply := handleControl(context.Background(), ctl, "clear", nil)
	if reply.Cleared != 3 {
		t.Fatalf("cleared = %d", reply.Cleared)
	}

	reply = handleControl(context.Background(), ctl, "volume", []byte(`{"volume":70}`))
	if reply.Snapshot.Volume != 70 {
		t.Fatalf("snapshot volume = %d", reply.Snapshot.Volume)
	}

	failing := &fakeController{err: player.ErrPoolExhausted}
	reply = handleControl(context.Background(), failing, "pause", nil)
	if reply.OK || reply.Error != player.ErrPoolExhausted.Error() {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestMessageEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	ev := events.Event{Type: events.EventPlayerStatus, Payload: events.Payload{"status": "playing"}, At: at}

	first, err := marshalMessage(ev, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, _ := marshalMessage(ev, "node-a")

	a, err := unmarshalMessage(first)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, _ := unmarshalMessage(second)

	if a.EventType != events.EventPlayerStatus || a.NodeID != "node-a" || !a.Timestamp.Equal(at) {
		t.Fatalf("envelope = %+v", a)
	}
	if a.Payload["status"] != "playing" {
		t.Fatalf("payload = %v", a.Payload)
	}
	if a.MessageID == "" || a.MessageID == b.MessageID {
		t.Fatal("message ids must be unique")
	}

	if _, err := unmarshalMessage([]byte("nope")); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestNewNodeIDUnique(t *testing.T) {
	if NewNodeID() == NewNodeID() {
		t.Fatal("node ids collide")
	}
}

func TestForwardRelaysUntilCancelled(t *testing.T) {
	bus := events.NewBus()
	got := make(chan events.Event, 4)
	publish := func(_ context.Context, ev events.Event) error {
		got <- ev
		if ev.Type == events.EventPlayerFault {
			return errors.New("transport down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		forward(ctx, bus, []events.EventType{events.EventPlayerFault, events.EventPlayerVolume}, "test", publish, zerolog.Nop())
	}()

	// Subscription happens inside the goroutine; publish until it lands.
	deadline := time.After(2 * time.Second)
	var first events.Event
wait:
	for {
		bus.Publish(events.EventPlayerFault, events.Payload{"fault": "link_down"})
		select {
		case first = <-got:
			break wait
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("nothing forwarded")
		}
	}
	if first.Type != events.EventPlayerFault {
		t.Fatalf("forwarded %s", first.Type)
	}

	bus.Publish(events.EventPlayerStatus, events.Payload{"status": "playing"})
	bus.Publish(events.EventPlayerVolume, events.Payload{"volume": 40})
	for {
		select {
		case ev := <-got:
			if ev.Type == events.EventPlayerStatus {
				t.Fatal("unrequested type forwarded")
			}
			if ev.Type == events.EventPlayerVolume {
				cancel()
				<-done
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("volume event not forwarded")
		}
	}
}
