package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/talkclock/internal/auth"
	"github.com/friendsincode/talkclock/internal/codec"
	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/logbuffer"
	"github.com/friendsincode/talkclock/internal/player"
)

type fakePlayer struct {
	mu     sync.Mutex
	calls  []string
	err    error
	volume int
	grace  time.Duration
	fade   time.Duration
	exists map[string]bool
}

func (f *fakePlayer) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakePlayer) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakePlayer) Play(p string) error        { return f.record("play " + p) }
func (f *fakePlayer) PlayLooping(p string) error { return f.record("loop " + p) }
func (f *fakePlayer) QueueWithFade(p string, fade time.Duration) error {
	f.fade = fade
	return f.record("queue " + p)
}
func (f *fakePlayer) Pause() error               { return f.record("pause") }
func (f *fakePlayer) Resume() error              { return f.record("resume") }
func (f *fakePlayer) Stop(context.Context) error { return f.record("stop") }
func (f *fakePlayer) SetVolume(p int) error {
	f.volume = p
	return f.record("volume")
}
func (f *fakePlayer) VolumeIncrease() (int, error) { return f.volume + 10, f.record("up") }
func (f *fakePlayer) VolumeDecrease() (int, error) { return f.volume - 10, f.record("down") }
func (f *fakePlayer) ClearPlaylist() int            { _ = f.record("clear"); return 2 }
func (f *fakePlayer) FileExists(_ context.Context, p string) bool {
	_ = f.record("exists " + p)
	return f.exists[p]
}
func (f *fakePlayer) SetIdleShutdownGrace(d time.Duration) { f.grace = d }
func (f *fakePlayer) IdleShutdownGrace() time.Duration     { return f.grace }
func (f *fakePlayer) Snapshot() player.Snapshot {
	return player.Snapshot{Volume: f.volume, Status: player.StatusStopped}
}

type fakeSettings struct{ saved time.Duration }

func (f *fakeSettings) SaveIdleGrace(_ context.Context, d time.Duration) error {
	f.saved = d
	return nil
}

func newRouter(a *API) http.Handler {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestControlEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		want     int
		wantCall string
	}{
		{"play", http.MethodPost, "/api/v1/play", `{"path":"/voice/07.mp3"}`, http.StatusAccepted, "play /voice/07.mp3"},
		{"play looping", http.MethodPost, "/api/v1/play", `{"path":"/alarm.mp3","loop":true}`, http.StatusAccepted, "loop /alarm.mp3"},
		{"play without path", http.MethodPost, "/api/v1/play", `{"path":"  "}`, http.StatusBadRequest, ""},
		{"play bad json", http.MethodPost, "/api/v1/play", `{`, http.StatusBadRequest, ""},
		{"queue", http.MethodPost, "/api/v1/queue", `{"path":"/b.mp3","fade_ms":400}`, http.StatusAccepted, "queue /b.mp3"},
		{"queue negative fade", http.MethodPost, "/api/v1/queue", `{"path":"/b.mp3","fade_ms":-1}`, http.StatusBadRequest, ""},
		{"pause", http.MethodPost, "/api/v1/pause", ``, http.StatusAccepted, "pause"},
		{"resume", http.MethodPost, "/api/v1/resume", ``, http.StatusAccepted, "resume"},
		{"stop", http.MethodPost, "/api/v1/stop", ``, http.StatusOK, "stop"},
		{"clear", http.MethodPost, "/api/v1/clear", ``, http.StatusOK, "clear"},
		{"volume", http.MethodPut, "/api/v1/volume", `{"volume":30}`, http.StatusAccepted, "volume"},
		{"volume missing", http.MethodPut, "/api/v1/volume", `{}`, http.StatusBadRequest, ""},
		{"volume up", http.MethodPost, "/api/v1/volume/up", ``, http.StatusAccepted, "up"},
		{"volume down", http.MethodPost, "/api/v1/volume/down", ``, http.StatusAccepted, "down"},
		{"exists", http.MethodGet, "/api/v1/exists?path=/voice/07.mp3", ``, http.StatusOK, "exists /voice/07.mp3"},
		{"exists without path", http.MethodGet, "/api/v1/exists", ``, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlayer{}
			h := newRouter(New(p, nil, nil, nil, zerolog.Nop()))
			rr := do(t, h, tt.method, tt.target, tt.body, "")
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
			if got := p.last(); got != tt.wantCall {
				t.Fatalf("call = %q, want %q", got, tt.wantCall)
			}
		})
	}
}

func TestQueuePassesFade(t *testing.T) {
	p := &fakePlayer{}
	h := newRouter(New(p, nil, nil, nil, zerolog.Nop()))
	do(t, h, http.MethodPost, "/api/v1/queue", `{"path":"/b.mp3","fade_ms":450}`, "")
	if p.fade != 450*time.Millisecond {
		t.Fatalf("fade = %v", p.fade)
	}
}

func TestExistsReportsProbe(t *testing.T) {
	p := &fakePlayer{exists: map[string]bool{"/voice/07.mp3": true}}
	h := newRouter(New(p, nil, nil, nil, zerolog.Nop()))

	for path, want := range map[string]bool{"/voice/07.mp3": true, "/nope.mp3": false} {
		rr := do(t, h, http.MethodGet, "/api/v1/exists?path="+path, "", "")
		var body struct {
			Exists bool `json:"exists"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Exists != want {
			t.Fatalf("exists(%s) = %v, want %v", path, body.Exists, want)
		}
	}
}

func TestPlayerErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{player.ErrPoolExhausted, http.StatusServiceUnavailable, "busy"},
		{player.ErrDeviceUnavailable, http.StatusServiceUnavailable, "device_unavailable"},
		{codec.ErrPayloadTooLarge, http.StatusBadRequest, "path_too_long"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			p := &fakePlayer{err: tt.err}
			h := newRouter(New(p, nil, nil, nil, zerolog.Nop()))
			rr := do(t, h, http.MethodPost, "/api/v1/play", `{"path":"/a.mp3"}`, "")
			if rr.Code != tt.want || !strings.Contains(rr.Body.String(), tt.code) {
				t.Fatalf("got %d %s, want %d %s", rr.Code, rr.Body.String(), tt.want, tt.code)
			}
		})
	}
}

func TestIdleGraceRoundTrip(t *testing.T) {
	p := &fakePlayer{}
	store := &fakeSettings{}
	a := New(p, nil, nil, nil, zerolog.Nop())
	a.SetSettingsStore(store)
	h := newRouter(a)

	rr := do(t, h, http.MethodPut, "/api/v1/idle-grace", `{"idle_grace_ms":1500}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if p.grace != 1500*time.Millisecond || store.saved != 1500*time.Millisecond {
		t.Fatalf("grace = %v saved = %v", p.grace, store.saved)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/idle-grace", "", "")
	if !strings.Contains(rr.Body.String(), `"idle_grace_ms":1500`) {
		t.Fatalf("body = %s", rr.Body.String())
	}

	if rr := do(t, h, http.MethodPut, "/api/v1/idle-grace", `{"idle_grace_ms":-5}`, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative grace status = %d", rr.Code)
	}
}

func TestRolesGuardEndpoints(t *testing.T) {
	secret := []byte("test-secret")
	p := &fakePlayer{}
	h := newRouter(New(p, nil, nil, secret, zerolog.Nop()))

	readToken, err := auth.Issue(secret, auth.Claims{ClientID: "panel", Roles: []string{auth.RoleRead}}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	controlToken, err := auth.Issue(secret, auth.Claims{ClientID: "shell", Roles: []string{auth.RoleControl}}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"status needs token", http.MethodGet, "/api/v1/status", "", http.StatusUnauthorized},
		{"status with read", http.MethodGet, "/api/v1/status", readToken, http.StatusOK},
		{"stop with read", http.MethodPost, "/api/v1/stop", readToken, http.StatusForbidden},
		{"stop with control", http.MethodPost, "/api/v1/stop", controlToken, http.StatusOK},
		{"status with control", http.MethodGet, "/api/v1/status", controlToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, h, tt.method, tt.target, "", tt.token); rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestLogsEndpoint(t *testing.T) {
	buf := logbuffer.New(10)
	buf.Add(logbuffer.Entry{Level: "info", Message: "task resolved", Component: "player"})
	buf.Add(logbuffer.Entry{Level: "warn", Message: "ack timeout", Component: "player"})
	h := newRouter(New(&fakePlayer{}, nil, buf, nil, zerolog.Nop()))

	rr := do(t, h, http.MethodGet, "/api/v1/logs?level=warn", "", "")
	var body struct {
		Entries []logbuffer.Entry `json:"entries"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Message != "ack timeout" {
		t.Fatalf("entries = %+v", body.Entries)
	}

	if rr := do(t, h, http.MethodGet, "/api/v1/logs?limit=x", "", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}
}

func TestEventStream(t *testing.T) {
	bus := events.NewBus()
	srv := httptest.NewServer(newRouter(New(&fakePlayer{}, bus, nil, nil, zerolog.Nop())))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, srv.URL+"/api/v1/events?types=player.status", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// The subscription is registered after the upgrade; publish until a
	// message arrives.
	got := make(chan events.Event, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var ev events.Event
		if json.Unmarshal(data, &ev) == nil {
			got <- ev
		}
	}()

	for {
		bus.Publish(events.EventPlayerVolume, events.Payload{"volume": 10})
		bus.Publish(events.EventPlayerStatus, events.Payload{"status": "playing"})
		select {
		case ev := <-got:
			if ev.Type != events.EventPlayerStatus || ev.Payload["status"] != "playing" {
				t.Fatalf("event = %+v", ev)
			}
			return
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}
