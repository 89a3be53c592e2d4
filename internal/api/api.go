/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the HTTP control surface the clock's shell uses to drive
// the player controller.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/auth"
	"github.com/friendsincode/talkclock/internal/codec"
	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/logbuffer"
	"github.com/friendsincode/talkclock/internal/player"
)

// Player is the controller surface the API drives.
type Player interface {
	Play(path string) error
	PlayLooping(path string) error
	QueueWithFade(path string, fade time.Duration) error
	Pause() error
	Resume() error
	Stop(ctx context.Context) error
	SetVolume(percent int) error
	VolumeIncrease() (int, error)
	VolumeDecrease() (int, error)
	ClearPlaylist() int
	FileExists(ctx context.Context, path string) bool
	SetIdleShutdownGrace(d time.Duration)
	IdleShutdownGrace() time.Duration
	Snapshot() player.Snapshot
}

// SettingsStore persists values changed through the API.
type SettingsStore interface {
	SaveIdleGrace(ctx context.Context, d time.Duration) error
}

// API exposes HTTP handlers.
type API struct {
	player    Player
	settings  SettingsStore
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	jwtSecret []byte
	logger    zerolog.Logger

	// stopTimeout bounds how long a Stop request waits for the decoder.
	stopTimeout time.Duration
}

// New creates the API router wrapper. bus and logBuf may be nil, which
// disables the event stream and log endpoints.
func New(p Player, bus *events.Bus, logBuf *logbuffer.Buffer, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		player:      p,
		bus:         bus,
		logBuffer:   logBuf,
		jwtSecret:   jwtSecret,
		logger:      logger.With().Str("component", "api").Logger(),
		stopTimeout: 5 * time.Second,
	}
}

// SetSettingsStore enables persistence of idle grace changes.
func (a *API) SetSettingsStore(s SettingsStore) {
	a.settings = s
}

// Routes registers the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Group(func(rr chi.Router) {
				rr.Use(auth.RequireRole(a.jwtSecret, auth.RoleRead))
				rr.Get("/status", a.handleStatus)
				rr.Get("/idle-grace", a.handleIdleGraceGet)
				rr.Get("/events", a.handleEvents)
				rr.Get("/logs", a.handleLogs)
			})

			pr.Group(func(cr chi.Router) {
				cr.Use(auth.RequireRole(a.jwtSecret, auth.RoleControl))
				cr.Post("/play", a.handlePlay)
				cr.Post("/queue", a.handleQueue)
				cr.Post("/pause", a.handlePause)
				cr.Post("/resume", a.handleResume)
				cr.Post("/stop", a.handleStop)
				cr.Post("/clear", a.handleClear)
				cr.Put("/volume", a.handleVolumeSet)
				cr.Post("/volume/up", a.handleVolumeStep(+1))
				cr.Post("/volume/down", a.handleVolumeStep(-1))
				cr.Get("/exists", a.handleExists)
				cr.Put("/idle-grace", a.handleIdleGraceSet)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writePlayerError maps controller errors to responses.
func (a *API) writePlayerError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, player.ErrPoolExhausted), errors.Is(err, player.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "busy")
	case errors.Is(err, player.ErrDeviceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "device_unavailable")
	case errors.Is(err, player.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "stopped")
	case errors.Is(err, codec.ErrPayloadTooLarge):
		writeError(w, http.StatusBadRequest, "path_too_long")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout")
	default:
		a.logger.Error().Err(err).Str("op", op).Msg("player request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	return json.NewDecoder(r.Body).Decode(v)
}
