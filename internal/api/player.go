/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type playRequest struct {
	Path string `json:"path"`
	Loop bool   `json:"loop"`
}

type queueRequest struct {
	Path   string `json:"path"`
	FadeMS int64  `json:"fade_ms"`
}

type volumeRequest struct {
	Volume *int `json:"volume"`
}

type idleGraceRequest struct {
	IdleGraceMS *int64 `json:"idle_grace_ms"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path_required")
		return
	}

	var err error
	if req.Loop {
		err = a.player.PlayLooping(req.Path)
	} else {
		err = a.player.Play(req.Path)
	}
	if err != nil {
		a.writePlayerError(w, "play", err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.player.Snapshot())
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path_required")
		return
	}
	if req.FadeMS < 0 {
		writeError(w, http.StatusBadRequest, "invalid_fade")
		return
	}
	if err := a.player.QueueWithFade(req.Path, time.Duration(req.FadeMS)*time.Millisecond); err != nil {
		a.writePlayerError(w, "queue", err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.player.Snapshot())
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := a.player.Pause(); err != nil {
		a.writePlayerError(w, "pause", err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.player.Snapshot())
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := a.player.Resume(); err != nil {
		a.writePlayerError(w, "resume", err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.player.Snapshot())
}

// handleStop blocks until the decoder honored the stop.
func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.stopTimeout)
	defer cancel()
	if err := a.player.Stop(ctx); err != nil {
		a.writePlayerError(w, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": a.player.ClearPlaylist()})
}

func (a *API) handleVolumeSet(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeBody(w, r, &req); err != nil || req.Volume == nil {
		writeError(w, http.StatusBadRequest, "volume_required")
		return
	}
	if err := a.player.SetVolume(*req.Volume); err != nil {
		a.writePlayerError(w, "volume", err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.player.Snapshot())
}

func (a *API) handleVolumeStep(dir int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		step := a.player.VolumeIncrease
		if dir < 0 {
			step = a.player.VolumeDecrease
		}
		target, err := step()
		if err != nil {
			a.writePlayerError(w, "volume_step", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"target_volume": target})
	}
}

// handleExists probes the decoder's storage. The probe briefly takes over
// the decoder, so it needs the control role.
func (a *API) handleExists(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, "path_required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.stopTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "exists": a.player.FileExists(ctx, path)})
}

func (a *API) handleIdleGraceGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"idle_grace_ms": a.player.IdleShutdownGrace().Milliseconds()})
}

func (a *API) handleIdleGraceSet(w http.ResponseWriter, r *http.Request) {
	var req idleGraceRequest
	if err := decodeBody(w, r, &req); err != nil || req.IdleGraceMS == nil || *req.IdleGraceMS < 0 {
		writeError(w, http.StatusBadRequest, "idle_grace_required")
		return
	}
	d := time.Duration(*req.IdleGraceMS) * time.Millisecond
	a.player.SetIdleShutdownGrace(d)
	if a.settings != nil {
		if err := a.settings.SaveIdleGrace(r.Context(), d); err != nil {
			a.logger.Warn().Err(err).Msg("idle grace not persisted")
		}
	}
	writeJSON(w, http.StatusOK, map[string]int64{"idle_grace_ms": a.player.IdleShutdownGrace().Milliseconds()})
}
