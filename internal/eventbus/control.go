/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/talkclock/internal/player"
)

// Controller is the part of the player a remote caller may drive.
type Controller interface {
	Play(path string) error
	PlayLooping(path string) error
	QueueWithFade(path string, fade time.Duration) error
	Pause() error
	Resume() error
	Stop(ctx context.Context) error
	SetVolume(percent int) error
	ClearPlaylist() int
	Snapshot() player.Snapshot
}

type controlRequest struct {
	Path   string `json:"path"`
	Loop   bool   `json:"loop"`
	FadeMS int64  `json:"fade_ms"`
	Volume *int   `json:"volume"`
}

type controlReply struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
	Cleared  int              `json:"cleared,omitempty"`
	Snapshot *player.Snapshot `json:"snapshot,omitempty"`
}

// handleControl runs one control action. Every reply carries a snapshot so
// remote callers see the effect without a second request.
func handleControl(ctx context.Context, ctl Controller, action string, data []byte) controlReply {
	var req controlRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return controlReply{Error: fmt.Sprintf("invalid request: %v", err)}
		}
	}

	var (
		err   error
		reply controlReply
	)
	switch action {
	case "play":
		switch {
		case req.Path == "":
			err = fmt.Errorf("path required")
		case req.Loop:
			err = ctl.PlayLooping(req.Path)
		default:
			err = ctl.Play(req.Path)
		}
	case "queue":
		if req.Path == "" {
			err = fmt.Errorf("path required")
		} else {
			err = ctl.QueueWithFade(req.Path, time.Duration(req.FadeMS)*time.Millisecond)
		}
	case "pause":
		err = ctl.Pause()
	case "resume":
		err = ctl.Resume()
	case "stop":
		err = ctl.Stop(ctx)
	case "volume":
		if req.Volume == nil {
			err = fmt.Errorf("volume required")
		} else {
			err = ctl.SetVolume(*req.Volume)
		}
	case "clear":
		reply.Cleared = ctl.ClearPlaylist()
	case "status":
	default:
		err = fmt.Errorf("unknown action %q", action)
	}

	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	snap := ctl.Snapshot()
	reply.OK = true
	reply.Snapshot = &snap
	return reply
}
