/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/logbuffer"
	"github.com/friendsincode/talkclock/internal/telemetry"
)

// handleEvents streams controller events over a websocket. The optional
// types query parameter narrows the stream (comma separated).
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, http.StatusNotFound, "events_disabled")
		return
	}
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	types := parseEventTypes(r.URL.Query().Get("types"))
	if len(types) == 0 {
		types = events.AllPlayerEvents
	}
	sub := a.bus.Subscribe(types...)
	defer a.bus.Unsubscribe(sub)

	// Reads only serve close frames; CloseRead cancels ctx when the peer goes.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "bus closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(wctx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, events.EventType(part))
		}
	}
	return out
}

// handleLogs returns recent log lines: ?level=&component=&search=&limit=.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusNotFound, "logs_disabled")
		return
	}
	q := r.URL.Query()
	query := logbuffer.Query{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		Search:    q.Get("search"),
		Limit:     200,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		query.Limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    a.logBuffer.Entries(query),
		"components": a.logBuffer.Components(),
	})
}
