/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges controller events from the in-process bus onto
// NATS and Redis, and accepts remote control requests over NATS.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/telemetry"
)

// message is the wire envelope shared by both transports.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

func marshalMessage(ev events.Event, nodeID string) ([]byte, error) {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return json.Marshal(message{
		EventType: ev.Type,
		Payload:   ev.Payload,
		Timestamp: at,
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// NewNodeID returns hostname plus a random suffix.
func NewNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "talkclock"
	}
	return host + "-" + uuid.NewString()[:8]
}

// publishFunc sends one event to a remote transport.
type publishFunc func(ctx context.Context, ev events.Event) error

// forward relays every event of types from bus to publish until ctx ends.
func forward(ctx context.Context, bus *events.Bus, types []events.EventType, transport string, publish publishFunc, logger zerolog.Logger) {
	if len(types) == 0 {
		types = events.AllPlayerEvents
	}
	sub := bus.Subscribe(types...)
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := publish(ctx, ev); err != nil {
				telemetry.BridgePublishedTotal.WithLabelValues(transport, "error").Inc()
				logger.Debug().Err(err).Str("event_type", string(ev.Type)).Msg("event not forwarded")
				continue
			}
			telemetry.BridgePublishedTotal.WithLabelValues(transport, "ok").Inc()
		}
	}
}
