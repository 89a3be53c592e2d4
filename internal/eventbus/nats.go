/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/telemetry"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Subject prefix: events go to "<prefix>.events.<type>" and control
	// requests arrive on "<prefix>.control.<action>".
	Prefix string

	MaxReconnects  int
	ReconnectWait  time.Duration
	Timeout        time.Duration
	ControlTimeout time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Prefix:         "talkclock",
		MaxReconnects:  -1, // Unlimited
		ReconnectWait:  2 * time.Second,
		Timeout:        5 * time.Second,
		ControlTimeout: 5 * time.Second,
	}
}

// NATSBridge publishes controller events to NATS and serves control requests.
type NATSBridge struct {
	conn   *nats.Conn
	cfg    NATSConfig
	nodeID string
	logger zerolog.Logger
	sub    *nats.Subscription
}

// NewNATSBridge connects to the NATS server at cfg.URL.
func NewNATSBridge(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBridge, error) {
	d := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = d.URL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = d.Prefix
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = d.ReconnectWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = d.ControlTimeout
	}
	logger = logger.With().Str("component", "nats_bridge").Logger()

	opts := []nats.Option{
		nats.Name("talkclock-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS event bridge connected")

	return &NATSBridge{conn: conn, cfg: cfg, nodeID: nodeID, logger: logger}, nil
}

// Forward relays events from bus until ctx ends.
func (nb *NATSBridge) Forward(ctx context.Context, bus *events.Bus, types ...events.EventType) {
	forward(ctx, bus, types, "nats", nb.publish, nb.logger)
}

func (nb *NATSBridge) publish(_ context.Context, ev events.Event) error {
	data, err := marshalMessage(ev, nb.nodeID)
	if err != nil {
		return err
	}
	return nb.conn.Publish(nb.cfg.Prefix+".events."+string(ev.Type), data)
}

// ServeControl answers request/reply control messages with ctl.
func (nb *NATSBridge) ServeControl(ctx context.Context, ctl Controller) error {
	subject := nb.cfg.Prefix + ".control.*"
	sub, err := nb.conn.Subscribe(subject, func(m *nats.Msg) {
		action := m.Subject[strings.LastIndexByte(m.Subject, '.')+1:]

		rctx, cancel := context.WithTimeout(ctx, nb.cfg.ControlTimeout)
		reply := handleControl(rctx, ctl, action, m.Data)
		cancel()

		result := "ok"
		if !reply.OK {
			result = "error"
		}
		telemetry.BridgeControlRequests.WithLabelValues(action, result).Inc()
		nb.logger.Debug().Str("action", action).Bool("ok", reply.OK).Str("error", reply.Error).Msg("control request")
		if m.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			nb.logger.Error().Err(err).Msg("marshal control reply")
			return
		}
		if err := m.Respond(data); err != nil {
			nb.logger.Warn().Err(err).Msg("control reply failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	nb.sub = sub
	return nil
}

// Close drains the connection.
func (nb *NATSBridge) Close() error {
	if nb.sub != nil {
		_ = nb.sub.Unsubscribe()
	}
	return nb.conn.Drain()
}
