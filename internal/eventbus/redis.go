/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/events"
)

// errBreakerOpen is returned while publishing is suspended after failures.
var errBreakerOpen = errors.New("redis publishing suspended")

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Channel prefix; events go to "<prefix>.<event type>".
	Prefix string

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Prefix:        "talkclock",
		DialTimeout:   5 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisBridge publishes controller events to Redis pub/sub and keeps the
// latest payload of each type under "<prefix>:last:<event type>".
type RedisBridge struct {
	client *redis.Client
	cfg    RedisConfig
	nodeID string
	logger zerolog.Logger

	mu        sync.Mutex
	failCount int
	open      bool
	lastCheck time.Time
}

// NewRedisBridge connects to Redis. An unreachable server is not fatal: the
// bridge starts with its breaker open and retries on CheckInterval.
func NewRedisBridge(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBridge {
	d := DefaultRedisConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = d.Prefix
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = d.MaxFailures
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = d.DialTimeout
	}

	rb := &RedisBridge{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		cfg:    cfg,
		nodeID: nodeID,
		logger: logger.With().Str("component", "redis_bridge").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		rb.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, event bridge suspended")
		rb.open = true
		rb.lastCheck = time.Now()
	} else {
		rb.logger.Info().Str("addr", cfg.Addr).Msg("Redis event bridge connected")
	}
	return rb
}

// Forward relays events from bus until ctx ends.
func (rb *RedisBridge) Forward(ctx context.Context, bus *events.Bus, types ...events.EventType) {
	forward(ctx, bus, types, "redis", rb.publish, rb.logger)
}

func (rb *RedisBridge) channel(t events.EventType) string {
	return rb.cfg.Prefix + "." + string(t)
}

func (rb *RedisBridge) publish(ctx context.Context, ev events.Event) error {
	if err := rb.tryReconnect(ctx); err != nil {
		return err
	}

	data, err := marshalMessage(ev, rb.nodeID)
	if err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, rb.cfg.WriteTimeout)
	defer cancel()

	_, err = rb.client.TxPipelined(pctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(pctx, rb.channel(ev.Type), data)
		pipe.Set(pctx, rb.cfg.Prefix+":last:"+string(ev.Type), data, 0)
		return nil
	})
	if err != nil {
		rb.handleFailure()
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
	return nil
}

// handleFailure opens the breaker after MaxFailures consecutive errors.
func (rb *RedisBridge) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.cfg.MaxFailures && !rb.open {
		rb.logger.Warn().Int("fail_count", rb.failCount).Msg("Redis failure threshold reached, suspending event bridge")
		rb.open = true
		rb.lastCheck = time.Now()
	}
}

// tryReconnect closes the breaker once Redis answers a ping again.
func (rb *RedisBridge) tryReconnect(ctx context.Context) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.open {
		return nil
	}
	if time.Since(rb.lastCheck) < rb.cfg.CheckInterval {
		return errBreakerOpen
	}
	rb.lastCheck = time.Now()

	pctx, cancel := context.WithTimeout(ctx, rb.cfg.DialTimeout)
	defer cancel()
	if err := rb.client.Ping(pctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}
	rb.open = false
	rb.failCount = 0
	rb.logger.Info().Msg("reconnected to Redis, resuming event bridge")
	return nil
}

// Close closes the Redis client.
func (rb *RedisBridge) Close() error {
	return rb.client.Close()
}
