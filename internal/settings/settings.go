/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package settings persists the runtime-adjustable player settings so a
// restart comes back at the volume and idle grace the user last chose.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/talkclock/internal/events"
	"github.com/friendsincode/talkclock/internal/player"
)

// ErrInvalid is returned for values outside their allowed range.
var ErrInvalid = errors.New("invalid setting")

// PlayerSettings is the singleton settings row (ID=1). Nil fields were never
// set and leave the configured defaults in place.
type PlayerSettings struct {
	ID          int `gorm:"primaryKey"`
	Volume      *int
	IdleGraceMS *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName returns the table name for GORM.
func (PlayerSettings) TableName() string {
	return "player_settings"
}

// IdleGrace returns the stored grace period, if any.
func (s PlayerSettings) IdleGrace() (time.Duration, bool) {
	if s.IdleGraceMS == nil {
		return 0, false
	}
	return time.Duration(*s.IdleGraceMS) * time.Millisecond, true
}

// Migrate creates or updates the settings table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&PlayerSettings{})
}

// Store reads and writes PlayerSettings.
type Store struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewStore creates a store. bus may be nil.
func NewStore(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// Get retrieves the singleton row, creating it if it doesn't exist.
func (s *Store) Get(ctx context.Context) (*PlayerSettings, error) {
	var row PlayerSettings
	if err := s.db.WithContext(ctx).FirstOrCreate(&row, PlayerSettings{ID: 1}).Error; err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &row, nil
}

// SaveVolume stores the volume percentage.
func (s *Store) SaveVolume(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: volume %d", ErrInvalid, percent)
	}
	if err := s.update(ctx, "volume", percent); err != nil {
		return err
	}
	s.publish(events.Payload{"volume": percent})
	return nil
}

// SaveIdleGrace stores the idle shutdown grace period.
func (s *Store) SaveIdleGrace(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: idle grace %s", ErrInvalid, d)
	}
	if err := s.update(ctx, "idle_grace_ms", d.Milliseconds()); err != nil {
		return err
	}
	s.publish(events.Payload{"idle_grace_ms": d.Milliseconds()})
	return nil
}

func (s *Store) update(ctx context.Context, column string, value any) error {
	if _, err := s.Get(ctx); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&PlayerSettings{ID: 1}).Update(column, value).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", column, err)
	}
	return nil
}

func (s *Store) publish(p events.Payload) {
	if s.bus != nil {
		s.bus.Publish(events.EventSettingsChanged, p)
	}
}

// Restore returns controller options carrying the stored values. Values
// never stored are left to the configuration.
func (s *Store) Restore(ctx context.Context) ([]player.Option, error) {
	row, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	var opts []player.Option
	if row.Volume != nil {
		opts = append(opts, player.WithInitialVolume(*row.Volume))
		s.logger.Debug().Int("volume", *row.Volume).Msg("restoring volume")
	}
	if d, ok := row.IdleGrace(); ok {
		opts = append(opts, player.WithIdleShutdownGrace(d))
		s.logger.Debug().Dur("idle_grace", d).Msg("restoring idle grace")
	}
	return opts, nil
}

// TrackVolume persists every acknowledged volume change published on bus
// until ctx ends.
func (s *Store) TrackVolume(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(events.EventPlayerVolume)
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			v, ok := ev.Payload["volume"].(int)
			if !ok {
				continue
			}
			if err := s.update(ctx, "volume", v); err != nil {
				s.logger.Warn().Err(err).Int("volume", v).Msg("volume not persisted")
			}
		}
	}
}

// Reset forgets every stored value so the next start uses the
// configuration again.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("id = ?", 1).Delete(&PlayerSettings{}).Error; err != nil {
		return fmt.Errorf("reset settings: %w", err)
	}
	s.publish(events.Payload{"reset": true})
	return nil
}
