/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package openinghours persists the weekly unlock schedule and the operator
// overwrite, and notifies watchers when the schedule changes.
package openinghours

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/doorkeeper/internal/events"
	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/telemetry"
)

// ErrVersionConflict is returned by SaveOverwrite when the stored overwrite
// changed since it was read.
var ErrVersionConflict = errors.New("overwrite changed concurrently")

const settingsID = 1

// Store reads and writes opening hours.
type Store struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewStore creates a store. bus may be nil when no change notifications are needed.
func NewStore(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "opening_hours").Logger(),
	}
}

// Schedule returns the full weekly schedule, frames ordered by start.
func (s *Store) Schedule(ctx context.Context) (models.WeeklySchedule, error) {
	var rows []models.OpeningHour
	if err := s.db.WithContext(ctx).Order("weekday, start_minute").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load opening hours: %w", err)
	}

	schedule := make(models.WeeklySchedule)
	for _, row := range rows {
		schedule[row.Weekday] = append(schedule[row.Weekday], models.TimeFrame{Start: row.Start, End: row.End})
	}
	return schedule, nil
}

// Day returns the frames of a single weekday.
func (s *Store) Day(ctx context.Context, day models.Weekday) ([]models.TimeFrame, error) {
	if err := models.ValidateWeekday(day); err != nil {
		return nil, err
	}

	var rows []models.OpeningHour
	if err := s.db.WithContext(ctx).Where("weekday = ?", day).Order("start_minute").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s: %w", day, err)
	}

	frames := make([]models.TimeFrame, 0, len(rows))
	for _, row := range rows {
		frames = append(frames, models.TimeFrame{Start: row.Start, End: row.End})
	}
	return frames, nil
}

// ReplaceDay replaces the frames of day. An empty frames slice closes the day.
func (s *Store) ReplaceDay(ctx context.Context, day models.Weekday, frames []models.TimeFrame) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerStore, "openinghours.replace_day")
	defer span.End()

	if err := models.ValidateWeekday(day); err != nil {
		return err
	}
	sorted, err := models.ValidateFrames(frames)
	if err != nil {
		return fmt.Errorf("%s: %w", day, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("weekday = ?", day).Delete(&models.OpeningHour{}).Error; err != nil {
			return err
		}
		return insertFrames(tx, day, sorted)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("replace %s: %w", day, err)
	}

	s.logger.Info().Str("day", day.String()).Int("frames", len(sorted)).Msg("opening hours updated")
	s.notify(events.Payload{"day": int(day)})
	return nil
}

// Replace replaces the whole weekly schedule. Days missing from schedule are closed.
func (s *Store) Replace(ctx context.Context, schedule models.WeeklySchedule) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerStore, "openinghours.replace")
	defer span.End()

	if err := schedule.Validate(); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.OpeningHour{}).Error; err != nil {
			return err
		}
		for day, frames := range schedule {
			sorted, _ := models.ValidateFrames(frames)
			if err := insertFrames(tx, day, sorted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("replace schedule: %w", err)
	}

	s.logger.Info().Int("days", len(schedule)).Msg("weekly schedule replaced")
	s.notify(events.Payload{})
	return nil
}

func insertFrames(tx *gorm.DB, day models.Weekday, frames []models.TimeFrame) error {
	if len(frames) == 0 {
		return nil
	}
	rows := make([]models.OpeningHour, 0, len(frames))
	for _, f := range frames {
		rows = append(rows, models.OpeningHour{Weekday: day, Start: f.Start, End: f.End})
	}
	return tx.Create(&rows).Error
}

func (s *Store) notify(payload events.Payload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventOpeningHoursChanged, payload)
}

// Watch emits the fresh schedule each time it is modified through any Store
// sharing the bus. The channel is closed when ctx is done.
func (s *Store) Watch(ctx context.Context) <-chan models.WeeklySchedule {
	out := make(chan models.WeeklySchedule, 1)
	if s.bus == nil {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out
	}

	sub := s.bus.Subscribe(events.EventOpeningHoursChanged)
	go func() {
		defer close(out)
		defer s.bus.Unsubscribe(events.EventOpeningHoursChanged, sub)

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub:
				if !ok {
					return
				}
				schedule, err := s.Schedule(ctx)
				if err != nil {
					s.logger.Warn().Err(err).Msg("failed to reload changed schedule")
					continue
				}
				// keep only the newest schedule for a slow reader
				select {
				case <-out:
				default:
				}
				out <- schedule
			}
		}
	}()
	return out
}

// Overwrite returns the persisted overwrite, nil if none, and the version
// to pass to SaveOverwrite.
func (s *Store) Overwrite(ctx context.Context) (*models.Overwrite, int64, error) {
	settings, err := models.GetDoorSettings(s.db.WithContext(ctx))
	if err != nil {
		return nil, 0, fmt.Errorf("load door settings: %w", err)
	}
	return settings.Overwrite(), settings.Version, nil
}

// SaveOverwrite stores ow (nil clears it) if the stored version still equals
// expectedVersion, and returns the new version.
func (s *Store) SaveOverwrite(ctx context.Context, ow *models.Overwrite, expectedVersion int64) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerStore, "openinghours.save_overwrite")
	defer span.End()

	// make sure the singleton exists before the conditional update
	if _, err := models.GetDoorSettings(s.db.WithContext(ctx)); err != nil {
		return 0, fmt.Errorf("load door settings: %w", err)
	}

	var state *string
	var until *time.Time
	if ow != nil {
		st := string(ow.State)
		u := ow.Until
		state, until = &st, &u
	}

	result := s.db.WithContext(ctx).
		Model(&models.DoorSettings{}).
		Where("id = ? AND version = ?", settingsID, expectedVersion).
		Updates(map[string]any{
			"overwrite_state": state,
			"overwrite_until": until,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		telemetry.RecordError(span, result.Error)
		return 0, fmt.Errorf("save overwrite: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, ErrVersionConflict
	}

	payload := events.Payload{"active": ow != nil}
	if ow != nil {
		payload["state"] = string(ow.State)
		payload["until"] = ow.Until
	}
	if s.bus != nil {
		s.bus.Publish(events.EventOverwriteChanged, payload)
	}
	return expectedVersion + 1, nil
}
