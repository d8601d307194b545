/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package door

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/holiday"
	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/openinghours"
	"github.com/friendsincode/doorkeeper/internal/telemetry"
)

// ConfigStore is where the weekly schedule and the overwrite live.
type ConfigStore interface {
	Schedule(ctx context.Context) (models.WeeklySchedule, error)
	Watch(ctx context.Context) <-chan models.WeeklySchedule
	Overwrite(ctx context.Context) (*models.Overwrite, int64, error)
	SaveOverwrite(ctx context.Context, ow *models.Overwrite, expectedVersion int64) (int64, error)
}

// HolidaySource returns the holidays between two instants.
type HolidaySource interface {
	Between(ctx context.Context, from, to time.Time) holiday.Set
}

// Ticker drives periodic re-evaluation.
type Ticker interface {
	Subscribe(ctx context.Context) <-chan time.Time
	Interval() time.Duration
}

// Options configures a Service.
type Options struct {
	Store    ConfigStore
	Holidays HolidaySource // optional
	Ticker   Ticker
	Delay    models.Delay
	Location *time.Location
}

type snapshot struct {
	cfg     Config
	version int64
}

// Service re-evaluates the door state on every tick, on configuration
// changes and when the previous decision expires, and emits each decision
// in order on Decisions.
type Service struct {
	store    ConfigStore
	holidays HolidaySource
	ticker   Ticker
	delay    models.Delay
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger

	snap     atomic.Pointer[snapshot]
	current  atomic.Pointer[Decision]
	writeMu  sync.Mutex
	triggers chan struct{}

	decisions chan Decision
	started   atomic.Bool

	timerMu  sync.Mutex
	untilTmr *time.Timer
}

// NewService creates a scheduler. Run may be called once.
func NewService(opts Options, logger zerolog.Logger) (*Service, error) {
	if opts.Store == nil || opts.Ticker == nil {
		return nil, errors.New("door service needs a store and a ticker")
	}
	if err := opts.Delay.Validate(); err != nil {
		return nil, err
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:     opts.Store,
		holidays:  opts.Holidays,
		ticker:    opts.Ticker,
		delay:     opts.Delay,
		loc:       loc,
		now:       time.Now,
		logger:    logger.With().Str("component", "door_scheduler").Logger(),
		triggers:  make(chan struct{}, 1),
		decisions: make(chan Decision, 1),
	}, nil
}

// Decisions returns the decision stream. It is closed when Run returns.
func (s *Service) Decisions() <-chan Decision {
	return s.decisions
}

// Current returns the most recent decision.
func (s *Service) Current() (Decision, bool) {
	d := s.current.Load()
	if d == nil {
		return Decision{}, false
	}
	return *d, true
}

// Overwrite returns the overwrite in effect, nil if none.
func (s *Service) Overwrite() *models.Overwrite {
	snap := s.snap.Load()
	if snap == nil || !snap.cfg.Overwrite.Active(s.now()) {
		return nil
	}
	ow := *snap.cfg.Overwrite
	return &ow
}

// Trigger requests a re-evaluation. Requests made while an evaluation is
// running are coalesced into one follow-up evaluation.
func (s *Service) Trigger() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Run evaluates until ctx is cancelled. Ticks arriving while an evaluation
// is in flight are dropped.
func (s *Service) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("door service already running")
	}
	defer close(s.decisions)
	defer s.stopUntilTimer()

	if err := s.reload(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial configuration load failed, retrying on next evaluation")
		telemetry.SchedulerErrorsTotal.WithLabelValues("load_config").Inc()
	}

	ticks := s.ticker.Subscribe(ctx)
	changes := s.store.Watch(ctx)
	finished := make(chan struct{}, 1)

	var wg sync.WaitGroup
	running, pending := false, false
	start := func(reason string) {
		running = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.evaluate(ctx, reason)
			finished <- struct{}{}
		}()
	}

	s.logger.Info().Dur("interval", s.ticker.Interval()).Msg("door scheduler started")
	start("startup")

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info().Msg("door scheduler stopped")
			return ctx.Err()

		case <-ticks:
			telemetry.SchedulerTicksTotal.Inc()
			if running {
				telemetry.SchedulerTicksDroppedTotal.Inc()
				s.logger.Warn().Msg("previous evaluation still running, dropping tick")
				continue
			}
			start("tick")

		case <-s.triggers:
			if running {
				pending = true
				continue
			}
			start("trigger")

		case schedule, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.applySchedule(schedule)
			if running {
				pending = true
				continue
			}
			start("schedule_changed")

		case <-finished:
			running = false
			if pending {
				pending = false
				start("coalesced")
			}
		}
	}
}

func (s *Service) evaluate(ctx context.Context, reason string) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerScheduler, "scheduler.evaluate")
	defer span.End()
	began := time.Now()

	snap := s.snap.Load()
	if snap == nil {
		if err := s.reload(ctx); err != nil {
			telemetry.RecordError(span, err)
			telemetry.SchedulerErrorsTotal.WithLabelValues("load_config").Inc()
			s.logger.Error().Err(err).Msg("no configuration available, skipping evaluation")
			return
		}
		snap = s.snap.Load()
	}

	now := s.now().In(s.loc)
	var holidays HolidayChecker
	if s.holidays != nil {
		holidays = s.holidays.Between(ctx, now, now.AddDate(0, 0, LookaheadDays+1))
	}

	d := Evaluate(now, snap.cfg, holidays)
	if d.OverwriteExpired {
		s.clearExpired(ctx, snap)
	}
	s.current.Store(&d)

	telemetry.SchedulerEvaluationDuration.Observe(time.Since(began).Seconds())
	telemetry.SchedulerEvaluationsTotal.WithLabelValues(string(d.State), d.Source).Inc()
	telemetry.AddSpanAttributes(span, map[string]any{
		"door.state":  string(d.State),
		"door.source": d.Source,
		"door.until":  d.Until,
		"reason":      reason,
	})

	event := s.logger.Debug().
		Str("reason", reason).
		Str("state", string(d.State)).
		Str("source", d.Source)
	if d.HasUntil() {
		event = event.Time("valid_until", d.Until)
	}
	event.Msg("door state evaluated")

	select {
	case s.decisions <- d:
	case <-ctx.Done():
		return
	}

	s.armUntilTimer(d)
}

// clearExpired persists the removal of an expired overwrite. The write is
// conditional on the version the decision was computed from, so it happens
// once per expiry even with concurrent writers.
func (s *Service) clearExpired(ctx context.Context, from *snapshot) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.snap.Load() != from {
		// configuration moved on; the follow-up evaluation sees the new one
		return
	}

	version, err := s.store.SaveOverwrite(ctx, nil, from.version)
	switch {
	case err == nil:
		next := *from
		next.cfg.Overwrite = nil
		next.version = version
		s.snap.Store(&next)
		telemetry.OverwriteClearsTotal.Inc()
		s.logger.Warn().
			Str("state", string(from.cfg.Overwrite.State)).
			Time("until", from.cfg.Overwrite.Until).
			Msg("overwrite expired and was cleared")
	case errors.Is(err, openinghours.ErrVersionConflict):
		s.logger.Info().Msg("overwrite changed while clearing, reloading")
		if err := s.reloadLocked(ctx); err != nil {
			s.logger.Error().Err(err).Msg("reload after conflict failed")
		}
		s.Trigger()
	default:
		telemetry.SchedulerErrorsTotal.WithLabelValues("clear_overwrite").Inc()
		s.logger.Error().Err(err).Msg("failed to clear expired overwrite")
	}
}

// SetOverwrite forces state until the given instant. Only locked and
// unlocked can be forced.
func (s *Service) SetOverwrite(ctx context.Context, state models.DoorState, until time.Time) (models.Overwrite, error) {
	ow := models.Overwrite{State: state, Until: until}
	if err := ow.Validate(s.now()); err != nil {
		return models.Overwrite{}, err
	}
	if err := s.saveOverwrite(ctx, &ow); err != nil {
		return models.Overwrite{}, err
	}
	s.logger.Info().Str("state", string(state)).Time("until", until).Msg("overwrite set")
	return ow, nil
}

// ClearOverwrite returns the door to the weekly schedule.
func (s *Service) ClearOverwrite(ctx context.Context) error {
	if err := s.saveOverwrite(ctx, nil); err != nil {
		return err
	}
	s.logger.Info().Msg("overwrite cleared")
	return nil
}

func (s *Service) saveOverwrite(ctx context.Context, ow *models.Overwrite) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, version, err := s.store.Overwrite(ctx)
	if err != nil {
		return err
	}
	next, err := s.store.SaveOverwrite(ctx, ow, version)
	if err != nil {
		return err
	}

	cur := s.snap.Load()
	if cur == nil {
		if err := s.reloadLocked(ctx); err != nil {
			return fmt.Errorf("overwrite saved but reload failed: %w", err)
		}
	} else {
		snap := *cur
		snap.cfg.Overwrite = ow
		snap.version = next
		s.snap.Store(&snap)
	}
	s.Trigger()
	return nil
}

func (s *Service) applySchedule(schedule models.WeeklySchedule) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.snap.Load()
	if cur == nil {
		return
	}
	snap := *cur
	snap.cfg.Schedule = schedule
	s.snap.Store(&snap)
	s.logger.Info().Int("days", len(schedule)).Msg("weekly schedule reloaded")
}

func (s *Service) reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.reloadLocked(ctx)
}

func (s *Service) reloadLocked(ctx context.Context) error {
	schedule, err := s.store.Schedule(ctx)
	if err != nil {
		return err
	}
	ow, version, err := s.store.Overwrite(ctx)
	if err != nil {
		return err
	}
	s.snap.Store(&snapshot{
		cfg:     Config{Schedule: schedule, Overwrite: ow, Delay: s.delay},
		version: version,
	})
	return nil
}

// armUntilTimer schedules an evaluation at the decision's expiry when it
// comes before the next tick.
func (s *Service) armUntilTimer(d Decision) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.untilTmr != nil {
		s.untilTmr.Stop()
		s.untilTmr = nil
	}
	if !d.HasUntil() {
		return
	}
	wait := d.Until.Sub(s.now())
	if wait <= 0 || wait >= s.ticker.Interval() {
		return
	}
	s.untilTmr = time.AfterFunc(wait, s.Trigger)
}

func (s *Service) stopUntilTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.untilTmr != nil {
		s.untilTmr.Stop()
		s.untilTmr = nil
	}
}
