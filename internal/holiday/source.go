/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package holiday provides public holiday lookups fronted by a bounded cache.
//
// Lookup failures never reach the caller: a year that cannot be fetched is
// reported as having no holidays, so scheduled unlock windows stay in effect
// during a data source outage.
package holiday

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/cache"
	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/telemetry"
)

// Fetcher retrieves holidays for a year from the authoritative source.
type Fetcher interface {
	Fetch(ctx context.Context, year int) ([]models.Holiday, error)
}

// SharedStore is an optional second cache tier shared between instances.
type SharedStore interface {
	GetHolidays(ctx context.Context, country string, year int) ([]models.Holiday, bool)
	SetHolidays(ctx context.Context, country string, year int, holidays []models.Holiday) error
}

// Config configures a Service.
type Config struct {
	Country      string
	CacheSize    int
	CacheMaxAge  time.Duration
	FetchTimeout time.Duration
}

// Service answers holiday queries per year.
type Service struct {
	fetcher Fetcher
	shared  SharedStore
	country string
	timeout time.Duration
	years   *cache.LRU[int, []models.Holiday]
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService creates the holiday service. shared may be nil.
func NewService(cfg Config, fetcher Fetcher, shared SharedStore, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		fetcher: fetcher,
		shared:  shared,
		country: cfg.Country,
		timeout: cfg.FetchTimeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "holidays").Str("country", cfg.Country).Logger(),
	}

	years, err := cache.NewLRU(cache.Options[int, []models.Holiday]{
		MaxSize:       cfg.CacheSize,
		MaxAge:        cfg.CacheMaxAge,
		EvictInterval: evictInterval(cfg.CacheMaxAge),
		Loader:        s.load,
		OnEvict: func(year int, _ []models.Holiday, reason cache.EvictReason) {
			telemetry.CacheEvictionsTotal.WithLabelValues("holidays", string(reason)).Inc()
			s.logger.Debug().Int("year", year).Str("reason", string(reason)).Msg("holiday year evicted")
		},
	})
	if err != nil {
		return nil, err
	}
	s.years = years
	return s, nil
}

func evictInterval(maxAge time.Duration) time.Duration {
	if maxAge <= 0 {
		return 0
	}
	if maxAge < time.Hour {
		return maxAge
	}
	return time.Hour
}

// Close stops background eviction.
func (s *Service) Close() {
	s.years.Close()
}

// HolidaysForYear returns the holidays of year, possibly empty.
func (s *Service) HolidaysForYear(ctx context.Context, year int) []models.Holiday {
	holidays, _ := s.years.Get(ctx, year)
	return holidays
}

// Lookup answers an ad hoc query for year. Years next to the current one go
// through the cache; any other year is served from the cache when present and
// otherwise loaded without being cached, so the years the scheduler needs stay put.
func (s *Service) Lookup(ctx context.Context, year int) []models.Holiday {
	current := s.now().Year()
	if year >= current-1 && year <= current+1 {
		return s.HolidaysForYear(ctx, year)
	}
	if holidays, ok := s.years.Peek(year); ok {
		return holidays
	}
	holidays, _ := s.load(ctx, year)
	return holidays
}

// IsHoliday reports whether t's calendar date is a holiday.
func (s *Service) IsHoliday(ctx context.Context, t time.Time) bool {
	key := models.DateKey(t)
	for _, h := range s.HolidaysForYear(ctx, t.Year()) {
		if h.Date == key {
			return true
		}
	}
	return false
}

// Between returns the holidays of every year touched by [from, to] keyed by date.
func (s *Service) Between(ctx context.Context, from, to time.Time) Set {
	set := make(Set)
	for year := from.Year(); year <= to.Year(); year++ {
		set.Add(s.HolidaysForYear(ctx, year)...)
	}
	return set
}

func (s *Service) load(ctx context.Context, year int) ([]models.Holiday, bool) {
	if s.shared != nil {
		if holidays, ok := s.shared.GetHolidays(ctx, s.country, year); ok {
			telemetry.HolidayLookupsTotal.WithLabelValues("shared").Inc()
			return holidays, true
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	holidays, err := s.fetcher.Fetch(ctx, year)
	if err != nil {
		telemetry.HolidayLookupsTotal.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Int("year", year).Msg("holiday fetch failed, assuming no holidays")
		return nil, false
	}
	telemetry.HolidayLookupsTotal.WithLabelValues("fetched").Inc()

	if s.shared != nil {
		if err := s.shared.SetHolidays(ctx, s.country, year, holidays); err != nil {
			s.logger.Debug().Err(err).Int("year", year).Msg("failed to share holiday list")
		}
	}
	return holidays, true
}

// Set indexes holidays by calendar date.
type Set map[string]models.Holiday

// Add inserts holidays into the set.
func (s Set) Add(holidays ...models.Holiday) {
	for _, h := range holidays {
		s[h.Date] = h
	}
}

// Contains reports whether t's calendar date is in the set.
func (s Set) Contains(t time.Time) bool {
	if s == nil {
		return false
	}
	_, ok := s[models.DateKey(t)]
	return ok
}
