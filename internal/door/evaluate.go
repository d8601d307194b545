/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package door decides whether the entry door is locked or unlocked and
// keeps the actuator in line with that decision.
package door

import (
	"time"

	"github.com/friendsincode/doorkeeper/internal/models"
)

// LookaheadDays bounds the search for the next unlock window.
const LookaheadDays = 7

// Decision sources.
const (
	SourceOverwrite = "overwrite"
	SourceSchedule  = "schedule"
	SourceHoliday   = "holiday"
)

// HolidayChecker reports whether a calendar date is a public holiday.
type HolidayChecker interface {
	Contains(t time.Time) bool
}

// Config is an immutable scheduling snapshot.
type Config struct {
	Schedule  models.WeeklySchedule
	Overwrite *models.Overwrite
	Delay     models.Delay
}

// Decision is the outcome of Evaluate.
type Decision struct {
	State models.DoorState `json:"state"`
	// Until is when the decision may change. Zero means unknown within the
	// lookahead; callers re-evaluate on their next tick.
	Until       time.Time `json:"validUntil"`
	Source      string    `json:"source"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
	// OverwriteExpired is set when cfg carried an overwrite that no longer
	// applies at now. The caller is expected to clear it.
	OverwriteExpired bool `json:"-"`
}

// HasUntil reports whether the decision carries an expiry.
func (d Decision) HasUntil() bool {
	return !d.Until.IsZero()
}

// Evaluate computes the door state at now. It has no side effects; frames
// are expected to be validated and non-overlapping. holidays may be nil and
// must cover now's date through LookaheadDays after it.
func Evaluate(now time.Time, cfg Config, holidays HolidayChecker) Decision {
	d := Decision{EvaluatedAt: now}

	if cfg.Overwrite != nil {
		if cfg.Overwrite.Active(now) {
			d.State = cfg.Overwrite.State
			d.Until = cfg.Overwrite.Until
			d.Source = SourceOverwrite
			return d
		}
		d.OverwriteExpired = true
	}

	holiday := isHoliday(holidays, now)
	minute := now.Hour()*60 + now.Minute()

	if !holiday {
		for _, f := range cfg.Schedule.Frames(models.ISOWeekday(now)) {
			from, to := window(f, cfg.Delay)
			if minute >= from && minute < to {
				d.State = models.DoorUnlocked
				d.Until = minuteOf(now, to)
				d.Source = SourceSchedule
				return d
			}
		}
	}

	d.State = models.DoorLocked
	d.Until = nextUnlock(now, cfg, holidays)
	d.Source = SourceSchedule
	if holiday {
		d.Source = SourceHoliday
	}
	return d
}

// window returns the delay adjusted [from, to) minutes of f, clamped to the day.
func window(f models.TimeFrame, delay models.Delay) (int, int) {
	from := f.Start - delay.Before
	if from < 0 {
		from = 0
	}
	to := f.End + delay.After
	if to > models.MinutesPerDay {
		to = models.MinutesPerDay
	}
	return from, to
}

// nextUnlock scans today and the following LookaheadDays days for the first
// window opening after now, skipping holidays.
func nextUnlock(now time.Time, cfg Config, holidays HolidayChecker) time.Time {
	for offset := 0; offset <= LookaheadDays; offset++ {
		day := dayStart(now).AddDate(0, 0, offset)
		if isHoliday(holidays, day) {
			continue
		}
		var next time.Time
		for _, f := range cfg.Schedule.Frames(models.ISOWeekday(day)) {
			from, _ := window(f, cfg.Delay)
			at := minuteOf(day, from)
			if at.After(now) && (next.IsZero() || at.Before(next)) {
				next = at
			}
		}
		if !next.IsZero() {
			return next
		}
	}
	return time.Time{}
}

func isHoliday(holidays HolidayChecker, t time.Time) bool {
	return holidays != nil && holidays.Contains(t)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// minuteOf returns the wall clock instant minute minutes after midnight of t's date.
func minuteOf(t time.Time, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, minute, 0, 0, t.Location())
}
