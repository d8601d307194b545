/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MinutesPerDay is the number of minutes between two midnights.
const MinutesPerDay = 24 * 60

var (
	ErrInvalidTimeFrame = errors.New("invalid time frame")
	ErrInvalidOverwrite = errors.New("invalid overwrite")
	ErrInvalidDelay     = errors.New("invalid delay")
	ErrInvalidWeekday   = errors.New("invalid weekday")
	ErrInvalidDoorState = errors.New("invalid door state")
)

// ValidationError reports which field of a configuration value was rejected.
type ValidationError struct {
	Field   string
	Message string
	kind    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap returns the sentinel for the rejected value kind.
func (e *ValidationError) Unwrap() error {
	return e.kind
}

func invalid(kind error, field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), kind: kind}
}

// DoorState enumerates the physical states of the entry door.
type DoorState string

const (
	DoorLocked   DoorState = "locked"
	DoorUnlocked DoorState = "unlocked"
	DoorOpen     DoorState = "open"
)

// ParseDoorState converts an operator supplied state name.
func ParseDoorState(s string) (DoorState, error) {
	switch DoorState(strings.ToLower(strings.TrimSpace(s))) {
	case DoorLocked, "lock":
		return DoorLocked, nil
	case DoorUnlocked, "unlock":
		return DoorUnlocked, nil
	case DoorOpen:
		return DoorOpen, nil
	}
	return "", invalid(ErrInvalidDoorState, "state", "unknown door state %q", s)
}

// Weekday is an ISO-8601 weekday number, 1 (Monday) to 7 (Sunday).
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// ISOWeekday returns the ISO weekday of t in t's location.
func ISOWeekday(t time.Time) Weekday {
	wd := t.Weekday()
	if wd == time.Sunday {
		return Sunday
	}
	return Weekday(wd)
}

// Valid reports whether d is within 1..7.
func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return time.Weekday(int(d) % 7).String()
}

var weekdayNames = map[string]Weekday{
	"monday": Monday, "mon": Monday, "montag": Monday, "mo": Monday,
	"tuesday": Tuesday, "tue": Tuesday, "dienstag": Tuesday, "di": Tuesday,
	"wednesday": Wednesday, "wed": Wednesday, "mittwoch": Wednesday, "mi": Wednesday,
	"thursday": Thursday, "thu": Thursday, "donnerstag": Thursday, "do": Thursday,
	"friday": Friday, "fri": Friday, "freitag": Friday, "fr": Friday,
	"saturday": Saturday, "sat": Saturday, "samstag": Saturday, "sa": Saturday,
	"sunday": Sunday, "sun": Sunday, "sonntag": Sunday, "so": Sunday,
}

// ParseWeekday accepts an ISO weekday number or an English or German day name.
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= '1' && s[0] <= '7' {
		return Weekday(s[0] - '0'), nil
	}
	if d, ok := weekdayNames[s]; ok {
		return d, nil
	}
	return 0, invalid(ErrInvalidWeekday, "day", "unknown weekday %q", s)
}

// TimeFrame is a contiguous unlock window within a day, in minutes since midnight.
type TimeFrame struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Validate checks range and ordering.
func (f TimeFrame) Validate() error {
	if f.Start < 0 || f.Start >= MinutesPerDay {
		return invalid(ErrInvalidTimeFrame, "start", "must be within [0, %d], got %d", MinutesPerDay-1, f.Start)
	}
	if f.End < 0 || f.End >= MinutesPerDay {
		return invalid(ErrInvalidTimeFrame, "end", "must be within [0, %d], got %d", MinutesPerDay-1, f.End)
	}
	if f.End <= f.Start {
		return invalid(ErrInvalidTimeFrame, "end", "end must be after start")
	}
	return nil
}

func (f TimeFrame) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", f.Start/60, f.Start%60, f.End/60, f.End%60)
}

// WeeklySchedule maps ISO weekdays to ordered, non-overlapping time frames.
type WeeklySchedule map[Weekday][]TimeFrame

// Frames returns the frames configured for day. A missing day yields nil.
func (s WeeklySchedule) Frames(day Weekday) []TimeFrame {
	if s == nil {
		return nil
	}
	return s[day]
}

// Clone returns a deep copy.
func (s WeeklySchedule) Clone() WeeklySchedule {
	out := make(WeeklySchedule, len(s))
	for day, frames := range s {
		out[day] = append([]TimeFrame(nil), frames...)
	}
	return out
}

// ValidateFrames checks frames of a single day and returns them sorted by start.
func ValidateFrames(frames []TimeFrame) ([]TimeFrame, error) {
	sorted := append([]TimeFrame(nil), frames...)
	for i, f := range sorted {
		if err := f.Validate(); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				verr.Field = fmt.Sprintf("frames[%d].%s", i, verr.Field)
			}
			return nil, err
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return nil, invalid(ErrInvalidTimeFrame, "frames", "%s overlaps %s", sorted[i], sorted[i-1])
		}
	}
	return sorted, nil
}

// ValidateWeekday returns an error unless d is Monday through Sunday.
func ValidateWeekday(d Weekday) error {
	if !d.Valid() {
		return invalid(ErrInvalidWeekday, "day", "weekday %d out of range", int(d))
	}
	return nil
}

// Validate checks every day of the schedule.
func (s WeeklySchedule) Validate() error {
	for day, frames := range s {
		if err := ValidateWeekday(day); err != nil {
			return err
		}
		if _, err := ValidateFrames(frames); err != nil {
			return fmt.Errorf("%s: %w", day, err)
		}
	}
	return nil
}

// Overwrite forces a door state until an absolute deadline.
type Overwrite struct {
	State DoorState `json:"state"`
	Until time.Time `json:"until"`
}

// Validate checks the overwrite against the current time.
func (o Overwrite) Validate(now time.Time) error {
	switch o.State {
	case DoorLocked, DoorUnlocked:
	case DoorOpen:
		return invalid(ErrInvalidOverwrite, "state", "open is a momentary action and cannot be held")
	default:
		return invalid(ErrInvalidOverwrite, "state", "unknown door state %q", o.State)
	}
	if o.Until.IsZero() {
		return invalid(ErrInvalidOverwrite, "until", "must be set")
	}
	if !o.Until.After(now) {
		return invalid(ErrInvalidOverwrite, "until", "must not be before now")
	}
	return nil
}

// Active reports whether the overwrite still applies at now.
func (o *Overwrite) Active(now time.Time) bool {
	return o != nil && now.Before(o.Until)
}

// Delay widens every time frame to compensate for actuation lag.
type Delay struct {
	Before int `json:"before"`
	After  int `json:"after"`
}

// Validate rejects negative delays.
func (d Delay) Validate() error {
	if d.Before < 0 {
		return invalid(ErrInvalidDelay, "delay.before", "must not be negative, got %d", d.Before)
	}
	if d.After < 0 {
		return invalid(ErrInvalidDelay, "delay.after", "must not be negative, got %d", d.After)
	}
	return nil
}

// Holiday is a public holiday on a calendar date.
type Holiday struct {
	Date      string `json:"date"`
	Name      string `json:"name"`
	LocalName string `json:"localName"`
}

// DateKey formats t as the calendar date used by Holiday.Date.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
