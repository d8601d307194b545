/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/actuator"
	"github.com/friendsincode/doorkeeper/internal/door"
	"github.com/friendsincode/doorkeeper/internal/events"
	"github.com/friendsincode/doorkeeper/internal/logbuffer"
	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/openinghours"
)

// Door is the running scheduler and controller.
type Door interface {
	Current() (door.Decision, error)
	Status() (door.Status, error)
	Overwrite() (*models.Overwrite, error)
	SetOverwrite(ctx context.Context, state models.DoorState, until time.Time) (models.Overwrite, error)
	ClearOverwrite(ctx context.Context) error
	Open(ctx context.Context) error
}

// OpeningHours reads and edits the weekly schedule.
type OpeningHours interface {
	Schedule(ctx context.Context) (models.WeeklySchedule, error)
	Day(ctx context.Context, day models.Weekday) ([]models.TimeFrame, error)
	ReplaceDay(ctx context.Context, day models.Weekday, frames []models.TimeFrame) error
}

// Holidays lists public holidays per year.
type Holidays interface {
	Lookup(ctx context.Context, year int) []models.Holiday
}

// API exposes HTTP handlers.
type API struct {
	door     Door
	hours    OpeningHours
	holidays Holidays
	bus      *events.Bus
	logs     *logbuffer.Buffer
	logger   zerolog.Logger
}

// New creates the API router wrapper.
func New(d Door, hours OpeningHours, holidays Holidays, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		door:     d,
		hours:    hours,
		holidays: holidays,
		bus:      bus,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// SetLogBuffer enables the recent log endpoint.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logs = buf
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1/door", func(r chi.Router) {
		r.Get("/state", a.handleState)
		r.Post("/open", a.handleOpen)

		r.Route("/overwrite", func(r chi.Router) {
			r.Get("/", a.handleOverwriteGet)
			r.Put("/", a.handleOverwritePut)
			r.Delete("/", a.handleOverwriteDelete)
		})

		r.Route("/opening-hours", func(r chi.Router) {
			r.Get("/", a.handleOpeningHoursList)
			r.Get("/{day}", a.handleOpeningHoursGet)
			r.Put("/{day}", a.handleOpeningHoursPut)
		})

		r.Get("/holidays/{year}", a.handleHolidays)
		r.Get("/stream", a.handleStream)
		r.Get("/logs", a.handleLogs)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeServiceError maps domain errors onto HTTP responses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "validation_failed",
			"field":   verr.Field,
			"message": verr.Message,
		})
	case errors.Is(err, door.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "scheduler_not_running")
	case errors.Is(err, door.ErrNoDecision):
		writeError(w, http.StatusServiceUnavailable, "no_decision_yet")
	case errors.Is(err, openinghours.ErrVersionConflict):
		writeError(w, http.StatusConflict, "overwrite_changed")
	case errors.Is(err, actuator.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "actuator_timeout")
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
