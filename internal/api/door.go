/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/doorkeeper/internal/door"
	"github.com/friendsincode/doorkeeper/internal/models"
)

type stateResponse struct {
	Decision door.Decision `json:"decision"`
	Door     door.Status   `json:"door"`
}

type overwriteRequest struct {
	State string    `json:"state"`
	Until time.Time `json:"until"`
}

type overwriteResponse struct {
	Overwrite *models.Overwrite `json:"overwrite"`
}

type dayRequest struct {
	Frames []models.TimeFrame `json:"frames"`
}

type dayResponse struct {
	Day    models.Weekday     `json:"day"`
	Name   string             `json:"name"`
	Frames []models.TimeFrame `json:"frames"`
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	d, err := a.door.Current()
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	st, err := a.door.Status()
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Decision: d, Door: st})
}

func (a *API) handleOpen(w http.ResponseWriter, r *http.Request) {
	if err := a.door.Open(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	st, _ := a.door.Status()
	writeJSON(w, http.StatusAccepted, st)
}

func (a *API) handleOverwriteGet(w http.ResponseWriter, r *http.Request) {
	ow, err := a.door.Overwrite()
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overwriteResponse{Overwrite: ow})
}

func (a *API) handleOverwritePut(w http.ResponseWriter, r *http.Request) {
	var req overwriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	state, err := models.ParseDoorState(req.State)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	ow, err := a.door.SetOverwrite(r.Context(), state, req.Until)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.logger.Info().
		Str("state", string(ow.State)).
		Time("until", ow.Until).
		Str("remote", r.RemoteAddr).
		Msg("overwrite set via api")
	writeJSON(w, http.StatusOK, overwriteResponse{Overwrite: &ow})
}

func (a *API) handleOverwriteDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.door.ClearOverwrite(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOpeningHoursList(w http.ResponseWriter, r *http.Request) {
	schedule, err := a.hours.Schedule(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	days := make([]dayResponse, 0, 7)
	for day := models.Monday; day <= models.Sunday; day++ {
		frames := schedule.Frames(day)
		if frames == nil {
			frames = []models.TimeFrame{}
		}
		days = append(days, dayResponse{Day: day, Name: day.String(), Frames: frames})
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

// dayParam resolves the {day} path segment. It accepts an ISO weekday
// number or an English or German day name.
func dayParam(r *http.Request) (models.Weekday, error) {
	return models.ParseWeekday(chi.URLParam(r, "day"))
}

func (a *API) handleOpeningHoursGet(w http.ResponseWriter, r *http.Request) {
	day, err := dayParam(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	frames, err := a.hours.Day(r.Context(), day)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dayResponse{Day: day, Name: day.String(), Frames: frames})
}

func (a *API) handleOpeningHoursPut(w http.ResponseWriter, r *http.Request) {
	day, err := dayParam(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	var req dayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Frames == nil {
		req.Frames = []models.TimeFrame{}
	}

	if err := a.hours.ReplaceDay(r.Context(), day, req.Frames); err != nil {
		a.writeServiceError(w, err)
		return
	}

	frames := append([]models.TimeFrame(nil), req.Frames...)
	sort.Slice(frames, func(i, j int) bool { return frames[i].Start < frames[j].Start })
	writeJSON(w, http.StatusOK, dayResponse{Day: day, Name: day.String(), Frames: frames})
}

func (a *API) handleHolidays(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 || year > 2200 {
		writeError(w, http.StatusBadRequest, "invalid_year")
		return
	}
	holidays := a.holidays.Lookup(r.Context(), year)
	if holidays == nil {
		holidays = []models.Holiday{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "holidays": holidays})
}
