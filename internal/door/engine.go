/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package door

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/events"
	"github.com/friendsincode/doorkeeper/internal/models"
)

var (
	// ErrNotRunning is returned while this instance does not drive the door,
	// either before startup or because another instance holds leadership.
	ErrNotRunning = errors.New("door scheduler is not running on this instance")
	// ErrNoDecision is returned before the first evaluation finished.
	ErrNoDecision = errors.New("no door state decided yet")
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Scheduler Options
	Actuator  Actuator
	Bus       *events.Bus
	OpenHold  time.Duration
}

// Engine pairs a scheduler with a controller. Each call to Run starts a
// fresh pair, so it can serve as the RunFunc of a LeaderAware runner.
type Engine struct {
	opts   EngineOptions
	logger zerolog.Logger

	mu   sync.RWMutex
	svc  *Service
	ctrl *Controller
}

// NewEngine creates an engine. It does nothing until Run is called.
func NewEngine(opts EngineOptions, logger zerolog.Logger) *Engine {
	return &Engine{opts: opts, logger: logger}
}

// Run drives the door until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	svc, err := NewService(e.opts.Scheduler, e.logger)
	if err != nil {
		return err
	}
	ctrl := NewController(e.opts.Actuator, e.opts.Bus, e.opts.OpenHold, e.logger)

	e.mu.Lock()
	if e.svc != nil {
		e.mu.Unlock()
		return errors.New("door engine already running")
	}
	e.svc, e.ctrl = svc, ctrl
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.svc, e.ctrl = nil, nil
		e.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(ctx, svc.Decisions())
	}()

	err = svc.Run(ctx)
	<-done
	return err
}

func (e *Engine) active() (*Service, *Controller, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.svc == nil {
		return nil, nil, ErrNotRunning
	}
	return e.svc, e.ctrl, nil
}

// Running reports whether a scheduler is active.
func (e *Engine) Running() bool {
	_, _, err := e.active()
	return err == nil
}

// Current returns the latest decision.
func (e *Engine) Current() (Decision, error) {
	svc, _, err := e.active()
	if err != nil {
		return Decision{}, err
	}
	d, ok := svc.Current()
	if !ok {
		return Decision{}, ErrNoDecision
	}
	return d, nil
}

// Status returns what the controller last did.
func (e *Engine) Status() (Status, error) {
	_, ctrl, err := e.active()
	if err != nil {
		return Status{}, err
	}
	return ctrl.Status(), nil
}

// Overwrite returns the overwrite in effect, nil if none.
func (e *Engine) Overwrite() (*models.Overwrite, error) {
	svc, _, err := e.active()
	if err != nil {
		return nil, err
	}
	return svc.Overwrite(), nil
}

// SetOverwrite forces state until the given instant.
func (e *Engine) SetOverwrite(ctx context.Context, state models.DoorState, until time.Time) (models.Overwrite, error) {
	svc, _, err := e.active()
	if err != nil {
		return models.Overwrite{}, err
	}
	return svc.SetOverwrite(ctx, state, until)
}

// ClearOverwrite returns the door to the weekly schedule.
func (e *Engine) ClearOverwrite(ctx context.Context) error {
	svc, _, err := e.active()
	if err != nil {
		return err
	}
	return svc.ClearOverwrite(ctx)
}

// Open opens the door for the configured hold time.
func (e *Engine) Open(ctx context.Context) error {
	_, ctrl, err := e.active()
	if err != nil {
		return err
	}
	return ctrl.Open(ctx)
}

// Trigger asks the scheduler to re-evaluate now.
func (e *Engine) Trigger() {
	if svc, _, err := e.active(); err == nil {
		svc.Trigger()
	}
}
