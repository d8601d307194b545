/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package door

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/events"
	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/telemetry"
)

// Actuator moves the door into a state.
type Actuator interface {
	Drive(ctx context.Context, state models.DoorState) error
}

// Status describes what the controller last did.
type Status struct {
	Desired   models.DoorState `json:"desired,omitempty"`
	Applied   models.DoorState `json:"applied,omitempty"`
	AppliedAt time.Time        `json:"appliedAt,omitempty"`
	OpenUntil time.Time        `json:"openUntil,omitempty"`
	LastError string           `json:"lastError,omitempty"`
}

// Controller forwards decisions to the actuator one call at a time. Every
// decision is sent, even when it repeats the previous state, so a failed
// call is corrected by the next decision.
type Controller struct {
	actuator Actuator
	bus      *events.Bus
	openHold time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	// mu serializes actuator calls and guards the fields below.
	mu        sync.Mutex
	desired   models.DoorState
	applied   models.DoorState
	appliedAt time.Time
	openUntil time.Time
	lastErr   error
	restore   *time.Timer
	stopped   bool
}

// NewController creates a controller. bus may be nil.
func NewController(actuator Actuator, bus *events.Bus, openHold time.Duration, logger zerolog.Logger) *Controller {
	return &Controller{
		actuator: actuator,
		bus:      bus,
		openHold: openHold,
		now:      time.Now,
		logger:   logger.With().Str("component", "door_controller").Logger(),
	}
}

// Run applies decisions until the channel is closed.
func (c *Controller) Run(ctx context.Context, decisions <-chan Decision) {
	for d := range decisions {
		c.Apply(ctx, d)
	}

	c.mu.Lock()
	c.stopped = true
	if c.restore != nil {
		c.restore.Stop()
	}
	c.mu.Unlock()
}

// Apply drives the door to the decision's state unless a manual open is
// being held, in which case the state is applied when the hold ends.
func (c *Controller) Apply(ctx context.Context, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.desired = d.State
	if c.now().Before(c.openUntil) {
		c.logger.Debug().Str("state", string(d.State)).Msg("door held open, deferring")
		return
	}
	c.drive(ctx, d.State, events.Payload{"source": d.Source, "validUntil": d.Until})
}

// Open opens the door once and restores the scheduled state after the hold time.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.drive(ctx, models.DoorOpen, events.Payload{"source": "manual"}); err != nil {
		return err
	}

	c.openUntil = c.now().Add(c.openHold)
	if c.restore != nil {
		c.restore.Stop()
	}
	c.restore = time.AfterFunc(c.openHold, c.restoreScheduled)
	return nil
}

func (c *Controller) restoreScheduled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.openUntil = time.Time{}
	c.restore = nil
	if c.stopped || c.desired == "" {
		return
	}
	_ = c.drive(context.Background(), c.desired, events.Payload{"source": "restore"})
}

// drive calls the actuator. Callers hold mu.
func (c *Controller) drive(ctx context.Context, state models.DoorState, payload events.Payload) error {
	err := c.actuator.Drive(ctx, state)
	c.lastErr = err
	if err != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("actuate").Inc()
		c.logger.Warn().Err(err).Str("state", string(state)).Msg("actuation failed, retrying with the next decision")
		c.publish(events.EventActuatorFailed, events.Payload{"state": string(state), "error": err.Error()})
		return err
	}

	if state != c.applied {
		c.logger.Info().Str("from", string(c.applied)).Str("to", string(state)).Msg("door state changed")
	}
	c.applied = state
	c.appliedAt = c.now()
	telemetry.SetDoorState(string(state))

	payload["state"] = string(state)
	payload["at"] = c.appliedAt
	c.publish(events.EventDoorState, payload)
	return nil
}

func (c *Controller) publish(eventType events.EventType, payload events.Payload) {
	if c.bus != nil {
		c.bus.Publish(eventType, payload)
	}
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Desired:   c.desired,
		Applied:   c.applied,
		AppliedAt: c.appliedAt,
	}
	if c.now().Before(c.openUntil) {
		st.OpenUntil = c.openUntil
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}
