/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/transport"
)

// Simulator answers actuator requests like the door controller would.
// It is used with the in-memory transport when no hardware is attached.
type Simulator struct {
	transport transport.Transport
	namespace string
	logger    zerolog.Logger

	mu    sync.Mutex
	state models.DoorState
	calls map[Method]int
	subs  []transport.Subscription
}

// NewSimulator creates a simulated door starting locked.
func NewSimulator(t transport.Transport, namespace string, logger zerolog.Logger) *Simulator {
	return &Simulator{
		transport: t,
		namespace: namespace,
		logger:    logger.With().Str("component", "door_simulator").Logger(),
		state:     models.DoorLocked,
		calls:     make(map[Method]int),
	}
}

// Start subscribes to the request topics of every method.
func (s *Simulator) Start(ctx context.Context) error {
	for _, method := range []Method{MethodLock, MethodUnlock, MethodOpen} {
		method := method
		sub, err := s.transport.Subscribe(ctx, RequestTopic(s.namespace, method), func(msg transport.Message) {
			s.handle(method, msg)
		})
		if err != nil {
			return errors.Join(fmt.Errorf("subscribe %s: %w", method, err), s.Stop())
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	s.logger.Info().Str("namespace", s.namespace).Msg("simulated door actuator listening")
	return nil
}

// Stop removes the request subscriptions.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.Unsubscribe())
	}
	return errors.Join(errs...)
}

func (s *Simulator) handle(method Method, msg transport.Message) {
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.ReplyTo == "" {
		s.logger.Warn().Str("topic", msg.Topic).Msg("ignoring malformed actuator request")
		return
	}

	s.mu.Lock()
	s.calls[method]++
	// open is momentary and leaves the latch as it was
	switch method {
	case MethodLock:
		s.state = models.DoorLocked
	case MethodUnlock:
		s.state = models.DoorUnlocked
	}
	state := s.state
	s.mu.Unlock()

	reply, _ := json.Marshal(map[string]string{"state": string(state)})
	if err := s.transport.Publish(context.Background(), req.ReplyTo, reply); err != nil {
		s.logger.Warn().Err(err).Str("reply_to", req.ReplyTo).Msg("failed to reply")
	}
}

// State returns the latch state.
func (s *Simulator) State() models.DoorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Calls returns how often method was requested.
func (s *Simulator) Calls(method Method) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}
