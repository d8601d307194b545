/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package door

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/events"
)

// Elector reports leadership of this instance.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// RunFunc runs the scheduler and controller for one leadership term.
type RunFunc func(ctx context.Context) error

// LeaderAware runs a RunFunc only while this instance is the leader. Each
// term gets a fresh context; the previous term has fully stopped before a
// new one starts.
type LeaderAware struct {
	run      RunFunc
	election Elector
	bus      *events.Bus
	logger   zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLeaderAware creates a leader-aware runner. bus may be nil.
func NewLeaderAware(run RunFunc, election Elector, bus *events.Bus, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		run:      run,
		election: election,
		bus:      bus,
		logger:   logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Run campaigns for leadership and manages terms until ctx is cancelled.
func (l *LeaderAware) Run(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	if err := l.election.Start(ctx); err != nil {
		return err
	}
	defer func() {
		l.stopTerm()
		if err := l.election.Stop(); err != nil {
			l.logger.Warn().Err(err).Msg("failed to stop election")
		}
	}()

	if l.election.IsLeader() {
		l.startTerm()
	}

	leaderCh := l.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case isLeader := <-leaderCh:
			if l.bus != nil {
				l.bus.Publish(events.EventLeadership, events.Payload{"leader": isLeader})
			}
			if isLeader {
				l.logger.Info().Msg("became leader, starting door scheduler")
				l.startTerm()
			} else {
				l.logger.Warn().Msg("lost leadership, stopping door scheduler")
				l.stopTerm()
			}
		}
	}
}

// Running reports whether a term is active.
func (l *LeaderAware) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

func (l *LeaderAware) startTerm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(l.ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done

	go func() {
		defer close(done)
		if err := l.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("door scheduler term failed")
		}
	}()
}

func (l *LeaderAware) stopTerm() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
