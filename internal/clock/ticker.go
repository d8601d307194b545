/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package clock provides tick sources aligned to wall-clock boundaries.
package clock

import (
	"context"
	"time"
)

// Ticker describes an interval aligned to the start of the hour. Every
// subscription keeps its own timer; subscriptions are not a broadcast.
type Ticker struct {
	interval time.Duration
	now      func() time.Time
}

// NewTicker creates a ticker firing every interval, phase-aligned to the hour.
// It panics if interval is not positive, matching time.NewTicker.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	return &Ticker{interval: interval, now: time.Now}
}

// Interval returns the tick period.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// UntilNextBoundary returns how long to wait from now until the next
// interval boundary counted from the start of now's hour. A time exactly on
// a boundary waits a full interval.
func UntilNextBoundary(now time.Time, interval time.Duration) time.Duration {
	sinceHour := time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second +
		time.Duration(now.Nanosecond())
	return interval - sinceHour%interval
}

// Subscribe starts a new aligned timer. The returned channel receives the
// first tick at the next boundary and then every interval. Cancelling ctx
// stops the timer and closes the channel. Like time.Ticker, a tick is
// dropped when the receiver is not ready.
func (t *Ticker) Subscribe(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time, 1)
	wait := UntilNextBoundary(t.now(), t.interval)

	go func() {
		defer close(out)

		first := time.NewTimer(wait)
		defer first.Stop()

		select {
		case <-ctx.Done():
			return
		case ts := <-first.C:
			deliver(out, ts)
		}

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ts := <-ticker.C:
				deliver(out, ts)
			}
		}
	}()

	return out
}

func deliver(out chan<- time.Time, ts time.Time) {
	select {
	case out <- ts:
	default:
	}
}
