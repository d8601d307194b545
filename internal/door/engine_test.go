package door

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/doorkeeper/internal/models"
)

func TestEngineNotRunning(t *testing.T) {
	e := NewEngine(EngineOptions{}, zerolog.Nop())

	if _, err := e.Current(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Current() error = %v", err)
	}
	if err := e.Open(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Open() error = %v", err)
	}
	if _, err := e.SetOverwrite(context.Background(), models.DoorLocked, time.Now().Add(time.Hour)); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SetOverwrite() error = %v", err)
	}
	e.Trigger()
}

func TestEngineDrivesActuator(t *testing.T) {
	store := newFakeStore(weekdaySchedule)
	act := &fakeActuator{}
	ticker := &manualTicker{ch: make(chan time.Time)}
	e := NewEngine(EngineOptions{
		Scheduler: Options{Store: store, Ticker: ticker, Location: time.UTC},
		Actuator:  act,
		OpenHold:  time.Second,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, func() bool { return len(act.history()) >= 1 }, "actuator never called")
	if _, err := e.Current(); err != nil {
		t.Errorf("Current() error = %v", err)
	}
	if st, err := e.Status(); err != nil || st.Applied == "" {
		t.Errorf("Status() = %+v, %v", st, err)
	}

	ow, err := e.SetOverwrite(ctx, models.DoorLocked, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SetOverwrite() error = %v", err)
	}
	waitFor(t, func() bool {
		d, err := e.Current()
		return err == nil && d.Source == SourceOverwrite
	}, "overwrite not applied")
	if got, _ := e.Overwrite(); got == nil || !got.Until.Equal(ow.Until) {
		t.Errorf("Overwrite() = %+v", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if e.Running() {
		t.Error("engine still running after cancel")
	}
}
