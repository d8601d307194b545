package openinghours

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/doorkeeper/internal/events"
	"github.com/friendsincode/doorkeeper/internal/models"
)

func setupTestStore(t *testing.T) (*Store, *events.Bus) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.OpeningHour{}, &models.DoorSettings{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	bus := events.NewBus()
	return NewStore(db, bus, zerolog.Nop()), bus
}

func TestReplaceDayAndSchedule(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	// given out of order, stored sorted
	err := store.ReplaceDay(ctx, models.Wednesday, []models.TimeFrame{
		{Start: 14 * 60, End: 18 * 60},
		{Start: 8 * 60, End: 12 * 60},
	})
	if err != nil {
		t.Fatalf("ReplaceDay() error = %v", err)
	}
	if err := store.ReplaceDay(ctx, models.Monday, []models.TimeFrame{{Start: 480, End: 720}}); err != nil {
		t.Fatalf("ReplaceDay() error = %v", err)
	}

	schedule, err := store.Schedule(ctx)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	wed := schedule.Frames(models.Wednesday)
	if len(wed) != 2 || wed[0].Start != 480 || wed[1].Start != 840 {
		t.Errorf("wednesday = %v", wed)
	}
	if len(schedule.Frames(models.Monday)) != 1 {
		t.Errorf("monday = %v", schedule.Frames(models.Monday))
	}
	if len(schedule.Frames(models.Sunday)) != 0 {
		t.Errorf("sunday = %v, want closed", schedule.Frames(models.Sunday))
	}

	// replacing a day drops its old frames only
	if err := store.ReplaceDay(ctx, models.Wednesday, nil); err != nil {
		t.Fatalf("ReplaceDay(nil) error = %v", err)
	}
	frames, _ := store.Day(ctx, models.Wednesday)
	if len(frames) != 0 {
		t.Errorf("wednesday after clear = %v", frames)
	}
	frames, _ = store.Day(ctx, models.Monday)
	if len(frames) != 1 {
		t.Errorf("monday touched by wednesday update: %v", frames)
	}
}

func TestReplaceDayRejectsInvalidFrames(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	_ = store.ReplaceDay(ctx, models.Friday, []models.TimeFrame{{Start: 480, End: 600}})

	tests := []struct {
		name    string
		day     models.Weekday
		frames  []models.TimeFrame
		wantErr error
	}{
		{"inverted", models.Friday, []models.TimeFrame{{Start: 600, End: 480}}, models.ErrInvalidTimeFrame},
		{"zero length", models.Friday, []models.TimeFrame{{Start: 600, End: 600}}, models.ErrInvalidTimeFrame},
		{"out of range", models.Friday, []models.TimeFrame{{Start: 0, End: 1440}}, models.ErrInvalidTimeFrame},
		{"overlap", models.Friday, []models.TimeFrame{{Start: 480, End: 600}, {Start: 590, End: 700}}, models.ErrInvalidTimeFrame},
		{"bad weekday", models.Weekday(8), nil, models.ErrInvalidWeekday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.ReplaceDay(ctx, tt.day, tt.frames)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReplaceDay() error = %v, want %v", err, tt.wantErr)
			}
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("error %v is not a ValidationError", err)
			}
		})
	}

	// rejected writes leave the stored day untouched
	frames, _ := store.Day(ctx, models.Friday)
	if len(frames) != 1 || frames[0].Start != 480 {
		t.Errorf("friday = %v, want unchanged", frames)
	}
}

func TestReplaceWholeSchedule(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	_ = store.ReplaceDay(ctx, models.Sunday, []models.TimeFrame{{Start: 600, End: 660}})

	err := store.Replace(ctx, models.WeeklySchedule{
		models.Monday:  {{Start: 480, End: 1080}},
		models.Tuesday: {{Start: 480, End: 720}, {Start: 780, End: 1080}},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	schedule, _ := store.Schedule(ctx)
	if len(schedule) != 2 {
		t.Errorf("schedule has %d days, want 2", len(schedule))
	}
	if len(schedule.Frames(models.Sunday)) != 0 {
		t.Error("Replace kept a day missing from the new schedule")
	}

	bad := models.WeeklySchedule{models.Monday: {{Start: 480, End: 600}, {Start: 500, End: 700}}}
	if err := store.Replace(ctx, bad); !errors.Is(err, models.ErrInvalidTimeFrame) {
		t.Fatalf("Replace(overlapping) error = %v", err)
	}
	schedule, _ = store.Schedule(ctx)
	if len(schedule.Frames(models.Tuesday)) != 2 {
		t.Error("rejected Replace modified the schedule")
	}
}

func TestWatchEmitsFreshSchedule(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := store.Watch(ctx)
	if err := store.ReplaceDay(ctx, models.Thursday, []models.TimeFrame{{Start: 420, End: 1200}}); err != nil {
		t.Fatalf("ReplaceDay() error = %v", err)
	}

	select {
	case schedule := <-changes:
		if got := schedule.Frames(models.Thursday); len(got) != 1 || got[0].End != 1200 {
			t.Errorf("watched schedule = %v", schedule)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}

	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			// a pending value may still be drained once
			if _, ok := <-changes; ok {
				t.Error("watch channel not closed after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestOverwriteRoundTrip(t *testing.T) {
	store, bus := setupTestStore(t)
	ctx := context.Background()
	changed := bus.Subscribe(events.EventOverwriteChanged)

	ow, version, err := store.Overwrite(ctx)
	if err != nil {
		t.Fatalf("Overwrite() error = %v", err)
	}
	if ow != nil {
		t.Fatalf("fresh store has overwrite %+v", ow)
	}

	until := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	next, err := store.SaveOverwrite(ctx, &models.Overwrite{State: models.DoorLocked, Until: until}, version)
	if err != nil {
		t.Fatalf("SaveOverwrite() error = %v", err)
	}
	if next != version+1 {
		t.Errorf("version = %d, want %d", next, version+1)
	}

	ow, got, _ := store.Overwrite(ctx)
	if ow == nil || ow.State != models.DoorLocked || !ow.Until.Equal(until) {
		t.Fatalf("stored overwrite = %+v", ow)
	}
	if got != next {
		t.Errorf("stored version = %d, want %d", got, next)
	}

	select {
	case p := <-changed:
		if p["state"] != "locked" || p["active"] != true {
			t.Errorf("overwrite event = %v", p)
		}
	default:
		t.Error("no overwrite event published")
	}

	if _, err := store.SaveOverwrite(ctx, nil, next); err != nil {
		t.Fatalf("clear error = %v", err)
	}
	if ow, _, _ := store.Overwrite(ctx); ow != nil {
		t.Errorf("overwrite after clear = %+v", ow)
	}
}

func TestSaveOverwriteVersionConflict(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, version, _ := store.Overwrite(ctx)
	if _, err := store.SaveOverwrite(ctx, &models.Overwrite{State: models.DoorUnlocked, Until: time.Now().Add(time.Hour)}, version); err != nil {
		t.Fatalf("SaveOverwrite() error = %v", err)
	}

	// a second writer holding the old version loses
	if _, err := store.SaveOverwrite(ctx, nil, version); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale SaveOverwrite() error = %v, want ErrVersionConflict", err)
	}
	if ow, _, _ := store.Overwrite(ctx); ow == nil {
		t.Error("stale write cleared the overwrite")
	}
}

func TestConcurrentClearHappensOnce(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	_, v, _ := store.Overwrite(ctx)
	v, _ = store.SaveOverwrite(ctx, &models.Overwrite{State: models.DoorLocked, Until: time.Now().Add(-time.Minute)}, v)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.SaveOverwrite(ctx, nil, v); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("clears applied = %d, want 1", wins)
	}
}
