package main

import (
	"errors"
	"testing"

	"github.com/friendsincode/doorkeeper/internal/models"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"08:30", 510, false},
		{" 23:59 ", 1439, false},
		{"24:00", 0, true},
		{"8", 0, true},
		{"08:5", 0, true},
		{"08:60", 0, true},
		{"ab:cd", 0, true},
	}
	for _, tt := range tests {
		got, err := parseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseHoursFile(t *testing.T) {
	data := []byte(`
monday:
  - from: "14:00"
    to: "18:00"
  - from: "08:00"
    to: "12:00"
dienstag:
  - from: "08:00"
    to: "18:00"
sonntag: []
`)
	schedule, err := parseHoursFile(data)
	if err != nil {
		t.Fatalf("parseHoursFile() error = %v", err)
	}

	mon := schedule.Frames(models.Monday)
	if len(mon) != 2 || mon[0].Start != 480 || mon[1].End != 1080 {
		t.Errorf("monday = %v", mon)
	}
	if tue := schedule.Frames(models.Tuesday); len(tue) != 1 {
		t.Errorf("tuesday = %v", tue)
	}
	if sun := schedule.Frames(models.Sunday); len(sun) != 0 {
		t.Errorf("sunday = %v", sun)
	}
}

func TestParseHoursFileRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		is   error
	}{
		{"unknown day", "someday: []", models.ErrInvalidWeekday},
		{"overlap", "monday: [{from: \"08:00\", to: \"12:00\"}, {from: \"11:00\", to: \"13:00\"}]", models.ErrInvalidTimeFrame},
		{"reversed", "monday: [{from: \"12:00\", to: \"08:00\"}]", models.ErrInvalidTimeFrame},
		{"duplicate day", "monday: []\nmontag: []", nil},
		{"bad clock", "monday: [{from: \"8\", to: \"12:00\"}]", nil},
		{"not yaml", "monday: [", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseHoursFile([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error = %v, want %v", err, tt.is)
			}
		})
	}
}
