/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/doorkeeper/internal/db"
	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/openinghours"
)

var importDryRun bool

var importHoursCmd = &cobra.Command{
	Use:   "import-hours <file.yaml>",
	Short: "Replace the weekly opening hours from a YAML file",
	Long: `Replace the stored weekly opening hours with the ones in a YAML file.
Days may be given as ISO numbers or English or German names. Days missing
from the file are closed.

Example file:
  monday:
    - from: "08:00"
      to: "12:00"
    - from: "14:00"
      to: "18:00"
  dienstag:
    - from: "08:00"
      to: "18:00"`,
	Args: cobra.ExactArgs(1),
	RunE: runImportHours,
}

func init() {
	rootCmd.AddCommand(importHoursCmd)
	importHoursCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate the file without writing")
}

type hoursFrame struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// parseHoursFile decodes and validates a weekly schedule.
func parseHoursFile(data []byte) (models.WeeklySchedule, error) {
	var raw map[string][]hoursFrame
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	schedule := make(models.WeeklySchedule)
	for name, frames := range raw {
		day, err := models.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		if _, dup := schedule[day]; dup {
			return nil, fmt.Errorf("%s listed twice", day)
		}

		parsed := make([]models.TimeFrame, 0, len(frames))
		for _, f := range frames {
			start, err := parseClock(f.From)
			if err != nil {
				return nil, fmt.Errorf("%s: from: %w", day, err)
			}
			end, err := parseClock(f.To)
			if err != nil {
				return nil, fmt.Errorf("%s: to: %w", day, err)
			}
			parsed = append(parsed, models.TimeFrame{Start: start, End: end})
		}

		sorted, err := models.ValidateFrames(parsed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", day, err)
		}
		schedule[day] = sorted
	}
	return schedule, nil
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%q: invalid hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return 0, fmt.Errorf("%q: invalid minute", s)
	}
	return hour*60 + minute, nil
}

func runImportHours(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	schedule, err := parseHoursFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	for day := models.Monday; day <= models.Sunday; day++ {
		frames := schedule.Frames(day)
		parts := make([]string, 0, len(frames))
		for _, f := range frames {
			parts = append(parts, f.String())
		}
		if len(parts) == 0 {
			parts = append(parts, "closed")
		}
		fmt.Fprintf(out, "%-9s %s\n", day, strings.Join(parts, ", "))
	}
	if importDryRun {
		return nil
	}

	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	store := openinghours.NewStore(database, nil, logger)
	if err := store.Replace(cmd.Context(), schedule); err != nil {
		return err
	}
	logger.Info().Str("file", args[0]).Int("days", len(schedule)).Msg("opening hours imported")
	return nil
}
