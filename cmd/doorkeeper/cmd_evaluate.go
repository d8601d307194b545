/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/doorkeeper/internal/db"
	"github.com/friendsincode/doorkeeper/internal/door"
	"github.com/friendsincode/doorkeeper/internal/holiday"
	"github.com/friendsincode/doorkeeper/internal/openinghours"
)

var evaluateAt string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Print the door state decided for an instant",
	Long: `Evaluate the stored opening hours, overwrite and public holidays at an
instant and print the decision as JSON. Nothing is sent to the door.

Examples:
  doorkeeper evaluate
  doorkeeper evaluate --at 2024-12-24T10:00:00+01:00`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evaluateAt, "at", "", "RFC 3339 instant to evaluate (default now)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger = logger.Level(zerolog.WarnLevel)

	now := time.Now()
	if evaluateAt != "" {
		t, err := time.Parse(time.RFC3339, evaluateAt)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		now = t
	}
	now = now.In(cfg.Location)

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	ctx := cmd.Context()
	store := openinghours.NewStore(database, nil, logger)
	schedule, err := store.Schedule(ctx)
	if err != nil {
		return err
	}
	ow, _, err := store.Overwrite(ctx)
	if err != nil {
		return err
	}

	holidays, err := holiday.NewService(holiday.Config{
		Country:      cfg.HolidayCountry,
		CacheSize:    cfg.HolidayCacheSize,
		FetchTimeout: cfg.HolidayFetchTimeout,
	}, holiday.NewNagerClient(cfg.HolidayAPIURL, cfg.HolidayCountry, cfg.HolidayFetchTimeout), nil, logger)
	if err != nil {
		return err
	}
	defer holidays.Close()

	d := door.Evaluate(now, door.Config{
		Schedule:  schedule,
		Overwrite: ow,
		Delay:     cfg.Delay(),
	}, holidays.Between(ctx, now, now.AddDate(0, 0, door.LookaheadDays+1)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
