/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/doorkeeper/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate and
// makes sure the door settings singleton exists.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.OpeningHour{},
		&models.DoorSettings{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if _, err := models.GetDoorSettings(database); err != nil {
		return fmt.Errorf("seed door settings: %w", err)
	}
	return nil
}
