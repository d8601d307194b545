/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"gorm.io/gorm"
)

// OpeningHour is one persisted unlock window of the weekly schedule.
type OpeningHour struct {
	ID        uint    `gorm:"primaryKey"`
	Weekday   Weekday `gorm:"index;not null"`
	Start     int     `gorm:"column:start_minute;not null"`
	End       int     `gorm:"column:end_minute;not null"`
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (OpeningHour) TableName() string {
	return "opening_hours"
}

// DoorSettings stores the operator overwrite.
// Uses singleton pattern with a fixed ID=1 row. Version increments on every write
// so concurrent writers can detect a lost update.
type DoorSettings struct {
	ID             int        `gorm:"primaryKey"`
	OverwriteState *string    `gorm:"type:varchar(16)"`
	OverwriteUntil *time.Time
	Version        int64 `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName returns the table name for GORM.
func (DoorSettings) TableName() string {
	return "door_settings"
}

// Overwrite converts the persisted columns, returning nil when no overwrite is stored.
func (s *DoorSettings) Overwrite() *Overwrite {
	if s == nil || s.OverwriteState == nil || s.OverwriteUntil == nil {
		return nil
	}
	return &Overwrite{State: DoorState(*s.OverwriteState), Until: *s.OverwriteUntil}
}

// GetDoorSettings retrieves the singleton settings row, creating it if it doesn't exist.
func GetDoorSettings(db *gorm.DB) (*DoorSettings, error) {
	var settings DoorSettings
	result := db.FirstOrCreate(&settings, DoorSettings{ID: 1})
	if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}
