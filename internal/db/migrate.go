/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/radiocommons/queue-radio/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
// The core persists only Song, Schedule, and the PlaybackState singleton;
// everything else the system needs (votes, users, sessions) belongs to the
// external stores this package never touches.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Song{},
		&models.Schedule{},
		&models.PlaybackState{},
	); err != nil {
		return err
	}

	return seedPlaybackStateSingleton(database)
}

// seedPlaybackStateSingleton ensures the fixed-id PlaybackState row exists so
// that callers can always `First` it rather than special-casing a missing row.
func seedPlaybackStateSingleton(database *gorm.DB) error {
	var count int64
	if err := database.Model(&models.PlaybackState{}).Where("id = ?", models.SingletonID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return database.Create(&models.PlaybackState{ID: models.SingletonID}).Error
}
