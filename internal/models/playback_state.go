/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// PlaybackState is the persisted singleton describing "what is playing".
// GetCurrent is a find-or-create; there is exactly one row.
type PlaybackState struct {
	ID            uint `gorm:"primaryKey;autoIncrement:false"`
	CurrentSongID *string
	Playing       bool
	Volume        int
	PositionSec   int
	UpdatedAt     time.Time
}

// TableName overrides GORM's pluralization; this table always holds one row.
func (PlaybackState) TableName() string {
	return "playback_state"
}

// SingletonID is the fixed primary key of the one PlaybackState row.
const SingletonID uint = 1
