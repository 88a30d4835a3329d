/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Song is a queue entry: a video the community has voted to hear. It is
// owned by the external vote/queue store; the core only ever reads the
// top-voted unplayed row and flips Played/PlayedAt when it actually airs.
//
// Invariant: Played && PlayedAt == nil means "reserved by pre-fetch, not
// yet broadcast" — a deliberately overloaded state, see DESIGN.md.
type Song struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	Title         string `gorm:"type:varchar(512)"`
	Artist        string `gorm:"type:varchar(256)"`
	ExternalURL   string `gorm:"type:text"`
	ExternalID    string `gorm:"type:varchar(64);index"`
	DurationSec   int
	ThumbnailURL  string `gorm:"type:text"`
	Dedication    string `gorm:"type:text"`
	Starred       bool   `gorm:"index:idx_song_queue_order"`
	VoteCount     int    `gorm:"index:idx_song_queue_order"`
	Played        bool   `gorm:"index"`
	PlayedAt      *time.Time
	AddedAt       time.Time `gorm:"index:idx_song_queue_order"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName overrides GORM's pluralization.
func (Song) TableName() string {
	return "songs"
}

// Broadcast reports whether this song has actually aired, as opposed to
// merely being reserved by an in-flight pre-fetch.
func (s *Song) Broadcast() bool {
	return s.Played && s.PlayedAt != nil
}

// Reserved reports whether this song is held by a pre-fetch that has not
// yet aired it.
func (s *Song) Reserved() bool {
	return s.Played && s.PlayedAt == nil
}
