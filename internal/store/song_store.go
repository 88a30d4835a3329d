/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store holds the gorm-backed repositories the core reads and
// writes through. These are thin wrappers around *gorm.DB, matching the
// teacher's direct-call style rather than a repository-interface layer.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/models"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("store: not found")

// SongStore is the core's view of the external vote/queue store: read the
// current winner, read by id, reserve/restore the played flag, and list
// recently broadcast songs.
type SongStore struct {
	db *gorm.DB
}

// NewSongStore constructs a SongStore.
func NewSongStore(db *gorm.DB) *SongStore {
	return &SongStore{db: db}
}

// TopUnplayed returns the highest-priority unplayed song, ordered
// starred DESC, vote-count DESC, added-at ASC. Returns ErrNotFound if the
// queue is empty.
func (s *SongStore) TopUnplayed(ctx context.Context) (*models.Song, error) {
	var song models.Song
	err := s.db.WithContext(ctx).
		Where("played = ?", false).
		Order("starred DESC, vote_count DESC, added_at ASC").
		First(&song).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// ByID looks up a song by id.
func (s *SongStore) ByID(ctx context.Context, id string) (*models.Song, error) {
	var song models.Song
	err := s.db.WithContext(ctx).First(&song, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// Reserve sets played=true with played_at left null, marking the song held
// by an in-flight pre-fetch. Concurrent voting cannot change the outcome
// once reserved, since TopUnplayed filters on played=false.
func (s *SongStore) Reserve(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Song{}).
		Where("id = ?", id).
		Updates(map[string]any{"played": true, "played_at": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore clears a reservation that failed before airing: played=false,
// played_at=null.
func (s *SongStore) Restore(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Song{}).
		Where("id = ?", id).
		Updates(map[string]any{"played": false, "played_at": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkBroadcast records that a reserved song actually aired: played_at=now.
// played is already true from Reserve.
func (s *SongStore) MarkBroadcast(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Song{}).
		Where("id = ?", id).
		Updates(map[string]any{"played": true, "played_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentlyPlayed returns the most recently broadcast songs, newest first.
// Reserved-but-not-yet-aired songs (played_at IS NULL) never appear here.
func (s *SongStore) RecentlyPlayed(ctx context.Context, limit int) ([]models.Song, error) {
	var songs []models.Song
	err := s.db.WithContext(ctx).
		Where("played = ? AND played_at IS NOT NULL", true).
		Order("played_at DESC").
		Limit(limit).
		Find(&songs).Error
	return songs, err
}

// DeleteOldPlayed removes aired songs older than cutoff, used by the
// scheduler's daily maintenance sweep to keep the queue store from growing
// unbounded. Rows still reserved but not yet aired (played_at IS NULL) are
// never touched, regardless of age.
func (s *SongStore) DeleteOldPlayed(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("played = ? AND played_at IS NOT NULL AND played_at < ?", true, cutoff).
		Delete(&models.Song{})
	return res.RowsAffected, res.Error
}
