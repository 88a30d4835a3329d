/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/models"
)

// PlaybackStore persists the singleton PlaybackState row.
type PlaybackStore struct {
	db *gorm.DB
}

// NewPlaybackStore constructs a PlaybackStore.
func NewPlaybackStore(db *gorm.DB) *PlaybackStore {
	return &PlaybackStore{db: db}
}

// GetCurrent is a find-or-create on the fixed-id singleton row.
func (s *PlaybackStore) GetCurrent(ctx context.Context) (*models.PlaybackState, error) {
	var state models.PlaybackState
	err := s.db.WithContext(ctx).FirstOrCreate(&state, models.PlaybackState{ID: models.SingletonID}).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Persist writes back the full singleton row.
func (s *PlaybackStore) Persist(ctx context.Context, state *models.PlaybackState) error {
	state.ID = models.SingletonID
	return s.db.WithContext(ctx).Save(state).Error
}
