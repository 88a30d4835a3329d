/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/models"
)

// ScheduleStore is CRUD on Schedule rows; the core itself writes LastRun
// and NextRun only, never the admin-owned fields.
type ScheduleStore struct {
	db *gorm.DB
}

// NewScheduleStore constructs a ScheduleStore.
func NewScheduleStore(db *gorm.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Active returns every schedule with Active=true.
func (s *ScheduleStore) Active(ctx context.Context) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := s.db.WithContext(ctx).Where("active = ?", true).Find(&schedules).Error
	return schedules, err
}

// ByID looks up a schedule by id.
func (s *ScheduleStore) ByID(ctx context.Context, id string) (*models.Schedule, error) {
	var sched models.Schedule
	err := s.db.WithContext(ctx).First(&sched, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// Create inserts a new schedule.
func (s *ScheduleStore) Create(ctx context.Context, sched *models.Schedule) error {
	return s.db.WithContext(ctx).Create(sched).Error
}

// Update persists arbitrary admin-edited fields of an existing schedule.
func (s *ScheduleStore) Update(ctx context.Context, sched *models.Schedule) error {
	return s.db.WithContext(ctx).Save(sched).Error
}

// Delete removes a schedule.
func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.Schedule{}, "id = ?", id).Error
}

// RecordFiring persists LastRun=firedAt and NextRun=nextRun, the only two
// fields the scheduler itself is allowed to write.
func (s *ScheduleStore) RecordFiring(ctx context.Context, id string, firedAt, nextRun time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_run": firedAt, "next_run": nextRun})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLastRun persists LastRun only, used by playTopNow
// when a manually-consumed locked slot belongs to a schedule whose cron
// firing is imminent, so that firing self-skips via the re-entrancy guard.
func (s *ScheduleStore) RecordLastRun(ctx context.Context, id string, firedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("id = ?", id).
		Update("last_run", firedAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordNextRun persists NextRun only, used after a firing the scheduler
// decided to skip via the re-entrancy guard.
func (s *ScheduleStore) RecordNextRun(ctx context.Context, id string, nextRun time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("id = ?", id).
		Update("next_run", nextRun)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
