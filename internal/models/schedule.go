/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Schedule is a recurring playback job: a cron expression plus the volume
// and burst size to apply each time it fires. Mutated by admin CRUD and by
// the scheduler immediately after a firing (LastRun/NextRun only).
type Schedule struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	Name       string `gorm:"type:varchar(255)"`
	CronExpr   string `gorm:"type:varchar(64)"`
	Volume     int    `gorm:"type:int"` // 0-100
	SongCount  int    `gorm:"type:int"` // 1-10
	Active     bool   `gorm:"index"`
	LastRun    *time.Time
	NextRun    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides GORM's pluralization.
func (Schedule) TableName() string {
	return "schedules"
}

// RecentlyFired reports whether LastRun happened within window of now,
// implementing executeSchedule's re-entrancy guard against a manual
// "Next" press shortly before the cron firing.
func (s *Schedule) RecentlyFired(now time.Time, window time.Duration) bool {
	if s.LastRun == nil {
		return false
	}
	return now.Sub(*s.LastRun) < window
}
