package store

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/models"
)

func newScheduleTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Schedule{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestScheduleStore_ActiveFiltersInactive(t *testing.T) {
	t.Parallel()

	db := newScheduleTestDB(t)
	store := NewScheduleStore(db)
	ctx := context.Background()

	active := models.Schedule{ID: "a", Name: "Morning", CronExpr: "0 8 * * *", Active: true}
	inactive := models.Schedule{ID: "b", Name: "Retired", CronExpr: "0 9 * * *", Active: false}
	if err := store.Create(ctx, &active); err != nil {
		t.Fatalf("create active: %v", err)
	}
	if err := store.Create(ctx, &inactive); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	got, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %+v, want only the active schedule", got)
	}
}

func TestScheduleStore_RecordFiringSetsLastRunAndNextRun(t *testing.T) {
	t.Parallel()

	db := newScheduleTestDB(t)
	store := NewScheduleStore(db)
	ctx := context.Background()

	sched := models.Schedule{ID: "a", Name: "Morning", CronExpr: "0 8 * * *", Active: true}
	if err := store.Create(ctx, &sched); err != nil {
		t.Fatalf("create: %v", err)
	}

	firedAt := time.Now().UTC().Truncate(time.Second)
	nextRun := firedAt.Add(24 * time.Hour)
	if err := store.RecordFiring(ctx, "a", firedAt, nextRun); err != nil {
		t.Fatalf("RecordFiring: %v", err)
	}

	got, err := store.ByID(ctx, "a")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(firedAt) {
		t.Fatalf("got LastRun %v, want %v", got.LastRun, firedAt)
	}
	if got.NextRun == nil || !got.NextRun.Equal(nextRun) {
		t.Fatalf("got NextRun %v, want %v", got.NextRun, nextRun)
	}
}

func TestScheduleStore_RecordLastRunLeavesNextRunUntouched(t *testing.T) {
	t.Parallel()

	db := newScheduleTestDB(t)
	store := NewScheduleStore(db)
	ctx := context.Background()

	originalNext := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	sched := models.Schedule{ID: "a", Name: "Morning", CronExpr: "0 8 * * *", Active: true, NextRun: &originalNext}
	if err := store.Create(ctx, &sched); err != nil {
		t.Fatalf("create: %v", err)
	}

	firedAt := time.Now().UTC().Truncate(time.Second)
	if err := store.RecordLastRun(ctx, "a", firedAt); err != nil {
		t.Fatalf("RecordLastRun: %v", err)
	}

	got, err := store.ByID(ctx, "a")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(firedAt) {
		t.Fatalf("got LastRun %v, want %v", got.LastRun, firedAt)
	}
	if got.NextRun == nil || !got.NextRun.Equal(originalNext) {
		t.Fatalf("got NextRun %v, want untouched %v", got.NextRun, originalNext)
	}
}

func TestScheduleStore_RecordNextRunLeavesLastRunUntouched(t *testing.T) {
	t.Parallel()

	db := newScheduleTestDB(t)
	store := NewScheduleStore(db)
	ctx := context.Background()

	originalLast := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	sched := models.Schedule{ID: "a", Name: "Morning", CronExpr: "0 8 * * *", Active: true, LastRun: &originalLast}
	if err := store.Create(ctx, &sched); err != nil {
		t.Fatalf("create: %v", err)
	}

	nextRun := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	if err := store.RecordNextRun(ctx, "a", nextRun); err != nil {
		t.Fatalf("RecordNextRun: %v", err)
	}

	got, err := store.ByID(ctx, "a")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(originalLast) {
		t.Fatalf("got LastRun %v, want untouched %v", got.LastRun, originalLast)
	}
	if got.NextRun == nil || !got.NextRun.Equal(nextRun) {
		t.Fatalf("got NextRun %v, want %v", got.NextRun, nextRun)
	}
}

func TestScheduleStore_DeleteRemovesRow(t *testing.T) {
	t.Parallel()

	db := newScheduleTestDB(t)
	store := NewScheduleStore(db)
	ctx := context.Background()

	sched := models.Schedule{ID: "a", Name: "Morning", CronExpr: "0 8 * * *", Active: true}
	if err := store.Create(ctx, &sched); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.ByID(ctx, "a"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
