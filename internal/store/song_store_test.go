package store

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/models"
)

func newSongTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Song{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestSongStore_TopUnplayed_OrdersByStarredThenVotesThenAge(t *testing.T) {
	t.Parallel()

	db := newSongTestDB(t)
	store := NewSongStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	songs := []models.Song{
		{ID: "plain-old", Title: "Plain Old", VoteCount: 10, AddedAt: now.Add(-time.Hour)},
		{ID: "plain-new", Title: "Plain New", VoteCount: 10, AddedAt: now},
		{ID: "starred", Title: "Starred", Starred: true, VoteCount: 1, AddedAt: now},
		{ID: "already-played", Title: "Already Played", Played: true, VoteCount: 999, AddedAt: now.Add(-2 * time.Hour)},
	}
	for _, s := range songs {
		if err := db.Create(&s).Error; err != nil {
			t.Fatalf("create song %s: %v", s.ID, err)
		}
	}

	got, err := store.TopUnplayed(ctx)
	if err != nil {
		t.Fatalf("TopUnplayed: %v", err)
	}
	if got.ID != "starred" {
		t.Fatalf("got %q, want starred song to win regardless of vote count", got.ID)
	}
}

func TestSongStore_TopUnplayed_EmptyQueueReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	db := newSongTestDB(t)
	store := NewSongStore(db)

	_, err := store.TopUnplayed(context.Background())
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSongStore_ReserveThenRestore(t *testing.T) {
	t.Parallel()

	db := newSongTestDB(t)
	store := NewSongStore(db)
	ctx := context.Background()

	song := models.Song{ID: "s1", Title: "Song One", AddedAt: time.Now()}
	if err := db.Create(&song).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Reserve(ctx, "s1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Reserved songs never resurface as the top unplayed pick.
	if _, err := store.TopUnplayed(ctx); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound while reserved", err)
	}

	if err := store.Restore(ctx, "s1"); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := store.TopUnplayed(ctx)
	if err != nil {
		t.Fatalf("TopUnplayed after restore: %v", err)
	}
	if got.ID != "s1" {
		t.Fatalf("got %q, want s1 back in the queue", got.ID)
	}
}

func TestSongStore_MarkBroadcastThenRecentlyPlayed(t *testing.T) {
	t.Parallel()

	db := newSongTestDB(t)
	store := NewSongStore(db)
	ctx := context.Background()

	song := models.Song{ID: "s1", Title: "Song One", AddedAt: time.Now()}
	if err := db.Create(&song).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Reserve(ctx, "s1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	recent, err := store.RecentlyPlayed(ctx, 10)
	if err != nil {
		t.Fatalf("RecentlyPlayed: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("got %d recently played, want 0 while only reserved", len(recent))
	}

	airedAt := time.Now().UTC()
	if err := store.MarkBroadcast(ctx, "s1", airedAt); err != nil {
		t.Fatalf("MarkBroadcast: %v", err)
	}

	recent, err = store.RecentlyPlayed(ctx, 10)
	if err != nil {
		t.Fatalf("RecentlyPlayed after broadcast: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "s1" {
		t.Fatalf("got %+v, want [s1]", recent)
	}
}

func TestSongStore_ReserveMissingSongReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	db := newSongTestDB(t)
	store := NewSongStore(db)

	if err := store.Reserve(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSongStore_DeleteOldPlayed_OnlyRemovesAiredSongsPastCutoff(t *testing.T) {
	t.Parallel()

	db := newSongTestDB(t)
	store := NewSongStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	songs := []models.Song{
		{ID: "old-aired", Title: "Old Aired", Played: true, PlayedAt: ptrTime(now.Add(-10 * 24 * time.Hour)), AddedAt: now},
		{ID: "recent-aired", Title: "Recent Aired", Played: true, PlayedAt: ptrTime(now.Add(-time.Hour)), AddedAt: now},
		{ID: "reserved-not-aired", Title: "Reserved", Played: true, PlayedAt: nil, AddedAt: now},
		{ID: "unplayed", Title: "Unplayed", Played: false, AddedAt: now},
	}
	for _, s := range songs {
		if err := db.Create(&s).Error; err != nil {
			t.Fatalf("create song %s: %v", s.ID, err)
		}
	}

	deleted, err := store.DeleteOldPlayed(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldPlayed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("got %d deleted, want 1", deleted)
	}

	for id, wantGone := range map[string]bool{
		"old-aired":           true,
		"recent-aired":        false,
		"reserved-not-aired":  false,
		"unplayed":            false,
	} {
		var count int64
		if err := db.Model(&models.Song{}).Where("id = ?", id).Count(&count).Error; err != nil {
			t.Fatalf("count %s: %v", id, err)
		}
		gone := count == 0
		if gone != wantGone {
			t.Fatalf("song %s: gone=%v, want %v", id, gone, wantGone)
		}
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
