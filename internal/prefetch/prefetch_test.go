package prefetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/announcer"
	"github.com/radiocommons/queue-radio/internal/events"
	"github.com/radiocommons/queue-radio/internal/extractor"
	"github.com/radiocommons/queue-radio/internal/models"
	"github.com/radiocommons/queue-radio/internal/store"
)

type fakeResolver struct {
	url string
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, externalURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func newPrefetchTestDeps(t *testing.T, resolver extractor.Resolver) (*gorm.DB, *store.ScheduleStore, *store.SongStore, *extractor.Service, *events.Bus) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Schedule{}, &models.Song{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	cache := extractor.NewStreamURLCache("127.0.0.1:1", "", 0, time.Minute, zerolog.Nop())
	extractorSvc := extractor.New(resolver, cache, 2*time.Second, time.Second)

	return db, store.NewScheduleStore(db), store.NewSongStore(db), extractorSvc, events.NewBus()
}

func createSong(t *testing.T, db *gorm.DB, song models.Song) {
	t.Helper()
	if err := db.Create(&song).Error; err != nil {
		t.Fatalf("create song: %v", err)
	}
}

func drain(t *testing.T, sub events.Subscriber, want events.EventType) events.Payload {
	t.Helper()
	select {
	case p := <-sub:
		return p
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", want)
		return nil
	}
}

func TestPrepareScheduledSong_HappyPath(t *testing.T) {
	t.Parallel()

	db, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "https://stream.example/abc"})
	ctx := context.Background()

	sched := models.Schedule{ID: "sched-1", CronExpr: "0 8 * * *", Volume: 70, Active: true}
	if err := schedules.Create(ctx, &sched); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	createSong(t, db, models.Song{ID: "song-1", Title: "A Song", Artist: "An Artist", ExternalURL: "https://video.example/abc", AddedAt: time.Now()})

	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())
	locked := bus.Subscribe(events.EventNextSongLocked)
	defer bus.Unsubscribe(events.EventNextSongLocked, locked)

	svc.PrepareScheduledSong(ctx, "sched-1", 70, time.Now().Add(5*time.Minute))

	slot, ok := svc.Pop("sched-1")
	if !ok {
		t.Fatalf("expected a locked slot for sched-1")
	}
	if slot.IsOfflineFallback {
		t.Fatalf("got offline fallback, want a real resolved slot")
	}
	if slot.Song.ID != "song-1" || slot.StreamURL != "https://stream.example/abc" {
		t.Fatalf("got %+v, unexpected slot contents", slot)
	}

	payload := drain(t, locked, events.EventNextSongLocked)
	if payload["is_offline_fallback"] != false {
		t.Fatalf("got %+v, want is_offline_fallback=false", payload)
	}

	got, err := songs.ByID(ctx, "song-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if !got.Played {
		t.Fatalf("song should be reserved (played=true) after a successful pre-fetch")
	}
	if got.PlayedAt != nil {
		t.Fatalf("song should not have PlayedAt set until it actually airs")
	}
}

func createSchedule(t *testing.T, s *store.ScheduleStore, sched models.Schedule) {
	t.Helper()
	if err := s.Create(context.Background(), &sched); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
}

func TestPrepareScheduledSong_EmptyQueueLocksOfflineFallback(t *testing.T) {
	t.Parallel()

	_, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "unused"})
	ctx := context.Background()

	createSchedule(t, schedules, models.Schedule{ID: "sched-1", CronExpr: "0 8 * * *", Active: true})

	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())
	locked := bus.Subscribe(events.EventNextSongLocked)
	defer bus.Unsubscribe(events.EventNextSongLocked, locked)

	svc.PrepareScheduledSong(ctx, "sched-1", 70, time.Now().Add(5*time.Minute))

	slot, ok := svc.Pop("sched-1")
	if !ok {
		t.Fatalf("expected a locked offline-fallback slot")
	}
	if !slot.IsOfflineFallback {
		t.Fatalf("got a real slot, want offline fallback for an empty queue")
	}

	payload := drain(t, locked, events.EventNextSongLocked)
	if payload["is_offline_fallback"] != true {
		t.Fatalf("got %+v, want is_offline_fallback=true", payload)
	}
}

func TestPrepareScheduledSong_ExtractorFailureRestoresReservationAndFallsBackOffline(t *testing.T) {
	t.Parallel()

	db, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{err: errors.New("yt-dlp: video unavailable")})
	ctx := context.Background()

	createSchedule(t, schedules, models.Schedule{ID: "sched-1", CronExpr: "0 8 * * *", Active: true})
	createSong(t, db, models.Song{ID: "song-1", Title: "A Song", ExternalURL: "https://video.example/gone", AddedAt: time.Now()})

	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())

	svc.PrepareScheduledSong(ctx, "sched-1", 70, time.Now().Add(5*time.Minute))

	slot, ok := svc.Pop("sched-1")
	if !ok || !slot.IsOfflineFallback {
		t.Fatalf("got %+v, ok=%v; want a locked offline fallback", slot, ok)
	}

	got, err := songs.ByID(ctx, "song-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.Played {
		t.Fatalf("reservation should have been restored (played=false) after resolution failure, so the song re-enters the queue")
	}
}

func TestPrepareScheduledSong_InactiveScheduleAborts(t *testing.T) {
	t.Parallel()

	_, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "https://stream.example/abc"})
	ctx := context.Background()

	createSchedule(t, schedules, models.Schedule{ID: "sched-1", CronExpr: "0 8 * * *", Active: false})

	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())
	svc.PrepareScheduledSong(ctx, "sched-1", 70, time.Now().Add(5*time.Minute))

	if _, ok := svc.Pop("sched-1"); ok {
		t.Fatalf("inactive schedule should not lock a slot")
	}
}

func TestDiscard_RestoresReservationForANonFallbackSlot(t *testing.T) {
	t.Parallel()

	db, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "https://stream.example/abc"})
	ctx := context.Background()

	createSchedule(t, schedules, models.Schedule{ID: "sched-1", CronExpr: "0 8 * * *", Active: true})
	createSong(t, db, models.Song{ID: "song-1", Title: "A Song", ExternalURL: "https://video.example/abc", AddedAt: time.Now()})

	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())
	svc.PrepareScheduledSong(ctx, "sched-1", 70, time.Now().Add(5*time.Minute))

	if len(svc.Snapshot()) != 1 {
		t.Fatalf("expected a locked slot before Discard")
	}

	svc.Discard(ctx, "sched-1")

	if len(svc.Snapshot()) != 0 {
		t.Fatalf("Discard should have dropped the slot")
	}
	got, err := songs.ByID(ctx, "song-1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.Played {
		t.Fatalf("Discard should restore the reservation (played=false) so the song re-enters the queue")
	}
}

func TestDiscard_LeavesOfflineFallbackSlotWithNoReservationToRestore(t *testing.T) {
	t.Parallel()

	_, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "unused"})
	ctx := context.Background()

	createSchedule(t, schedules, models.Schedule{ID: "sched-1", CronExpr: "0 8 * * *", Active: true})

	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())
	svc.PrepareScheduledSong(ctx, "sched-1", 70, time.Now().Add(5*time.Minute))

	snapshot := svc.Snapshot()
	if len(snapshot) != 1 || !snapshot[0].IsOfflineFallback {
		t.Fatalf("expected a single locked offline-fallback slot, got %+v", snapshot)
	}

	// Must not panic or error despite there being no song to restore.
	svc.Discard(ctx, "sched-1")

	if len(svc.Snapshot()) != 0 {
		t.Fatalf("Discard should have dropped the offline-fallback slot")
	}
}

func TestPopAny_ReturnsOneOfTheLockedSlots(t *testing.T) {
	t.Parallel()

	db, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "https://stream.example/abc"})
	ctx := context.Background()

	createSchedule(t, schedules, models.Schedule{ID: "sched-1", CronExpr: "0 8 * * *", Active: true})
	createSong(t, db, models.Song{ID: "song-1", Title: "A Song", ExternalURL: "https://video.example/abc", AddedAt: time.Now()})

	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())
	svc.PrepareScheduledSong(ctx, "sched-1", 70, time.Now().Add(5*time.Minute))

	id, slot, ok := svc.PopAny()
	if !ok || id != "sched-1" || slot.Song.ID != "song-1" {
		t.Fatalf("got id=%q slot=%+v ok=%v", id, slot, ok)
	}

	if _, ok := svc.PopAny(); ok {
		t.Fatalf("slot should have been consumed by the first PopAny")
	}
}

func TestPrepareTopSong_ReservesWithoutTouchingScheduleSlotTable(t *testing.T) {
	t.Parallel()

	db, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "https://stream.example/abc"})
	ctx := context.Background()

	createSong(t, db, models.Song{ID: "song-1", Title: "A Song", ExternalURL: "https://video.example/abc", AddedAt: time.Now()})

	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())
	slot, err := svc.PrepareTopSong(ctx, 50)
	if err != nil {
		t.Fatalf("PrepareTopSong: %v", err)
	}
	if slot == nil || slot.Song.ID != "song-1" {
		t.Fatalf("got %+v, want song-1 prepared", slot)
	}
	if len(svc.Snapshot()) != 0 {
		t.Fatalf("PrepareTopSong must not populate the schedule-keyed slot table")
	}
}

func TestPrepareTopSong_EmptyQueueReturnsNilNil(t *testing.T) {
	t.Parallel()

	_, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "unused"})
	svc := New(schedules, songs, extractorSvc, nil, bus, zerolog.Nop())

	slot, err := svc.PrepareTopSong(context.Background(), 50)
	if err != nil {
		t.Fatalf("got error %v, want nil, nil for an empty queue", err)
	}
	if slot != nil {
		t.Fatalf("got %+v, want nil slot", slot)
	}
}

func TestPrepareScheduledSong_AttachesAnnouncementForDedication(t *testing.T) {
	t.Parallel()

	db, schedules, songs, extractorSvc, bus := newPrefetchTestDeps(t, &fakeResolver{url: "https://stream.example/abc"})
	ctx := context.Background()

	createSchedule(t, schedules, models.Schedule{ID: "sched-1", CronExpr: "0 8 * * *", Active: true})
	createSong(t, db, models.Song{ID: "song-1", Title: "A Song", Artist: "An Artist", ExternalURL: "https://video.example/abc", Dedication: "to my sister", AddedAt: time.Now()})

	scriptGen, err := announcer.NewTemplateScriptGenerator()
	if err != nil {
		t.Fatalf("NewTemplateScriptGenerator: %v", err)
	}
	announcerSvc := announcer.New(scriptGen, nil, t.TempDir(), zerolog.Nop())

	svc := New(schedules, songs, extractorSvc, announcerSvc, bus, zerolog.Nop())
	svc.PrepareScheduledSong(ctx, "sched-1", 70, time.Now().Add(5*time.Minute))

	slot, ok := svc.Pop("sched-1")
	if !ok {
		t.Fatalf("expected a locked slot")
	}
	if slot.Announcement == nil || slot.Announcement.Text == "" {
		t.Fatalf("got %+v, want a non-empty text-only announcement", slot.Announcement)
	}
	if slot.Announcement.AudioPath != "" {
		t.Fatalf("got AudioPath %q, want empty with no TTS configured", slot.Announcement.AudioPath)
	}
}
