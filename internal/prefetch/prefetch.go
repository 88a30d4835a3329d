/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package prefetch implements the pipeline that reserves a queued song
// ahead of its scheduled airtime, resolves its playable stream URL, and
// optionally prepares a spoken announcement — all before the playback
// controller ever asks for it.
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/announcer"
	"github.com/radiocommons/queue-radio/internal/events"
	"github.com/radiocommons/queue-radio/internal/extractor"
	"github.com/radiocommons/queue-radio/internal/models"
	"github.com/radiocommons/queue-radio/internal/store"
	"github.com/radiocommons/queue-radio/internal/telemetry"
)

// PreparedSlot is one reserved, resolved song ready for playback, or an
// offline-fallback placeholder when the queue is empty or resolution
// failed. Owned entirely by this package; the playback controller
// consumes it by value and never reaches back into the reservation
// machinery.
type PreparedSlot struct {
	Song              models.Song
	StreamURL         string
	Volume            int
	Announcement      *announcer.Announcement
	IsOfflineFallback bool
	PreparedAt        time.Time
}

// Service runs the pre-fetch pipeline and holds the in-memory slot table
// the playback controller consumes from, keyed by schedule id.
type Service struct {
	schedules *store.ScheduleStore
	songs     *store.SongStore
	extractor *extractor.Service
	announcer *announcer.Service
	bus       *events.Bus
	logger    zerolog.Logger

	mu    sync.Mutex
	slots map[string]PreparedSlot
}

// New constructs a Service. announce may be nil, in which case prepared
// slots never carry an Announcement.
func New(schedules *store.ScheduleStore, songs *store.SongStore, extractorSvc *extractor.Service, announce *announcer.Service, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		schedules: schedules,
		songs:     songs,
		extractor: extractorSvc,
		announcer: announce,
		bus:       bus,
		logger:    logger.With().Str("component", "prefetch").Logger(),
		slots:     make(map[string]PreparedSlot),
	}
}

// PrepareScheduledSong runs the full pipeline for schedule's upcoming
// firing, due at mainFiringAt: reserve the top unplayed song, resolve its
// stream URL (restoring the reservation on failure so the song returns to
// the queue), and optionally attach a spoken announcement. An empty queue,
// a resolution failure and a success each leave exactly one PreparedSlot
// stored for scheduleId — either a streamable reservation or an offline
// fallback — never a reservation with no way to play it. A missing or
// inactive schedule, a failed queue query or a failed reservation returns
// without storing a slot.
func (s *Service) PrepareScheduledSong(ctx context.Context, scheduleID string, volume int, mainFiringAt time.Time) {
	start := time.Now()
	defer func() { telemetry.PrefetchDuration.Observe(time.Since(start).Seconds()) }()

	s.bus.Publish(events.EventPrefetchStarted, events.Payload{"schedule_id": scheduleID})

	sched, err := s.schedules.ByID(ctx, scheduleID)
	if err != nil || !sched.Active {
		s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("schedule missing or inactive, aborting pre-fetch")
		return
	}

	song, err := s.songs.TopUnplayed(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			telemetry.PrefetchOutcomesTotal.WithLabelValues("no_queue").Inc()
			s.storeOfflineFallback(scheduleID, mainFiringAt, false)
			return
		}
		s.logger.Error().Err(err).Str("schedule_id", scheduleID).Msg("failed to query top unplayed song")
		return
	}

	if err := s.songs.Reserve(ctx, song.ID); err != nil {
		s.logger.Error().Err(err).Str("song_id", song.ID).Msg("failed to reserve song for pre-fetch")
		return
	}

	streamURL, err := s.extractor.ResolveStreamURL(ctx, song.ExternalURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("song_id", song.ID).Msg("stream resolution failed, restoring reservation and falling back offline")
		if restoreErr := s.songs.Restore(ctx, song.ID); restoreErr != nil {
			s.logger.Error().Err(restoreErr).Str("song_id", song.ID).Msg("failed to restore reservation after resolution failure")
		}
		telemetry.PrefetchOutcomesTotal.WithLabelValues("offline_fallback").Inc()
		s.storeOfflineFallback(scheduleID, mainFiringAt, true)
		return
	}

	slot := PreparedSlot{Song: *song, StreamURL: streamURL, Volume: volume, PreparedAt: time.Now()}

	if s.announcer != nil && song.Dedication != "" {
		ann := s.announcer.Prepare(ctx, song.ID, song.Title, song.Artist, song.Dedication)
		slot.Announcement = &ann
	}

	s.mu.Lock()
	s.slots[scheduleID] = slot
	s.mu.Unlock()

	telemetry.PrefetchOutcomesTotal.WithLabelValues("reserved").Inc()
	s.bus.Publish(events.EventPrefetchFinished, events.Payload{"schedule_id": scheduleID, "song_id": song.ID})
	s.broadcastLocked(scheduleID, slot, mainFiringAt)
}

// PrepareTopSong reserves and resolves the current top-voted song without
// storing it into the schedule-keyed slot table. Used by the playback
// controller for on-demand selection — playTopNow, burst continuation,
// and onSongEnded's synchronous fallback — none of which are firing
// against a particular schedule's lock. Returns nil, nil when the queue
// is empty.
func (s *Service) PrepareTopSong(ctx context.Context, volume int) (*PreparedSlot, error) {
	song, err := s.songs.TopUnplayed(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return s.reserveAndResolve(ctx, song, volume)
}

// PrepareSpecific reserves and resolves an admin-chosen song by id.
func (s *Service) PrepareSpecific(ctx context.Context, songID string, volume int) (*PreparedSlot, error) {
	song, err := s.songs.ByID(ctx, songID)
	if err != nil {
		return nil, err
	}
	return s.reserveAndResolve(ctx, song, volume)
}

func (s *Service) reserveAndResolve(ctx context.Context, song *models.Song, volume int) (*PreparedSlot, error) {
	if err := s.songs.Reserve(ctx, song.ID); err != nil {
		return nil, err
	}

	streamURL, err := s.extractor.ResolveStreamURL(ctx, song.ExternalURL)
	if err != nil {
		if restoreErr := s.songs.Restore(ctx, song.ID); restoreErr != nil {
			s.logger.Error().Err(restoreErr).Str("song_id", song.ID).Msg("failed to restore reservation after resolution failure")
		}
		return nil, err
	}

	slot := PreparedSlot{Song: *song, StreamURL: streamURL, Volume: volume, PreparedAt: time.Now()}
	if s.announcer != nil && song.Dedication != "" {
		ann := s.announcer.Prepare(ctx, song.ID, song.Title, song.Artist, song.Dedication)
		slot.Announcement = &ann
	}
	return &slot, nil
}

func (s *Service) storeOfflineFallback(scheduleID string, mainFiringAt time.Time, downloadFailed bool) {
	slot := PreparedSlot{IsOfflineFallback: true, PreparedAt: time.Now()}
	s.mu.Lock()
	s.slots[scheduleID] = slot
	s.mu.Unlock()

	reason := "offline"
	if downloadFailed {
		reason = "offline (download failed)"
	}
	s.logger.Info().Str("schedule_id", scheduleID).Str("reason", reason).Msg("locked offline fallback slot")
	s.broadcastLocked(scheduleID, slot, mainFiringAt)
}

func (s *Service) broadcastLocked(scheduleID string, slot PreparedSlot, mainFiringAt time.Time) {
	payload := events.Payload{
		"schedule_id":        scheduleID,
		"next_run":           mainFiringAt.Format("15:04"),
		"is_offline_fallback": slot.IsOfflineFallback,
		"has_announcement":   slot.Announcement != nil,
	}
	if !slot.IsOfflineFallback {
		payload["song"] = songDescriptor(slot.Song)
	}
	s.bus.Publish(events.EventNextSongLocked, payload)
	s.bus.Publish(events.EventQueueUpdated, events.Payload{})
}

func songDescriptor(song models.Song) events.Payload {
	return events.Payload{
		"id":     song.ID,
		"title":  song.Title,
		"artist": song.Artist,
	}
}

// Pop removes and returns the prepared slot for scheduleID, if any. The
// playback controller calls this when a main firing (or a manual "Next")
// arrives to find a slot pre-fetch already locked.
func (s *Service) Pop(scheduleID string) (PreparedSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[scheduleID]
	if ok {
		delete(s.slots, scheduleID)
	}
	return slot, ok
}

// PopAny removes and returns an arbitrary locked slot along with the id of
// the schedule it belongs to. Used by playTopNow, which per spec must
// prefer any already-locked slot over a freshly computed top song,
// regardless of which schedule locked it.
func (s *Service) PopAny() (scheduleID string, slot PreparedSlot, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sl := range s.slots {
		delete(s.slots, id)
		return id, sl, true
	}
	return "", PreparedSlot{}, false
}

// Snapshot returns a copy of every currently locked slot, without
// consuming them. Used by the broadcast hub to send new connections the
// "currently locked" half of its attach-time snapshot.
func (s *Service) Snapshot() []PreparedSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PreparedSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, slot)
	}
	return out
}

// Discard drops scheduleID's slot, used by removeJob-style cleanup when a
// schedule is deleted or deactivated. A non-fallback slot already holds a
// live reservation on its song (played=true, no slot to ever consume it),
// so that reservation is restored before the slot is dropped rather than
// left orphaned.
func (s *Service) Discard(ctx context.Context, scheduleID string) {
	s.mu.Lock()
	slot, ok := s.slots[scheduleID]
	delete(s.slots, scheduleID)
	s.mu.Unlock()

	if !ok || slot.IsOfflineFallback {
		return
	}
	if err := s.songs.Restore(ctx, slot.Song.ID); err != nil {
		s.logger.Warn().Err(err).Str("song_id", slot.Song.ID).Str("schedule_id", scheduleID).Msg("failed to restore reservation while discarding slot")
	}
}
