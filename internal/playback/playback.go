/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback implements the controller that owns the authoritative
// "what is playing" state: it consumes pre-fetched slots at schedule
// firings and admin commands, drives multi-song bursts, and emits the
// events the broadcast hub relays to listeners.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/cron"
	"github.com/radiocommons/queue-radio/internal/events"
	"github.com/radiocommons/queue-radio/internal/models"
	"github.com/radiocommons/queue-radio/internal/prefetch"
	"github.com/radiocommons/queue-radio/internal/store"
)

// reentrancyWindow is how recently a schedule must have last run for a
// second firing of it to be treated as a duplicate and skipped.
const reentrancyWindow = 10 * time.Minute

// CurrentlyPlaying is the song metadata most recently announced as
// playing, answering "what is playing?" without a database round trip.
type CurrentlyPlaying struct {
	SongID    string
	Title     string
	Artist    string
	StartedAt time.Time
}

// PlaybackCache is the last play-song-shaped event emitted, replayed to a
// reconnecting admin.
type PlaybackCache struct {
	Payload  events.Payload
	CachedAt time.Time
}

// runState tracks an in-progress multi-song burst.
type runState struct {
	scheduleID       string
	volume           int
	remainingInBurst int
	nextSongPrepared *prefetch.PreparedSlot
}

// Service is the playback controller (C).
type Service struct {
	playback  *store.PlaybackStore
	schedules *store.ScheduleStore
	songs     *store.SongStore
	prefetch  *prefetch.Service
	bus       *events.Bus
	loc       *time.Location
	logger    zerolog.Logger

	mu      sync.Mutex
	run     runState
	current *CurrentlyPlaying
	cache   *PlaybackCache
}

// New constructs a Service.
func New(playback *store.PlaybackStore, schedules *store.ScheduleStore, songs *store.SongStore, prefetchSvc *prefetch.Service, bus *events.Bus, loc *time.Location, logger zerolog.Logger) *Service {
	return &Service{
		playback:  playback,
		schedules: schedules,
		songs:     songs,
		prefetch:  prefetchSvc,
		bus:       bus,
		loc:       loc,
		logger:    logger.With().Str("component", "playback").Logger(),
	}
}

// ExecuteSchedule is the scheduled firing entry point, matching
// scheduler.MainFireFunc.
func (s *Service) ExecuteSchedule(ctx context.Context, sched models.Schedule) {
	now := time.Now()

	if sched.RecentlyFired(now, reentrancyWindow) {
		s.logger.Info().Str("schedule_id", sched.ID).Msg("skipping duplicate firing within re-entrancy window")
		s.advanceNextRunOnly(ctx, sched, now)
		return
	}

	remaining := sched.SongCount - 1
	if remaining < 0 {
		remaining = 0
	}

	s.mu.Lock()
	s.run = runState{scheduleID: sched.ID, volume: sched.Volume, remainingInBurst: remaining}
	s.mu.Unlock()

	s.playPrepared(ctx, sched.ID, sched.Volume, remaining > 0)

	if remaining > 0 {
		go s.prefetchBurstContinuation(context.Background(), sched.ID, sched.Volume)
	}

	s.recordFiring(ctx, sched, now)
}

func (s *Service) advanceNextRunOnly(ctx context.Context, sched models.Schedule, from time.Time) {
	expr, err := cron.Parse(sched.CronExpr, s.loc)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("cannot parse cron expression while skipping duplicate firing")
		return
	}
	next, err := expr.Next(from)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("cannot compute next firing while skipping duplicate firing")
		return
	}
	if err := s.schedules.RecordNextRun(ctx, sched.ID, next); err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("failed to advance next-run on skipped firing")
	}
}

func (s *Service) recordFiring(ctx context.Context, sched models.Schedule, firedAt time.Time) {
	expr, err := cron.Parse(sched.CronExpr, s.loc)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("cannot parse cron expression while recording firing")
		return
	}
	next, err := expr.Next(firedAt)
	if err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("cannot compute next firing while recording firing")
		return
	}
	if err := s.schedules.RecordFiring(ctx, sched.ID, firedAt, next); err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("failed to record schedule firing")
	}
}

// playPrepared consumes the locked slot for scheduleID if one exists,
// otherwise falls back to a synchronous top-song selection.
func (s *Service) playPrepared(ctx context.Context, scheduleID string, volume int, autoNext bool) {
	slot, ok := s.prefetch.Pop(scheduleID)
	if !ok {
		s.logger.Warn().Str("schedule_id", scheduleID).Msg("no locked slot at firing time, selecting synchronously")
		fresh, err := s.prefetch.PrepareTopSong(ctx, volume)
		if err != nil || fresh == nil {
			s.playEmptyQueue(ctx)
			return
		}
		s.playSlot(ctx, *fresh, autoNext)
		return
	}
	s.playSlot(ctx, slot, autoNext)
}

// playSlot emits the appropriate listener event for slot and persists the
// resulting PlaybackState. An offline-fallback slot carries no song to
// broadcast as playing.
func (s *Service) playSlot(ctx context.Context, slot prefetch.PreparedSlot, autoNext bool) {
	if slot.IsOfflineFallback {
		s.playEmptyQueue(ctx)
		return
	}

	payload := events.Payload{
		"song":      songDescriptor(slot.Song),
		"stream_url": slot.StreamURL,
		"volume":    slot.Volume,
		"auto_next": autoNext,
	}

	eventType := events.EventPlaySong
	if slot.Announcement != nil {
		payload["announcement_text"] = slot.Announcement.Text
		if slot.Announcement.AudioPath != "" {
			payload["announcement_audio_url"] = slot.Announcement.AudioPath
		}
		eventType = events.EventPlayAnnouncement
	}

	now := time.Now()
	s.mu.Lock()
	s.current = &CurrentlyPlaying{SongID: slot.Song.ID, Title: slot.Song.Title, Artist: slot.Song.Artist, StartedAt: now}
	s.cache = &PlaybackCache{Payload: payload, CachedAt: now}
	s.mu.Unlock()

	s.bus.Publish(eventType, payload)

	state := &models.PlaybackState{CurrentSongID: &slot.Song.ID, Playing: true, Volume: slot.Volume, PositionSec: 0}
	if err := s.playback.Persist(ctx, state); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist playback state")
	}

	if err := s.songs.MarkBroadcast(ctx, slot.Song.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("song_id", slot.Song.ID).Msg("failed to mark song as broadcast")
	}
	s.bus.Publish(events.EventRecentlyPlayed, events.Payload{})
}

func (s *Service) playEmptyQueue(ctx context.Context) {
	s.logger.Info().Msg("queue empty, nothing to play")
	state, err := s.playback.GetCurrent(ctx)
	if err == nil {
		state.Playing = false
		state.CurrentSongID = nil
		_ = s.playback.Persist(ctx, state)
	}
}

func songDescriptor(song models.Song) events.Payload {
	return events.Payload{
		"id":             song.ID,
		"title":          song.Title,
		"artist":         song.Artist,
		"duration_sec":   song.DurationSec,
		"thumbnail_url":  song.ThumbnailURL,
	}
}

func (s *Service) prefetchBurstContinuation(ctx context.Context, scheduleID string, volume int) {
	slot, err := s.prefetch.PrepareTopSong(ctx, volume)
	s.mu.Lock()
	if s.run.scheduleID == scheduleID {
		if err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("burst continuation pre-fetch failed")
			s.run.nextSongPrepared = nil
		} else {
			s.run.nextSongPrepared = slot
		}
	}
	s.mu.Unlock()
	s.bus.Publish(events.EventQueueUpdated, events.Payload{})
}

// PlayTopNow is the admin "Next" command. A locked slot, from any
// schedule, always wins over a freshly computed top song.
func (s *Service) PlayTopNow(ctx context.Context) {
	s.mu.Lock()
	s.run = runState{}
	s.mu.Unlock()

	scheduleID, slot, ok := s.prefetch.PopAny()
	if ok {
		s.playSlot(ctx, slot, false)
		// Mark last-run even for an offline-fallback slot: the schedule's
		// locked firing was consumed either way, so its impending cron
		// firing must still self-skip as a duplicate per the re-entrancy
		// window, rather than firing again moments later for a slot that
		// was already spent here.
		if scheduleID != "" {
			if err := s.schedules.RecordLastRun(ctx, scheduleID, time.Now()); err != nil {
				s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("failed to mark schedule last-run after manual consume")
			}
		}
		return
	}

	fresh, err := s.prefetch.PrepareTopSong(ctx, s.defaultVolume(ctx))
	if err != nil || fresh == nil {
		s.playEmptyQueue(ctx)
		return
	}
	s.playSlot(ctx, *fresh, false)
}

// PlaySpecific is the admin "play this song" command.
func (s *Service) PlaySpecific(ctx context.Context, songID string) {
	s.mu.Lock()
	s.run = runState{}
	s.mu.Unlock()

	slot, err := s.prefetch.PrepareSpecific(ctx, songID, s.defaultVolume(ctx))
	if err != nil || slot == nil {
		s.playEmptyQueue(ctx)
		return
	}
	s.playSlot(ctx, *slot, false)
}

// OnSongEnded is the listener-report entry point relayed by the broadcast
// hub when the broadcaster's audio element fires its end event.
func (s *Service) OnSongEnded(ctx context.Context) {
	s.mu.Lock()
	remaining := s.run.remainingInBurst
	next := s.run.nextSongPrepared
	scheduleID := s.run.scheduleID
	volume := s.run.volume
	if remaining > 0 {
		s.run.remainingInBurst = remaining - 1
		s.run.nextSongPrepared = nil
	}
	s.mu.Unlock()

	if remaining <= 0 {
		s.mu.Lock()
		s.run = runState{}
		s.mu.Unlock()
		s.bus.Publish(events.EventSongEnded, events.Payload{})
		return
	}

	remainingAfter := remaining - 1
	if next != nil {
		s.playSlot(ctx, *next, remainingAfter > 0)
	} else {
		s.logger.Warn().Str("schedule_id", scheduleID).Msg("burst continuation not ready, selecting synchronously")
		fresh, err := s.prefetch.PrepareTopSong(ctx, volume)
		if err != nil || fresh == nil {
			s.playEmptyQueue(ctx)
		} else {
			s.playSlot(ctx, *fresh, remainingAfter > 0)
		}
	}

	s.mu.Lock()
	stillBursting := s.run.remainingInBurst > 0
	s.mu.Unlock()
	if stillBursting {
		go s.prefetchBurstContinuation(context.Background(), scheduleID, volume)
	}
}

// Pause, Resume, SetVolume, and Stop update the singleton PlaybackState
// and broadcast the paired listener event.
func (s *Service) Pause(ctx context.Context) error {
	state, err := s.playback.GetCurrent(ctx)
	if err != nil {
		return err
	}
	state.Playing = false
	if err := s.playback.Persist(ctx, state); err != nil {
		return err
	}
	s.bus.Publish(events.EventPlaybackPaused, events.Payload{})
	return nil
}

func (s *Service) Resume(ctx context.Context) error {
	state, err := s.playback.GetCurrent(ctx)
	if err != nil {
		return err
	}
	state.Playing = true
	if err := s.playback.Persist(ctx, state); err != nil {
		return err
	}
	s.bus.Publish(events.EventPlaybackResumed, events.Payload{})
	return nil
}

func (s *Service) SetVolume(ctx context.Context, volume int) error {
	state, err := s.playback.GetCurrent(ctx)
	if err != nil {
		return err
	}
	state.Volume = volume
	if err := s.playback.Persist(ctx, state); err != nil {
		return err
	}
	s.bus.Publish(events.EventVolumeChanged, events.Payload{"volume": volume})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	state, err := s.playback.GetCurrent(ctx)
	if err != nil {
		return err
	}
	state.CurrentSongID = nil
	state.Playing = false
	state.PositionSec = 0
	if err := s.playback.Persist(ctx, state); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = nil
	s.cache = nil
	s.run = runState{}
	s.mu.Unlock()

	s.bus.Publish(events.EventPlaybackStopped, events.Payload{})
	return nil
}

// ClearOnAdminLeave is invoked by the arbiter when an admin's grace
// window elapses with no reattach: the admin truly left, so the state
// that exists only to replay to them is dropped.
func (s *Service) ClearOnAdminLeave() {
	s.mu.Lock()
	s.current = nil
	s.cache = nil
	s.mu.Unlock()
}

// CurrentlyPlaying returns the broadcaster's most recently announced
// song, if any.
func (s *Service) CurrentlyPlaying() *CurrentlyPlaying {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cache returns the last play-song-shaped payload emitted, for replay to
// a reconnecting admin.
func (s *Service) Cache() *PlaybackCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

func (s *Service) defaultVolume(ctx context.Context) int {
	state, err := s.playback.GetCurrent(ctx)
	if err != nil || state.Volume == 0 {
		return 80
	}
	return state.Volume
}
