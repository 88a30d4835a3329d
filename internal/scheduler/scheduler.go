/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler owns the cron job table: one timer pair (pre-fetch,
// main) per active Schedule, plus a daily maintenance sweep. It never
// touches the queue or the player directly; firing a job only invokes the
// callbacks the caller wires in, matching the teacher's director/scheduler
// split between "when" and "what".
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/cron"
	"github.com/radiocommons/queue-radio/internal/events"
	"github.com/radiocommons/queue-radio/internal/models"
	"github.com/radiocommons/queue-radio/internal/store"
	"github.com/radiocommons/queue-radio/internal/telemetry"
)

// MainFireFunc executes a schedule's main firing: play its top N songs.
type MainFireFunc func(ctx context.Context, schedule models.Schedule)

// PrefetchFireFunc pre-fetches the upcoming songs for a schedule ahead of
// its main firing. mainFiringAt is when the corresponding main job will
// fire, used to annotate the "locked" broadcast with a human-readable ETA.
type PrefetchFireFunc func(ctx context.Context, schedule models.Schedule, mainFiringAt time.Time)

// Scheduler maintains a main-firing goroutine per active schedule, plus a
// pre-fetch goroutine unless the cron minute field is a wildcard, each
// sleeping until its next computed firing and re-arming itself afterward. Reload
// replaces the whole job table, used after admin CRUD on schedules.
type Scheduler struct {
	store    *store.ScheduleStore
	loc      *time.Location
	onMain   MainFireFunc
	onPrefetch PrefetchFireFunc
	bus      *events.Bus
	logger   zerolog.Logger

	mu            sync.Mutex
	jobs          map[string]*job
	onMaintenance func(ctx context.Context)
	onRemove      func(ctx context.Context, scheduleID string)
}

type job struct {
	cancel context.CancelFunc
}

// New constructs a Scheduler. loc is the IANA location schedules are
// evaluated in, independent of the host process's own locale. bus may be
// nil in tests that don't care about the internal scheduler-tick event.
func New(scheduleStore *store.ScheduleStore, loc *time.Location, onMain MainFireFunc, onPrefetch PrefetchFireFunc, bus *events.Bus, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:      scheduleStore,
		loc:        loc,
		onMain:     onMain,
		onPrefetch: onPrefetch,
		bus:        bus,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		jobs:       make(map[string]*job),
	}
}

// Start loads every active schedule and arms its job pair. It also arms
// the daily maintenance sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	go s.runMaintenance(ctx)
	return nil
}

// Reload replaces the entire job table from the current set of active
// schedules. Existing timers are cancelled first so a schedule removed or
// deactivated between reloads stops firing.
func (s *Scheduler) Reload(ctx context.Context) error {
	schedules, err := s.store.Active(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for id, j := range s.jobs {
		j.cancel()
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	for _, sched := range schedules {
		if err := s.addJob(ctx, sched); err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("failed to arm schedule, skipping")
		}
	}
	return nil
}

// addJob parses sched's cron expression, persists its next main firing as
// NextRun, and starts its firing goroutines.
func (s *Scheduler) addJob(parent context.Context, sched models.Schedule) error {
	expr, err := cron.Parse(sched.CronExpr, s.loc)
	if err != nil {
		return err
	}

	if next, err := expr.Next(time.Now().In(s.loc)); err == nil {
		if err := s.store.RecordNextRun(parent, sched.ID, next); err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("failed to persist next run")
		}
	}

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.jobs[sched.ID] = &job{cancel: cancel}
	s.mu.Unlock()

	go s.runMain(ctx, sched.ID, expr)
	if !expr.MinuteIsWildcard() {
		go s.runPrefetch(ctx, sched.ID, expr)
	}
	return nil
}

// SetMaintenanceFunc registers fn to run once per maintenance sweep,
// alongside the job-table Reload. Used for low-priority upkeep that only
// needs to happen daily, such as pruning long-aired songs from the queue
// store.
func (s *Scheduler) SetMaintenanceFunc(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onMaintenance = fn
	s.mu.Unlock()
}

// SetRemoveFunc registers fn to run whenever Remove drops a schedule's
// job, used to discard any PreparedSlot pre-fetch reserved for that
// schedule so a deleted schedule doesn't leave a locked slot behind.
func (s *Scheduler) SetRemoveFunc(fn func(ctx context.Context, scheduleID string)) {
	s.mu.Lock()
	s.onRemove = fn
	s.mu.Unlock()
}

// Remove cancels and drops id's job, if armed, and runs the remove
// callback set by SetRemoveFunc. Called by the admin schedule-delete
// handler so the cancellation happens immediately rather than waiting on
// the next Reload.
func (s *Scheduler) Remove(ctx context.Context, id string) {
	s.removeJob(id)

	s.mu.Lock()
	fn := s.onRemove
	s.mu.Unlock()
	if fn != nil {
		fn(ctx, id)
	}
}

// removeJob cancels and drops a schedule's job, if armed.
func (s *Scheduler) removeJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.cancel()
		delete(s.jobs, id)
	}
}

func (s *Scheduler) runMain(ctx context.Context, scheduleID string, expr *cron.Expr) {
	for {
		next, err := expr.Next(time.Now().In(s.loc))
		if err != nil {
			s.logger.Error().Err(err).Str("schedule_id", scheduleID).Msg("cannot compute next firing, dropping schedule")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			sched, err := s.store.ByID(ctx, scheduleID)
			if err != nil {
				s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("schedule vanished before firing, dropping")
				return
			}
			s.fireMain(ctx, *sched, next)
		}
	}
}

// fireMain invokes the main-firing callback, which owns all of the
// schedule's own persistence (last-run, next-run, the re-entrancy guard) —
// a firing that the callback decides to skip still needs to advance
// next-run differently than one it executes, so that decision cannot be
// made out here.
func (s *Scheduler) fireMain(ctx context.Context, sched models.Schedule, firedAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.SchedulerErrorsTotal.WithLabelValues("main").Inc()
			s.logger.Error().Interface("panic", r).Str("schedule_id", sched.ID).Msg("recovered from panic in schedule firing")
		}
	}()

	telemetry.SchedulerTicksTotal.WithLabelValues("main").Inc()
	if s.bus != nil {
		s.bus.Publish(events.EventSchedulerTick, events.Payload{"schedule_id": sched.ID, "fired_at": firedAt})
	}
	s.onMain(ctx, sched)
}

// runPrefetch fires PrefetchLeadTime before each main firing. Once it
// fires for a given main firing, the next iteration must compute from
// that firing rather than from time.Now(): between T-5m and T, now is
// still before T, so re-deriving NextPrefetch from now would find the
// very same main firing T again and return a pre-fetch time already in
// the past, firing immediately in a tight loop until now passes T. Using
// the just-fired main time as the search floor skips straight past T.
func (s *Scheduler) runPrefetch(ctx context.Context, scheduleID string, expr *cron.Expr) {
	from := time.Now().In(s.loc)
	for {
		main, err := expr.Next(from)
		if err != nil {
			s.logger.Error().Err(err).Str("schedule_id", scheduleID).Msg("cannot compute next pre-fetch firing, dropping")
			return
		}
		next := main.Add(-cron.PrefetchLeadTime)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			sched, err := s.store.ByID(ctx, scheduleID)
			if err != nil {
				s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("schedule vanished before pre-fetch, dropping")
				return
			}
			telemetry.SchedulerTicksTotal.WithLabelValues("prefetch").Inc()
			s.onPrefetch(ctx, *sched, main)
		}

		from = main
	}
}

// runMaintenance runs once a day, re-syncing the job table against the
// database so a schedule edited directly (rather than through Reload)
// eventually takes effect, and so a NextRun left stale by a crash gets
// recomputed.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			telemetry.SchedulerTicksTotal.WithLabelValues("maintenance").Inc()
			if err := s.Reload(ctx); err != nil {
				telemetry.SchedulerErrorsTotal.WithLabelValues("maintenance").Inc()
				s.logger.Error().Err(err).Msg("daily maintenance reload failed")
			}

			s.mu.Lock()
			fn := s.onMaintenance
			s.mu.Unlock()
			if fn != nil {
				fn(ctx)
			}
		}
	}
}
