/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package web holds the HTTP-facing handlers: admin schedule CRUD,
// websocket upgrades, and the stream redirect/offline-file endpoints.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/cron"
	"github.com/radiocommons/queue-radio/internal/models"
	"github.com/radiocommons/queue-radio/internal/scheduler"
	"github.com/radiocommons/queue-radio/internal/store"
)

// ScheduleHandlers exposes admin CRUD over schedules. Every route here is
// mounted behind auth.MiddlewareWithJWT by the server.
type ScheduleHandlers struct {
	store     *store.ScheduleStore
	scheduler *scheduler.Scheduler
	loc       *time.Location
	logger    zerolog.Logger
}

// NewScheduleHandlers constructs ScheduleHandlers. loc is the cron
// evaluation timezone, used only to validate CronExpr on write.
func NewScheduleHandlers(scheduleStore *store.ScheduleStore, sched *scheduler.Scheduler, loc *time.Location, logger zerolog.Logger) *ScheduleHandlers {
	return &ScheduleHandlers{store: scheduleStore, scheduler: sched, loc: loc, logger: logger.With().Str("component", "web.schedules").Logger()}
}

// Mount registers the schedule routes onto r.
func (h *ScheduleHandlers) Mount(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

type scheduleRequest struct {
	Name      string `json:"name"`
	CronExpr  string `json:"cron_expr"`
	Volume    int    `json:"volume"`
	SongCount int    `json:"song_count"`
	Active    bool   `json:"active"`
}

// validate rejects a schedule write before it ever reaches the scheduler:
// an unparseable cron expression, an out-of-range volume, or a song count
// outside [1, 10] per main firing.
func (h *ScheduleHandlers) validate(req scheduleRequest) error {
	if _, err := cron.Parse(req.CronExpr, h.loc); err != nil {
		return fmt.Errorf("invalid cron_expr: %w", err)
	}
	if req.Volume < 0 || req.Volume > 100 {
		return fmt.Errorf("volume must be in [0, 100], got %d", req.Volume)
	}
	if req.SongCount < 1 || req.SongCount > 10 {
		return fmt.Errorf("song_count must be in [1, 10], got %d", req.SongCount)
	}
	return nil
}

func (h *ScheduleHandlers) list(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.store.Active(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *ScheduleHandlers) get(w http.ResponseWriter, r *http.Request) {
	sched, err := h.store.ByID(r.Context(), chi.URLParam(r, "id"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch schedule")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *ScheduleHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched := &models.Schedule{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CronExpr:  req.CronExpr,
		Volume:    req.Volume,
		SongCount: req.SongCount,
		Active:    req.Active,
	}
	if err := h.store.Create(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	if err := h.scheduler.Reload(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("failed to reload scheduler after create")
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (h *ScheduleHandlers) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sched, err := h.store.ByID(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch schedule")
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched.Name = req.Name
	sched.CronExpr = req.CronExpr
	sched.Volume = req.Volume
	sched.SongCount = req.SongCount
	sched.Active = req.Active

	if err := h.store.Update(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}

	if err := h.scheduler.Reload(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("failed to reload scheduler after update")
	}
	writeJSON(w, http.StatusOK, sched)
}

func (h *ScheduleHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	// Remove cancels the deleted schedule's job pair immediately and, via
	// its remove callback, discards any PreparedSlot pre-fetch already
	// locked for it; Reload below just re-syncs everything else.
	h.scheduler.Remove(r.Context(), id)
	if err := h.scheduler.Reload(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("failed to reload scheduler after delete")
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
