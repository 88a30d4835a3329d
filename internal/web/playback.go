/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/playback"
)

// PlaybackHandlers exposes the admin manual-control surface: next, play a
// specific song, pause/resume, volume, stop.
type PlaybackHandlers struct {
	playback *playback.Service
	logger   zerolog.Logger
}

// NewPlaybackHandlers constructs PlaybackHandlers.
func NewPlaybackHandlers(playbackSvc *playback.Service, logger zerolog.Logger) *PlaybackHandlers {
	return &PlaybackHandlers{playback: playbackSvc, logger: logger.With().Str("component", "web.playback").Logger()}
}

// Mount registers the playback control routes onto r.
func (h *PlaybackHandlers) Mount(r chi.Router) {
	r.Post("/next", h.next)
	r.Post("/play/{songId}", h.playSpecific)
	r.Post("/pause", h.pause)
	r.Post("/resume", h.resume)
	r.Post("/volume", h.setVolume)
	r.Post("/stop", h.stop)
}

func (h *PlaybackHandlers) next(w http.ResponseWriter, r *http.Request) {
	h.playback.PlayTopNow(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func (h *PlaybackHandlers) playSpecific(w http.ResponseWriter, r *http.Request) {
	h.playback.PlaySpecific(r.Context(), chi.URLParam(r, "songId"))
	w.WriteHeader(http.StatusAccepted)
}

func (h *PlaybackHandlers) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.playback.Pause(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to pause")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlaybackHandlers) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.playback.Resume(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resume")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlaybackHandlers) setVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume int `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.playback.SetVolume(r.Context(), req.Volume); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set volume")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlaybackHandlers) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.playback.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
