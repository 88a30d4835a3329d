/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"net/http"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/radiocommons/queue-radio/internal/auth"
	"github.com/radiocommons/queue-radio/internal/hub"
)

// WebSocketHandlers upgrades listener and admin connections into the
// broadcast hub.
type WebSocketHandlers struct {
	hub    *hub.Hub
	logger zerolog.Logger
}

// NewWebSocketHandlers constructs WebSocketHandlers.
func NewWebSocketHandlers(h *hub.Hub, logger zerolog.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{hub: h, logger: logger.With().Str("component", "web.websocket").Logger()}
}

// Listener upgrades an unauthenticated listener connection.
func (h *WebSocketHandlers) Listener(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("listener websocket upgrade failed")
		return
	}
	defer ws.CloseNow()
	h.hub.HandleListener(r.Context(), ws)
}

// Admin upgrades an admin connection, already authenticated by
// auth.MiddlewareWithJWT, and runs it through the arbiter.
func (h *WebSocketHandlers) Admin(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("admin websocket upgrade failed")
		return
	}
	defer ws.CloseNow()

	takeover := r.URL.Query().Get("takeover") == "true"
	h.hub.HandleAdmin(r.Context(), ws, hub.AdminUpgrade{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Takeover:  takeover,
	})
}
