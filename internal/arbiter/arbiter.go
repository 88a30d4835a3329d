/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package arbiter enforces the single-broadcaster invariant: at most one
// admin connection is authoritative at a time, with a short grace window
// across reconnects and an explicit takeover protocol otherwise.
package arbiter

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/events"
	"github.com/radiocommons/queue-radio/internal/telemetry"
)

// GraceWindow is how long a disconnected admin's identity is remembered
// before it is cleared for good.
const GraceWindow = 5 * time.Second

// Conn is the minimal connection surface the arbiter needs: something it
// can address and close. The broadcast hub supplies the concrete
// websocket-backed implementation.
type Conn interface {
	Send(eventType string, payload map[string]any) error
	Close() error
}

// Outcome tells the hub what to do after an admission attempt.
type Outcome int

const (
	// Installed means conn became (or remains) the authoritative admin.
	Installed Outcome = iota
	// Rejected means another admin is active and no takeover was requested.
	Rejected
)

// session holds the live-or-grace state of the single admin identity.
type session struct {
	conn      Conn
	userID    string
	sessionID string
	graceEnd  time.Time // zero while conn is live
}

// Arbiter owns the single AdminSession.
type Arbiter struct {
	mu      sync.Mutex
	current *session
	timer   *time.Timer
	logger  zerolog.Logger

	onGraceExpired func()
}

// New constructs an Arbiter. onGraceExpired is invoked, outside the
// arbiter's lock, when a grace window elapses with no reattach — the
// caller uses it to clear CurrentlyPlaying and PlaybackCache.
func New(onGraceExpired func(), logger zerolog.Logger) *Arbiter {
	return &Arbiter{
		logger:         logger.With().Str("component", "arbiter").Logger(),
		onGraceExpired: onGraceExpired,
	}
}

// Admit runs the upgrade protocol for an incoming admin connection.
// playingDescriptor is nil when nothing is currently playing; it is
// attached to admin-rejected and takeover-warning payloads.
func (a *Arbiter) Admit(conn Conn, userID, sessionID string, takeover bool, playingDescriptor map[string]any) Outcome {
	a.mu.Lock()

	if a.current != nil && a.timer != nil && !a.current.graceEnd.IsZero() && a.current.sessionID == sessionID {
		// Same session reattaching within its own grace window: the seat
		// is still held for it, so it is reinstalled without a takeover.
		// Once another session has claimed the seat this branch no longer
		// matches and the reattach is handled like any other claim.
		a.stopTimerLocked()
		a.current = &session{conn: conn, userID: userID, sessionID: sessionID}
		a.mu.Unlock()
		_ = conn.Send(string(events.EventAdminActive), nil)
		return Installed
	}

	if a.current == nil {
		a.current = &session{conn: conn, userID: userID, sessionID: sessionID}
		a.mu.Unlock()
		_ = conn.Send(string(events.EventAdminActive), nil)
		return Installed
	}

	if !takeover {
		incumbentLive := a.current.graceEnd.IsZero()
		a.mu.Unlock()
		if incumbentLive {
			_ = conn.Send(string(events.EventAdminRejected), map[string]any{"currently_playing": playingDescriptor})
			return Rejected
		}
		// Incumbent is in its grace window but this is a different
		// session: treat as a fresh claim, since the old identity never
		// explicitly agreed to hand over and reattach is sessionID-gated.
		a.mu.Lock()
		a.stopTimerLocked()
		a.current = &session{conn: conn, userID: userID, sessionID: sessionID}
		a.mu.Unlock()
		_ = conn.Send(string(events.EventAdminActive), nil)
		return Installed
	}

	incumbent := a.current
	a.mu.Unlock()

	telemetry.AdminTakeoversTotal.Inc()

	if playingDescriptor != nil {
		_ = conn.Send(string(events.EventTakeoverWarning), map[string]any{"currently_playing": playingDescriptor})
	}
	if incumbent.conn != nil {
		_ = incumbent.conn.Send(string(events.EventForceDisconnect), nil)
		_ = incumbent.conn.Close()
	}

	a.mu.Lock()
	a.stopTimerLocked()
	a.current = &session{conn: conn, userID: userID, sessionID: sessionID}
	a.mu.Unlock()
	_ = conn.Send(string(events.EventAdminActive), nil)
	return Installed
}

// Disconnect clears the live connection pointer but remembers the
// identity for GraceWindow, in case the same user reconnects (a browser
// refresh). If the window elapses with no reattach, onGraceExpired fires.
func (a *Arbiter) Disconnect(conn Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || a.current.conn != conn {
		return
	}

	a.current.conn = nil
	a.current.graceEnd = time.Now().Add(GraceWindow)
	sessionID := a.current.sessionID

	a.timer = time.AfterFunc(GraceWindow, func() {
		a.mu.Lock()
		expired := a.current != nil && a.current.sessionID == sessionID && a.current.conn == nil
		if expired {
			a.current = nil
		}
		a.mu.Unlock()
		if expired && a.onGraceExpired != nil {
			a.onGraceExpired()
		}
	})
}

func (a *Arbiter) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Active reports whether an admin identity (live or within grace) is
// currently held.
func (a *Arbiter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}
