/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hub is the broadcast fan-out (B): it keeps every listener
// connection synchronized with playback events and gates the single
// admin channel through the arbiter.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/radiocommons/queue-radio/internal/arbiter"
	"github.com/radiocommons/queue-radio/internal/events"
	"github.com/radiocommons/queue-radio/internal/models"
	"github.com/radiocommons/queue-radio/internal/playback"
	"github.com/radiocommons/queue-radio/internal/prefetch"
	"github.com/radiocommons/queue-radio/internal/store"
	"github.com/radiocommons/queue-radio/internal/telemetry"
)

// outbound is a FIFO-queued event waiting to be written to one
// connection's socket.
type outbound struct {
	eventType string
	payload   any
}

// conn wraps one websocket connection with a dedicated FIFO send
// goroutine, compensating for the in-process event bus's lossy,
// non-blocking publish — once an event reaches a conn's queue it is
// delivered in order, even if the bus itself dropped a slower sibling
// subscriber's copy.
type conn struct {
	ws    *websocket.Conn
	send  chan outbound
	done  chan struct{}
	once  sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{ws: ws, send: make(chan outbound, 64), done: make(chan struct{})}
	go c.writeLoop()
	return c
}

func (c *conn) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		case <-c.done:
			// A message enqueued immediately before Close (for example
			// admin-rejected right before the arbiter closes the loser
			// of a takeover) must still go out, so drain the queue
			// instead of racing select between the two ready cases.
			for {
				select {
				case msg := <-c.send:
					c.write(msg)
				default:
					return
				}
			}
		}
	}
}

func (c *conn) write(msg outbound) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, map[string]any{"type": msg.eventType, "payload": msg.payload}); err != nil {
		c.closeOnce()
		return false
	}
	return true
}

// Send implements arbiter.Conn.
func (c *conn) Send(eventType string, payload map[string]any) error {
	select {
	case c.send <- outbound{eventType: eventType, payload: payload}:
		return nil
	default:
		return nil
	}
}

// Close implements arbiter.Conn.
func (c *conn) Close() error {
	c.closeOnce()
	return c.ws.Close(websocket.StatusNormalClosure, "closed")
}

func (c *conn) closeOnce() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) publish(eventType events.EventType, payload events.Payload) {
	select {
	case c.send <- outbound{eventType: string(eventType), payload: payload}:
	default:
	}
}

// listenerEvents is the subset of the bus's vocabulary relayed to
// listener connections; internal.* events never leave the process.
var listenerEvents = []events.EventType{
	events.EventPlaySong,
	events.EventPlayAnnouncement,
	events.EventQueueUpdated,
	events.EventRecentlyPlayed,
	events.EventPlaybackPaused,
	events.EventPlaybackResumed,
	events.EventVolumeChanged,
	events.EventPlaybackStopped,
	events.EventSongEnded,
	events.EventNextSongLocked,
	events.EventSongPlayingUpdate,
	events.EventCurrentSong,
}

// Hub fans out playback events to every live listener connection and
// gates the admin channel through an Arbiter.
type Hub struct {
	bus            *events.Bus
	playback       *playback.Service
	prefetch       *prefetch.Service
	playbackStore  *store.PlaybackStore
	arbiter        *arbiter.Arbiter
	logger         zerolog.Logger

	mu        sync.Mutex
	listeners map[*conn]struct{}
}

// New constructs a Hub and starts relaying bus events to listeners.
func New(bus *events.Bus, playbackSvc *playback.Service, prefetchSvc *prefetch.Service, playbackStore *store.PlaybackStore, arb *arbiter.Arbiter, logger zerolog.Logger) *Hub {
	h := &Hub{
		bus:           bus,
		playback:      playbackSvc,
		prefetch:      prefetchSvc,
		playbackStore: playbackStore,
		arbiter:       arb,
		logger:        logger.With().Str("component", "hub").Logger(),
		listeners:     make(map[*conn]struct{}),
	}
	go h.relay()
	return h
}

// relay drains every listener-facing event type through one merged,
// ordered subscription rather than one goroutine per type: the bus
// guarantees delivery order only within a single channel, and listeners
// depend on cross-type ordering (next-song-locked before its play-song,
// queue-updated before the play-song that follows it, song-ended never
// preceding a play-song it invalidated).
func (h *Hub) relay() {
	sub := h.bus.SubscribeMany(listenerEvents...)
	for env := range sub {
		h.mu.Lock()
		for c := range h.listeners {
			c.publish(env.Type, env.Payload)
		}
		h.mu.Unlock()
	}
}

// HandleListener registers ws as a live listener connection, sends the
// attach-time snapshot, and blocks reading inbound messages until the
// socket closes.
func (h *Hub) HandleListener(ctx context.Context, ws *websocket.Conn) {
	c := newConn(ws)
	h.mu.Lock()
	h.listeners[c] = struct{}{}
	h.mu.Unlock()
	telemetry.ListenersActive.Inc()

	defer func() {
		h.mu.Lock()
		delete(h.listeners, c)
		h.mu.Unlock()
		c.closeOnce()
		telemetry.ListenersActive.Dec()
	}()

	h.sendSnapshot(c)

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			return
		}
		switch msg.Type {
		case "get-current-song":
			h.replyCurrentSong(c)
		}
	}
}

func (h *Hub) sendSnapshot(c *conn) {
	if cp := h.playback.CurrentlyPlaying(); cp != nil {
		c.publish(events.EventCurrentSong, events.Payload{"id": cp.SongID, "title": cp.Title, "artist": cp.Artist})
	}
	for _, slot := range h.prefetch.Snapshot() {
		if slot.IsOfflineFallback {
			continue
		}
		c.publish(events.EventNextSongLocked, events.Payload{
			"song":             songDescriptor(slot.Song),
			"has_announcement": slot.Announcement != nil,
		})
	}
}

func songDescriptor(song models.Song) events.Payload {
	return events.Payload{"id": song.ID, "title": song.Title, "artist": song.Artist}
}

func (h *Hub) replyCurrentSong(c *conn) {
	cp := h.playback.CurrentlyPlaying()
	if cp == nil {
		c.publish(events.EventCurrentSong, events.Payload{})
		return
	}
	c.publish(events.EventCurrentSong, events.Payload{"id": cp.SongID, "title": cp.Title, "artist": cp.Artist})
}

// AdminUpgrade is the admin connection's message envelope, used for both
// inbound control messages and the initial upgrade request.
type AdminUpgrade struct {
	UserID    string
	SessionID string
	Takeover  bool
}

// HandleAdmin runs the arbiter's upgrade protocol for ws and, if
// installed, blocks handling admin control messages until the socket
// closes or it is force-disconnected by a takeover.
func (h *Hub) HandleAdmin(ctx context.Context, ws *websocket.Conn, upgrade AdminUpgrade) {
	c := newConn(ws)

	var playingDescriptor map[string]any
	if cp := h.playback.CurrentlyPlaying(); cp != nil {
		playingDescriptor = map[string]any{"id": cp.SongID, "title": cp.Title, "artist": cp.Artist}
	}

	outcome := h.arbiter.Admit(c, upgrade.UserID, upgrade.SessionID, upgrade.Takeover, playingDescriptor)
	if outcome == arbiter.Rejected {
		c.closeOnce()
		return
	}

	defer h.arbiter.Disconnect(c)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			return
		}
		h.handleAdminMessage(ctx, c, msg)
	}
}

func (h *Hub) handleAdminMessage(ctx context.Context, c *conn, raw json.RawMessage) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "song-started":
		h.onSongStarted()
	case "song-ended-notify":
		h.playback.OnSongEnded(ctx)
	case "get-playback-state":
		h.replyPlaybackState(c)
	case "get-current-song":
		h.replyCurrentSong(c)
	}
}

// onSongStarted mirrors §4.4: update CurrentlyPlaying is already owned by
// playback.Service at the moment the slot was consumed, so this handler
// only needs to relay song-playing-update — never re-broadcasting
// play-song, which would loop playback on every listener.
func (h *Hub) onSongStarted() {
	cp := h.playback.CurrentlyPlaying()
	if cp == nil {
		return
	}
	h.bus.Publish(events.EventSongPlayingUpdate, events.Payload{"id": cp.SongID, "title": cp.Title, "artist": cp.Artist})
}

func (h *Hub) replyPlaybackState(c *conn) {
	cache := h.playback.Cache()
	if cache == nil || time.Since(cache.CachedAt) > 10*time.Minute {
		c.publish(events.EventPlaybackStopped, events.Payload{"state": "idle"})
		return
	}

	state, err := h.playbackStore.GetCurrent(context.Background())
	if err != nil || !state.Playing {
		c.publish(events.EventPlaybackStopped, events.Payload{"state": "idle"})
		return
	}

	payload := events.Payload{}
	for k, v := range cache.Payload {
		payload[k] = v
	}
	payload["is_reconnect"] = true
	c.publish(events.EventPlaySong, payload)
}
