/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay fans playback events out across instances over NATS, for
// deployments that run more than one broadcast-hub process behind a
// shared listener pool. A single process with relay disabled behaves
// exactly as if this package did not exist.
package relay

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/events"
)

const subjectPrefix = "qradio.events."

// wireEvent is the envelope published to NATS; InstanceID lets a
// subscriber ignore its own instance's echo.
type wireEvent struct {
	InstanceID string         `json:"instance_id"`
	Type       events.EventType `json:"type"`
	Payload    events.Payload `json:"payload"`
}

// Relay bridges the local in-process Bus to a NATS subject space, both
// publishing local events outward and re-publishing remote events onto
// the local bus so every instance's hub fans them out identically.
type Relay struct {
	nc         *nats.Conn
	bus        *events.Bus
	instanceID string
	logger     zerolog.Logger
}

// Connect dials NATS at url. Relay is a pure addition to the local bus:
// if the dial fails, the caller should log and continue running
// single-instance rather than fail startup.
func Connect(url, instanceID string, bus *events.Bus, logger zerolog.Logger) (*Relay, error) {
	nc, err := nats.Connect(url, nats.Name("queue-radio-relay"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}

	r := &Relay{
		nc:         nc,
		bus:        bus,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "relay").Logger(),
	}
	return r, nil
}

// relayedEvents are the listener-facing events worth propagating across
// instances; internal.* scheduling events stay local to the instance that
// owns the cron jobs.
var relayedEvents = []events.EventType{
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
}

// Start subscribes to NATS and begins publishing local bus events
// outward. Call once after Connect succeeds.
func (r *Relay) Start() error {
	sub, err := r.nc.Subscribe(subjectPrefix+"*", r.onRemoteMessage)
	if err != nil {
		return err
	}
	_ = sub

	for _, eventType := range relayedEvents {
		go r.publishLocal(eventType)
	}
	return nil
}

func (r *Relay) publishLocal(eventType events.EventType) {
	sub := r.bus.Subscribe(eventType)
	for payload := range sub {
		env := wireEvent{InstanceID: r.instanceID, Type: eventType, Payload: payload}
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := r.nc.Publish(subjectPrefix+string(eventType), data); err != nil {
			r.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish relayed event")
		}
	}
}

func (r *Relay) onRemoteMessage(msg *nats.Msg) {
	var env wireEvent
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn().Err(err).Msg("failed to decode relayed event")
		return
	}
	if env.InstanceID == r.instanceID {
		return
	}
	r.bus.Publish(env.Type, env.Payload)
}

// Close closes the NATS connection.
func (r *Relay) Close() {
	if r.nc != nil {
		r.nc.Close()
	}
}
