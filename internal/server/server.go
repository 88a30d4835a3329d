/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the playback orchestration subsystem together and
// exposes it as an http.Server: chi routing, middleware stack, and every
// component's construction in dependency order.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/announcer"
	"github.com/radiocommons/queue-radio/internal/arbiter"
	"github.com/radiocommons/queue-radio/internal/auth"
	"github.com/radiocommons/queue-radio/internal/config"
	"github.com/radiocommons/queue-radio/internal/db"
	"github.com/radiocommons/queue-radio/internal/events"
	"github.com/radiocommons/queue-radio/internal/extractor"
	"github.com/radiocommons/queue-radio/internal/hub"
	"github.com/radiocommons/queue-radio/internal/models"
	"github.com/radiocommons/queue-radio/internal/playback"
	"github.com/radiocommons/queue-radio/internal/prefetch"
	"github.com/radiocommons/queue-radio/internal/relay"
	"github.com/radiocommons/queue-radio/internal/scheduler"
	"github.com/radiocommons/queue-radio/internal/store"
	"github.com/radiocommons/queue-radio/internal/telemetry"
	"github.com/radiocommons/queue-radio/internal/web"
)

// Server owns every long-lived component and the HTTP listener in front
// of them.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	database  *gorm.DB
	cache     *extractor.StreamURLCache
	scheduler *scheduler.Scheduler
	relay     *relay.Relay

	httpServer *http.Server
}

// New constructs the full dependency graph and an HTTP server ready to
// ListenAndServe, and starts the scheduler's background goroutines.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return nil, fmt.Errorf("register db callbacks: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve cron timezone: %w", err)
	}

	bus := events.NewBus()

	songStore := store.NewSongStore(database)
	scheduleStore := store.NewScheduleStore(database)
	playbackStore := store.NewPlaybackStore(database)

	streamCache := extractor.NewStreamURLCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StreamURLCacheTTL, logger)
	resolver := extractor.NewSubprocessResolver(cfg.ExtractorBin)
	extractorSvc := extractor.New(resolver, streamCache, cfg.ExtractorTimeout, cfg.MetadataTimeout)

	scriptGen, err := announcer.NewTemplateScriptGenerator()
	if err != nil {
		return nil, fmt.Errorf("init script generator: %w", err)
	}
	var tts announcer.TTS
	if cfg.TTSBin != "" {
		tts = announcer.NewSubprocessTTS(cfg.TTSBin, cfg.TTSCacheDir)
	}
	announcerSvc := announcer.New(scriptGen, tts, cfg.TTSCacheDir, logger)

	prefetchSvc := prefetch.New(scheduleStore, songStore, extractorSvc, announcerSvc, bus, logger)
	playbackSvc := playback.New(playbackStore, scheduleStore, songStore, prefetchSvc, bus, loc, logger)

	sched := scheduler.New(scheduleStore, loc,
		func(ctx context.Context, s models.Schedule) { playbackSvc.ExecuteSchedule(ctx, s) },
		func(ctx context.Context, s models.Schedule, mainFiringAt time.Time) {
			prefetchSvc.PrepareScheduledSong(ctx, s.ID, s.Volume, mainFiringAt)
		},
		bus,
		logger,
	)

	sched.SetMaintenanceFunc(func(ctx context.Context) {
		cutoff := time.Now().UTC().Add(-cfg.PlayedSongRetention)
		deleted, err := songStore.DeleteOldPlayed(ctx, cutoff)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to prune old played songs")
			return
		}
		if deleted > 0 {
			logger.Info().Int64("deleted", deleted).Msg("pruned aired songs past retention window")
		}
	})

	// A schedule's job and any PreparedSlot it already locked must be
	// removed together, or a deleted schedule leaves a stale slot behind
	// for prefetch.Snapshot/PopAny to hand out.
	sched.SetRemoveFunc(prefetchSvc.Discard)

	arb := arbiter.New(playbackSvc.ClearOnAdminLeave, logger)

	broadcastHub := hub.New(bus, playbackSvc, prefetchSvc, playbackStore, arb, logger)

	var r *relay.Relay
	if cfg.RelayEnabled {
		r, err = relay.Connect(cfg.NATSURL, cfg.InstanceID, bus, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("relay connect failed, continuing single-instance")
			r = nil
		} else if err := r.Start(); err != nil {
			logger.Warn().Err(err).Msg("relay start failed, continuing single-instance")
			r.Close()
			r = nil
		}
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		database:  database,
		cache:     streamCache,
		scheduler: sched,
		relay:     r,
	}

	if err := sched.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	go s.sweepCache()
	go s.sweepDBMetrics()

	router := s.buildRouter(cfg, scheduleStore, playbackSvc, songStore, extractorSvc, broadcastHub, loc)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler: otelhttp.NewHandler(router, "queue-radio"),
	}

	return s, nil
}

func (s *Server) sweepCache() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.cache.Sweep()
	}
}

// sweepDBMetrics periodically reports the gorm connection pool's open
// connection count to telemetry.DatabaseConnectionsActive.
func (s *Server) sweepDBMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		db.UpdateConnectionMetrics(s.database)
	}
}

func (s *Server) buildRouter(cfg *config.Config, scheduleStore *store.ScheduleStore, playbackSvc *playback.Service, songStore *store.SongStore, extractorSvc *extractor.Service, broadcastHub *hub.Hub, loc *time.Location) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.MetricsMiddleware)

	r.Get("/metrics", telemetry.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	wsHandlers := web.NewWebSocketHandlers(broadcastHub, s.logger)
	r.Get("/ws/listen", wsHandlers.Listener)

	streamHandlers := web.NewStreamHandlers(songStore, extractorSvc, cfg.LibraryRoot, s.logger)
	streamHandlers.Mount(r)

	jwtSecret := []byte(cfg.JWTSigningKey)

	r.Route("/ws/admin", func(admin chi.Router) {
		admin.Use(auth.MiddlewareWithJWT(jwtSecret))
		admin.Get("/", wsHandlers.Admin)
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(auth.MiddlewareWithJWT(jwtSecret))

		api.Route("/schedules", func(sr chi.Router) {
			web.NewScheduleHandlers(scheduleStore, s.scheduler, loc, s.logger).Mount(sr)
		})
		api.Route("/playback", func(pr chi.Router) {
			web.NewPlaybackHandlers(playbackSvc, s.logger).Mount(pr)
		})
	})

	return r
}

// HTTPServer returns the configured http.Server, ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases the database connection and, if active, the relay
// connection.
func (s *Server) Close() error {
	if s.relay != nil {
		s.relay.Close()
	}
	return db.Close(s.database)
}
