/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestDuration tracks HTTP handler latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qradio_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qradio_api_requests_total",
		Help: "Total HTTP requests handled.",
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qradio_api_active_connections",
		Help: "Number of HTTP requests currently being served.",
	})

	// DatabaseQueryDuration tracks GORM operation latency (see db/callbacks.go).
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qradio_database_query_duration_seconds",
		Help:    "Database query duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts non-not-found database errors.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qradio_database_errors_total",
		Help: "Total database errors.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive mirrors sql.DBStats.OpenConnections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qradio_database_connections_active",
		Help: "Open database connections.",
	})

	// SchedulerTicksTotal counts scheduler job firings by kind (main, prefetch, maintenance).
	SchedulerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qradio_scheduler_ticks_total",
		Help: "Total scheduler job firings.",
	}, []string{"kind"})

	// SchedulerErrorsTotal counts scheduler failures by kind: a recovered panic
	// in a main firing, or a failed maintenance reload.
	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qradio_scheduler_errors_total",
		Help: "Total scheduler job firings that failed.",
	}, []string{"kind"})

	// PrefetchDuration tracks how long prepareScheduledSong takes end to end.
	PrefetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qradio_prefetch_duration_seconds",
		Help:    "Duration of the pre-fetch pipeline.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 120},
	})

	// PrefetchOutcomesTotal counts pre-fetch results by outcome.
	PrefetchOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qradio_prefetch_outcomes_total",
		Help: "Pre-fetch pipeline outcomes.",
	}, []string{"outcome"}) // reserved, offline_fallback, no_queue

	// AdminTakeoversTotal counts successful admin session takeovers.
	AdminTakeoversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qradio_admin_takeovers_total",
		Help: "Total admin session takeovers.",
	})

	// ListenersActive tracks the current listener connection count.
	ListenersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qradio_listeners_active",
		Help: "Currently connected listener websocket connections.",
	})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
