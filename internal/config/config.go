/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string

	DBBackend DatabaseBackend
	DBDSN     string

	JWTSigningKey   string
	AdminGraceWindow time.Duration // reconnect window before an admin session is truly released; loaded but not read (the arbiter uses its fixed GraceWindow)

	MetricsBind string

	// Pre-fetch / playback timing. PrefetchLeadMinutes, ReentrancyWindow
	// and PrefetchBudget are loaded but not read by any component: the
	// scheduler uses cron.PrefetchLeadTime, the playback controller its own
	// fixed re-entrancy window, and no deadline on unresolved slots exists.
	PrefetchLeadMinutes int           // minutes before a main firing that pre-fetch runs
	ReentrancyWindow    time.Duration // executeSchedule skip window (§4.3)
	ExtractorTimeout    time.Duration
	MetadataTimeout     time.Duration
	PrefetchBudget      time.Duration // total time a slot may remain unresolved before it's considered failed

	// How long an aired song stays in the queue store before the daily
	// maintenance sweep deletes it.
	PlayedSongRetention time.Duration

	// StreamURLCache.
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	StreamURLCacheTTL time.Duration

	// Announcer (TTS/script) disk cache.
	TTSCacheDir string

	// Local library fallback for offline airings.
	LibraryRoot string

	// External stream URL extractor subprocess.
	ExtractorBin string

	// External TTS rendering subprocess; empty disables audio rendering
	// and announcements fall back to text-only.
	TTSBin string

	// Cron evaluation timezone, independent of process locale.
	CronTimezone string

	// Tracing configuration.
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Optional cross-instance event relay.
	RelayEnabled bool
	NATSURL      string
	InstanceID   string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
// A .env file in the working directory is loaded first, if present, without
// overriding variables already set in the real environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnvAny([]string{"QRADIO_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"QRADIO_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"QRADIO_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"QRADIO_BASE_URL"}, ""),

		DBBackend: DatabaseBackend(getEnvAny([]string{"QRADIO_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:     getEnvAny([]string{"QRADIO_DB_DSN"}, ""),

		JWTSigningKey:    getEnvAny([]string{"QRADIO_JWT_SIGNING_KEY"}, ""),
		AdminGraceWindow: time.Duration(getEnvIntAny([]string{"QRADIO_ADMIN_GRACE_WINDOW_SECONDS"}, 5)) * time.Second,

		MetricsBind: getEnvAny([]string{"QRADIO_METRICS_BIND"}, "127.0.0.1:9000"),

		PrefetchLeadMinutes: getEnvIntAny([]string{"QRADIO_PREFETCH_LEAD_MINUTES"}, 5),
		ReentrancyWindow:    time.Duration(getEnvIntAny([]string{"QRADIO_REENTRANCY_WINDOW_MINUTES"}, 10)) * time.Minute,
		ExtractorTimeout:    time.Duration(getEnvIntAny([]string{"QRADIO_EXTRACTOR_TIMEOUT_SECONDS"}, 90)) * time.Second,
		MetadataTimeout:     time.Duration(getEnvIntAny([]string{"QRADIO_METADATA_TIMEOUT_SECONDS"}, 30)) * time.Second,
		PrefetchBudget:      time.Duration(getEnvIntAny([]string{"QRADIO_PREFETCH_BUDGET_MINUTES"}, 4)) * time.Minute,
		PlayedSongRetention: time.Duration(getEnvIntAny([]string{"QRADIO_PLAYED_SONG_RETENTION_DAYS"}, 7)) * 24 * time.Hour,

		RedisAddr:         getEnvAny([]string{"QRADIO_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:     getEnvAny([]string{"QRADIO_REDIS_PASSWORD"}, ""),
		RedisDB:           getEnvIntAny([]string{"QRADIO_REDIS_DB"}, 0),
		StreamURLCacheTTL: time.Duration(getEnvIntAny([]string{"QRADIO_STREAM_URL_CACHE_TTL_MINUTES"}, 5)) * time.Minute,

		TTSCacheDir: getEnvAny([]string{"QRADIO_TTS_CACHE_DIR"}, "./cache/announcements"),
		LibraryRoot: getEnvAny([]string{"QRADIO_LIBRARY_ROOT"}, "./media/library"),

		ExtractorBin: getEnvAny([]string{"QRADIO_EXTRACTOR_BIN"}, "yt-dlp"),
		TTSBin:       getEnvAny([]string{"QRADIO_TTS_BIN"}, ""),

		CronTimezone: getEnvAny([]string{"QRADIO_CRON_TIMEZONE"}, "Local"),

		TracingEnabled:    getEnvBoolAny([]string{"QRADIO_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"QRADIO_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"QRADIO_TRACING_SAMPLE_RATE"}, 1.0),

		RelayEnabled: getEnvBoolAny([]string{"QRADIO_RELAY_ENABLED"}, false),
		NATSURL:      getEnvAny([]string{"QRADIO_NATS_URL"}, "nats://localhost:4222"),
		InstanceID:   getEnvAny([]string{"QRADIO_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("QRADIO_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("QRADIO_JWT_SIGNING_KEY must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if len(cfg.JWTSigningKey) < 16 {
			return nil, fmt.Errorf("QRADIO_JWT_SIGNING_KEY must be at least 16 characters in production")
		}
		if cfg.RelayEnabled && cfg.InstanceID == "" {
			return nil, fmt.Errorf("QRADIO_INSTANCE_ID must be set when QRADIO_RELAY_ENABLED is true")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":      "use QRADIO_ENV",
		"JWT_SIGNING_KEY":  "use QRADIO_JWT_SIGNING_KEY",
		"TRACING_ENABLED":  "use QRADIO_TRACING_ENABLED",
		"OTLP_ENDPOINT":    "use QRADIO_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// Location resolves the configured cron evaluation timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.CronTimezone == "" || strings.EqualFold(c.CronTimezone, "Local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.CronTimezone)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
