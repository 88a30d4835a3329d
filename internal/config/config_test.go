package config

import (
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("QRADIO_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("QRADIO_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("QRADIO_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.PrefetchLeadMinutes != 5 {
		t.Fatalf("expected default prefetch lead of 5 minutes, got %d", cfg.PrefetchLeadMinutes)
	}
	if cfg.PlayedSongRetention != 7*24*time.Hour {
		t.Fatalf("expected default played-song retention of 7 days, got %s", cfg.PlayedSongRetention)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("QRADIO_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("QRADIO_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRequiresLongSigningKey(t *testing.T) {
	t.Setenv("QRADIO_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("QRADIO_JWT_SIGNING_KEY", "short")
	t.Setenv("QRADIO_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail with a short signing key")
	}

	t.Setenv("QRADIO_JWT_SIGNING_KEY", "a-sufficiently-long-signing-key")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load to succeed with a long signing key: %v", err)
	}
}

func TestLoadProductionRequiresInstanceIDWhenRelayEnabled(t *testing.T) {
	t.Setenv("QRADIO_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("QRADIO_JWT_SIGNING_KEY", "a-sufficiently-long-signing-key")
	t.Setenv("QRADIO_ENV", "production")
	t.Setenv("QRADIO_RELAY_ENABLED", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without an instance id when relay is enabled")
	}

	t.Setenv("QRADIO_INSTANCE_ID", "instance-1")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load to succeed with instance id set: %v", err)
	}
}
