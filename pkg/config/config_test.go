package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GREENMILE_APP_ENV", "dev")
	t.Setenv("GREENMILE_APP_PORT", "8080")
	t.Setenv("GREENMILE_DB_DSN", "postgres://gm:gm@localhost:5432/greenmile?sslmode=disable")
	t.Setenv("GREENMILE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GREENMILE_JWT_SECRET", "test-secret")
	t.Setenv("GREENMILE_JWT_ISSUER", "greenmile")
	t.Setenv("GREENMILE_GCP_PROJECT_ID", "greenmile-test")
	t.Setenv("GREENMILE_PUBSUB_DOMAIN_TOPIC", "gm-domain-events")
	t.Setenv("GREENMILE_PUBSUB_SETTLEMENT_SUBSCRIPTION", "gm-settlement")
	t.Setenv("GREENMILE_WEBHOOK_SIGNING_SECRET", "webhook-secret")
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Env != "dev" {
		t.Errorf("expected env dev, got %q", cfg.App.Env)
	}
	if !cfg.App.IsDev() {
		t.Error("expected IsDev to be true")
	}
	if cfg.App.IsProd() {
		t.Error("expected IsProd to be false")
	}
	if cfg.App.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.App.LogLevel)
	}
	if cfg.DB.MaxOpenConns != 20 {
		t.Errorf("expected default max open conns 20, got %d", cfg.DB.MaxOpenConns)
	}
	if cfg.Dispatch.AcceptTTL != 10*time.Minute {
		t.Errorf("expected default accept TTL 10m, got %s", cfg.Dispatch.AcceptTTL)
	}
	if cfg.Platform.PayoutFeePercent != "1.5" {
		t.Errorf("expected default payout fee percent 1.5, got %q", cfg.Platform.PayoutFeePercent)
	}
	if cfg.Outbox.BatchSize != 50 {
		t.Errorf("expected default outbox batch size 50, got %d", cfg.Outbox.BatchSize)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GREENMILE_APP_PORT", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when GREENMILE_APP_PORT is missing")
	}
}

func TestEnsureDSNFromLegacyParts(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GREENMILE_DB_DSN", "")
	t.Setenv("GREENMILE_DB_HOST", "db.internal")
	t.Setenv("GREENMILE_DB_PORT", "5433")
	t.Setenv("GREENMILE_DB_USER", "gm")
	t.Setenv("GREENMILE_DB_PASSWORD", "p@ss word")
	t.Setenv("GREENMILE_DB_NAME", "greenmile")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	dsn := cfg.DB.DSN
	if !strings.HasPrefix(dsn, "postgres://") {
		t.Fatalf("expected postgres scheme, got %q", dsn)
	}
	if !strings.Contains(dsn, "db.internal:5433") {
		t.Errorf("expected host and port in DSN, got %q", dsn)
	}
	if !strings.Contains(dsn, "/greenmile") {
		t.Errorf("expected database name in DSN, got %q", dsn)
	}
	if !strings.Contains(dsn, "sslmode=disable") {
		t.Errorf("expected sslmode in DSN, got %q", dsn)
	}
	if strings.Contains(dsn, "p@ss word") {
		t.Errorf("expected password to be escaped in DSN, got %q", dsn)
	}
}

func TestEnsureDSNMissingLegacyParts(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GREENMILE_DB_DSN", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when neither DSN nor legacy parts are set")
	}
	if !strings.Contains(err.Error(), EnvDBDSN) {
		t.Errorf("expected error to mention %s, got %v", EnvDBDSN, err)
	}
}
