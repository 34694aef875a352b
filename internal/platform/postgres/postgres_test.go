package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
)

func unsetDatabaseEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "DATABASE_APPLICATION_NAME", "DATABASE_PING_TIMEOUT", "DATABASE_MAX_OPEN_CONNS", "DATABASE_MAX_IDLE_CONNS", "DATABASE_CONN_MAX_LIFETIME"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestConfigFromEnv_DisabledWithoutURL(t *testing.T) {
	unsetDatabaseEnv(t)
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled() {
		t.Fatalf("Enabled()=true, want false")
	}
	if cfg.ApplicationName != "workflow-svc" || cfg.MaxOpenConns != 4 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatalf("Open() expected error without DATABASE_URL")
	}
}

func TestConfigFromEnv_RejectsMalformedURL(t *testing.T) {
	unsetDatabaseEnv(t)
	t.Setenv("DATABASE_URL", "postgres://user@localhost:notaport/db")
	if _, err := ConfigFromEnv(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("ConfigFromEnv() err=%v, want DATABASE_URL error", err)
	}
}

func TestConfigValidate_IdleAboveOpen(t *testing.T) {
	cfg := Config{
		URL:          "postgres://localhost/workflows",
		PingTimeout:  1,
		MaxOpenConns: 1,
		MaxIdleConns: 2,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error when idle > open")
	}
}

func TestMigrate_RequiresDB(t *testing.T) {
	if err := Migrate(context.Background(), nil, "SELECT 1"); err == nil {
		t.Fatalf("Migrate() expected error for nil db")
	}
}
