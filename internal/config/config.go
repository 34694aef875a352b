// Package config assembles the service configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/workflow-svc/internal/auth"
	"github.com/animus-labs/workflow-svc/internal/catalog"
	"github.com/animus-labs/workflow-svc/internal/launcher"
	"github.com/animus-labs/workflow-svc/internal/platform/env"
	"github.com/animus-labs/workflow-svc/internal/platform/objectstore"
	"github.com/animus-labs/workflow-svc/internal/platform/postgres"
	"github.com/animus-labs/workflow-svc/internal/scheduler"
)

const FileEnv = "WORKFLOW_SVC_CONFIG_FILE"

// ForwardPrefixes select the process variables passed into every task.
var ForwardPrefixes = []string{"KC_", "HPC_", "NEXUS_"}

type Service struct {
	Addr            string
	ShutdownTimeout time.Duration
	Debug           bool
	MaxUploadBytes  int64
	CORSOrigin      string
}

type Config struct {
	Service   Service
	Auth      auth.Config
	Launch    launcher.Config
	Scheduler scheduler.Config
	Catalog   catalog.Config
	Postgres  postgres.Config
	// Archive is only read when the catalog distributes to object storage.
	Archive objectstore.Config

	Forward map[string]string
	// FileApplied lists the variables taken from the config file.
	FileApplied []string
}

// Load applies the optional config file and reads every section from the
// environment.
func Load() (Config, error) {
	applied, err := env.LoadFile(env.String(FileEnv, ""))
	if err != nil {
		return Config{}, err
	}

	svc, err := serviceFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Service: svc, FileApplied: applied}

	if cfg.Auth, err = auth.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("auth: %w", err)
	}
	if cfg.Launch, err = launcher.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("launch: %w", err)
	}
	if cfg.Scheduler, err = scheduler.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("scheduler: %w", err)
	}
	if cfg.Catalog, err = catalog.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("catalog: %w", err)
	}
	if cfg.Postgres, err = postgres.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("database: %w", err)
	}
	if cfg.Archive, err = objectstore.ConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("archive store: %w", err)
	}
	cfg.Forward = env.Prefixed(ForwardPrefixes...)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func serviceFromEnv() (Service, error) {
	shutdownTimeout, err := env.Duration("WORKFLOW_SVC_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return Service{}, err
	}
	maxUpload, err := env.Int("WORKFLOW_SVC_MAX_UPLOAD_BYTES", 64<<20)
	if err != nil {
		return Service{}, err
	}
	return Service{
		Addr:            env.String("WORKFLOW_SVC_HTTP_ADDR", ":8100"),
		ShutdownTimeout: shutdownTimeout,
		Debug:           strings.TrimSpace(env.String("DEBUG", "")) != "",
		MaxUploadBytes:  int64(maxUpload),
		CORSOrigin:      strings.TrimSpace(env.String("WORKFLOW_SVC_CORS_ORIGIN", "")),
	}, nil
}

// Validate checks the constraints that span sections.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Service.Addr) == "" {
		return errors.New("WORKFLOW_SVC_HTTP_ADDR is required")
	}
	if c.Service.ShutdownTimeout <= 0 {
		return errors.New("WORKFLOW_SVC_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Service.MaxUploadBytes <= 0 {
		return errors.New("WORKFLOW_SVC_MAX_UPLOAD_BYTES must be positive")
	}
	if c.Catalog.Mode == catalog.ModePostgres && !c.Postgres.Enabled() {
		return errors.New("CATALOG_MODE=postgres requires DATABASE_URL")
	}
	if c.Catalog.Distribution == catalog.DistributionMinio {
		if err := c.Archive.Validate(); err != nil {
			return fmt.Errorf("CATALOG_DISTRIBUTION=minio: %w", err)
		}
	}
	if c.Scheduler.Embedded() && c.Launch.Mode != launcher.ModeLocal {
		return errors.New("SCHEDULER_COMMAND requires LAUNCH_MODE=local")
	}
	return nil
}
