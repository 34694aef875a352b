package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/workflow-svc/internal/platform/env"
)

type Mode string

const (
	ModeNexus    Mode = "nexus"
	ModePostgres Mode = "postgres"
	ModeNone     Mode = "none"
)

const (
	DistributionCatalog = "catalog"
	DistributionMinio   = "minio"
	DistributionNone    = "none"
)

type Config struct {
	Mode         Mode
	Distribution string
	WebPrefix    string
	DefaultBase  string
	DefaultOrg   string
	HTTPTimeout  time.Duration
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("CATALOG_MODE", string(ModeNexus))))
	var mode Mode
	switch modeRaw {
	case string(ModeNexus):
		mode = ModeNexus
	case string(ModePostgres):
		mode = ModePostgres
	case string(ModeNone):
		mode = ModeNone
	default:
		return Config{}, fmt.Errorf("CATALOG_MODE must be one of: nexus, postgres, none (got %q)", modeRaw)
	}

	defaultDist := DistributionNone
	if mode == ModeNexus {
		defaultDist = DistributionCatalog
	}
	timeout, err := env.Duration("CATALOG_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:         mode,
		Distribution: strings.ToLower(strings.TrimSpace(env.String("CATALOG_DISTRIBUTION", defaultDist))),
		WebPrefix:    env.String("NEXUS_WEB_PREFIX", "https://bbp.epfl.ch/nexus/web"),
		DefaultBase:  env.String("NEXUS_BASE", ""),
		DefaultOrg:   env.String("NEXUS_ORG", ""),
		HTTPTimeout:  timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return c.Mode == ModeNexus || c.Mode == ModePostgres
}

func (c Config) Validate() error {
	switch c.Distribution {
	case DistributionCatalog:
		if c.Mode != ModeNexus {
			return errors.New("CATALOG_DISTRIBUTION=catalog requires CATALOG_MODE=nexus")
		}
	case DistributionMinio, DistributionNone:
	default:
		return fmt.Errorf("CATALOG_DISTRIBUTION must be one of: catalog, minio, none (got %q)", c.Distribution)
	}
	if c.Mode == ModeNexus && strings.TrimSpace(c.WebPrefix) == "" {
		return errors.New("NEXUS_WEB_PREFIX is required when CATALOG_MODE=nexus")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("CATALOG_HTTP_TIMEOUT must be positive")
	}
	return nil
}
