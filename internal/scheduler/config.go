package scheduler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/workflow-svc/internal/platform/env"
)

type Config struct {
	URL          string
	Command      string
	ReapInterval time.Duration
	HTTPTimeout  time.Duration
}

func ConfigFromEnv() (Config, error) {
	reap, err := env.Duration("SCHEDULER_REAP_INTERVAL", 200*time.Second)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("SCHEDULER_HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		URL:          strings.TrimRight(env.String("SCHEDULER_URL", "http://localhost:8082"), "/"),
		Command:      strings.TrimSpace(env.String("SCHEDULER_COMMAND", "")),
		ReapInterval: reap,
		HTTPTimeout:  timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Embedded reports whether the service owns the scheduler process.
func (c Config) Embedded() bool {
	return c.Command != ""
}

func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SCHEDULER_URL must be an absolute url (got %q)", c.URL)
	}
	if c.ReapInterval <= 0 {
		return errors.New("SCHEDULER_REAP_INTERVAL must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("SCHEDULER_HTTP_TIMEOUT must be positive")
	}
	return nil
}
