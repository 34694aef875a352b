package launcher

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/workflow-svc/internal/platform/env"
)

type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

const (
	LoggingCfgName = "logging.cfg"
	LuigiCfgName   = "luigi.cfg"
)

type Config struct {
	Mode Mode

	PathPrefix string
	DataPrefix string
	User       string
	HeadNode   string
	SIFPrefix  string
	SIF        string

	SSHKeyFile     string
	KnownHostsFile string
	AgentSocket    string
	SSHTimeout     time.Duration

	LocalRoot    string
	SchedulerURL string

	LoggingCfgPath string
	LuigiCfgPath   string

	Workers int
	Queue   int
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("LAUNCH_MODE", string(ModeRemote))))
	var mode Mode
	switch modeRaw {
	case string(ModeRemote):
		mode = ModeRemote
	case string(ModeLocal):
		mode = ModeLocal
	default:
		return Config{}, fmt.Errorf("LAUNCH_MODE must be one of: remote, local (got %q)", modeRaw)
	}

	workers, err := env.Int("LAUNCH_WORKERS", 4)
	if err != nil {
		return Config{}, err
	}
	queue, err := env.Int("LAUNCH_QUEUE", 32)
	if err != nil {
		return Config{}, err
	}
	sshTimeout, err := env.Duration("HPC_SSH_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:           mode,
		PathPrefix:     env.String("HPC_PATH_PREFIX", ""),
		DataPrefix:     env.String("HPC_DATA_PREFIX", ""),
		User:           env.String("USER", ""),
		HeadNode:       env.String("HPC_HEAD_NODE", ""),
		SIFPrefix:      env.String("HPC_SIF_PREFIX", ""),
		SIF:            env.String("BBP_WORKFLOW_SIF", ""),
		SSHKeyFile:     env.String("HPC_SSH_KEY_FILE", ""),
		KnownHostsFile: env.String("HPC_SSH_KNOWN_HOSTS", ""),
		AgentSocket:    env.String("SSH_AUTH_SOCK", ""),
		SSHTimeout:     sshTimeout,
		LocalRoot:      env.String("LOCAL_WORKSPACE_ROOT", filepath.Join(os.TempDir(), "workflow-svc", "workflows")),
		SchedulerURL:   env.String("SCHEDULER_URL", "http://localhost:8082"),
		LoggingCfgPath: env.String("LOGGING_CFG_PATH", "/home/bbp-workflow/logging.cfg"),
		LuigiCfgPath:   env.String("LUIGI_CFG_PATH", "/home/bbp-workflow/luigi.cfg"),
		Workers:        workers,
		Queue:          queue,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("LAUNCH_WORKERS must be positive")
	}
	if c.Queue < 0 {
		return errors.New("LAUNCH_QUEUE must not be negative")
	}
	if strings.TrimSpace(c.LoggingCfgPath) == "" || strings.TrimSpace(c.LuigiCfgPath) == "" {
		return errors.New("LOGGING_CFG_PATH and LUIGI_CFG_PATH are required")
	}
	switch c.Mode {
	case ModeRemote:
		for _, req := range []struct{ name, value string }{
			{"HPC_PATH_PREFIX", c.PathPrefix},
			{"HPC_DATA_PREFIX", c.DataPrefix},
			{"USER", c.User},
			{"HPC_HEAD_NODE", c.HeadNode},
			{"HPC_SIF_PREFIX", c.SIFPrefix},
			{"BBP_WORKFLOW_SIF", c.SIF},
		} {
			if strings.TrimSpace(req.value) == "" {
				return fmt.Errorf("%s is required when LAUNCH_MODE=remote", req.name)
			}
		}
		if c.SSHTimeout <= 0 {
			return errors.New("HPC_SSH_TIMEOUT must be positive")
		}
	case ModeLocal:
		if strings.TrimSpace(c.LocalRoot) == "" {
			return errors.New("LOCAL_WORKSPACE_ROOT is required when LAUNCH_MODE=local")
		}
		if strings.TrimSpace(c.SchedulerURL) == "" {
			return errors.New("SCHEDULER_URL is required when LAUNCH_MODE=local")
		}
	default:
		return fmt.Errorf("unsupported launch mode: %q", c.Mode)
	}
	return nil
}

// WorkflowsPath is the remote directory holding one workspace per launch.
func (c Config) WorkflowsPath() string {
	return path.Join(c.PathPrefix, c.User, "workflows")
}
