package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/animus-labs/workflow-svc/internal/submission"
)

// LocalTarget runs tasks on this host against the embedded scheduler.
type LocalTarget struct {
	Root         string
	SchedulerURL string
	// Program defaults to "luigi".
	Program string
}

func NewLocalTarget(cfg Config) *LocalTarget {
	return &LocalTarget{Root: cfg.LocalRoot, SchedulerURL: cfg.SchedulerURL}
}

func (t *LocalTarget) Dial(context.Context, *Agent) (Conn, error) {
	return localConn{}, nil
}

func (t *LocalTarget) Workspace(token string) string {
	return filepath.Join(t.Root, token)
}

func (t *LocalTarget) Command(workspace, module, task string, env map[string]string) Command {
	program := t.Program
	if program == "" {
		program = "luigi"
	}
	return Command{
		Dir: workspace,
		Args: []string{
			program,
			"--scheduler-url", t.SchedulerURL,
			"--logging-conf-file", filepath.Join(workspace, LoggingCfgName),
			"--module", module,
			task,
		},
		Env: env,
	}
}

type localConn struct{}

func (localConn) MkWorkspace(_ context.Context, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dir), err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrWorkspaceExists, dir)
		}
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

func (localConn) WriteFile(_ context.Context, name string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(name), err)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}

func (localConn) Extract(_ context.Context, archive []byte, dir string) error {
	return submission.Unpack(archive, dir)
}

func (localConn) Run(_ context.Context, cmd Command, ag *Agent, stdout, stderr io.Writer) error {
	if len(cmd.Args) == 0 {
		return errors.New("empty command")
	}
	c := exec.Command(cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Stdout = stdout
	c.Stderr = stderr
	c.Env = os.Environ()
	for _, k := range sortedKeys(cmd.Env) {
		c.Env = append(c.Env, k+"="+cmd.Env[k])
	}
	if ag != nil {
		c.Env = append(c.Env, "SSH_AUTH_SOCK="+ag.SocketPath())
	}

	err := c.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: exit status %d", ErrTaskFailed, exitErr.ExitCode())
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}
	return nil
}

func (localConn) Close() error { return nil }
