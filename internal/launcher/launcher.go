// Package launcher moves a packed submission into a fresh workspace on the
// execution target and runs the scheduler task there in the background.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/animus-labs/workflow-svc/internal/catalog"
	"github.com/animus-labs/workflow-svc/internal/platform/logging"
	"github.com/animus-labs/workflow-svc/internal/submission"
)

var (
	ErrTaskFailed      = errors.New("task failed")
	ErrWorkspaceExists = errors.New("workspace already exists")
)

// Command is one process invocation on the target.
type Command struct {
	Dir  string
	Args []string
	Env  map[string]string
}

// Conn is an open session to an execution target.
type Conn interface {
	// MkWorkspace creates dir's parents as needed and fails with
	// ErrWorkspaceExists when dir itself already exists.
	MkWorkspace(ctx context.Context, dir string) error
	WriteFile(ctx context.Context, name string, body io.Reader) error
	// Run blocks until the command exits. A non-zero exit wraps ErrTaskFailed.
	Run(ctx context.Context, cmd Command, ag *Agent, stdout, stderr io.Writer) error
	Close() error
}

// Extractor is implemented by connections that can unpack an archive in place.
type Extractor interface {
	Extract(ctx context.Context, archive []byte, dir string) error
}

type Target interface {
	Dial(ctx context.Context, ag *Agent) (Conn, error)
	Workspace(token string) string
	Command(workspace, module, task string, env map[string]string) Command
}

// StatusFunc receives the terminal status of a background run.
type StatusFunc func(ctx context.Context, status catalog.Status, endedAt time.Time, runErr error)

type Request struct {
	Token      string
	Module     string
	Task       string
	CfgName    string
	Submission submission.Submission
	Env        map[string]string
	PrivateKey []byte
	OnFinish   StatusFunc
}

type Launcher struct {
	logger     *slog.Logger
	cfg        Config
	target     Target
	pool       *Pool
	startAgent func() (*Agent, error)
	readFile   func(string) ([]byte, error)
	now        func() time.Time
}

func New(logger *slog.Logger, cfg Config, target Target, pool *Pool) *Launcher {
	return &Launcher{
		logger:     logger,
		cfg:        cfg,
		target:     target,
		pool:       pool,
		startAgent: StartAgent,
		readFile:   os.ReadFile,
		now:        time.Now,
	}
}

// Launch synchronizes the submission into a new workspace and queues the
// task run. It returns once the run is queued.
func (l *Launcher) Launch(ctx context.Context, req Request) error {
	ws := l.target.Workspace(req.Token)
	ctx = logging.ContextAttrs(ctx, slog.String("launch_id", req.Token), slog.String("task", req.Module+"."+req.Task))

	var ag *Agent
	handedOff := false
	if len(req.PrivateKey) > 0 {
		var err error
		ag, err = l.startAgent()
		if err != nil {
			return fmt.Errorf("start agent: %w", err)
		}
		defer func() {
			if !handedOff {
				ag.Close()
			}
		}()
		if err := ag.Add(req.PrivateKey); err != nil {
			return err
		}
	}

	conn, err := l.target.Dial(ctx, ag)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if !handedOff {
			conn.Close()
		}
	}()

	if err := conn.MkWorkspace(ctx, ws); err != nil {
		return err
	}
	if err := l.sync(ctx, conn, ws, req.Submission); err != nil {
		return fmt.Errorf("sync workspace: %w", err)
	}

	env := make(map[string]string, len(req.Env)+2)
	for k, v := range req.Env {
		env[k] = v
	}
	env["PYTHONPATH"] = ws
	if req.CfgName != "" {
		env["LUIGI_CONFIG_PATH"] = path.Join(ws, req.CfgName)
	}
	cmd := l.target.Command(ws, req.Module, req.Task, env)
	l.logger.InfoContext(ctx, "launching", "workspace", ws)

	job := func(context.Context) {
		defer conn.Close()
		defer ag.Close()
		l.run(context.WithoutCancel(ctx), conn, cmd, ag, req.OnFinish)
	}
	if err := l.pool.Submit(job); err != nil {
		return err
	}
	handedOff = true
	return nil
}

func (l *Launcher) sync(ctx context.Context, conn Conn, ws string, sub submission.Submission) error {
	if ex, ok := conn.(Extractor); ok {
		if err := ex.Extract(ctx, sub.Archive, ws); err != nil {
			return err
		}
	} else {
		err := submission.Walk(sub.Archive, func(name string, body io.Reader) error {
			return conn.WriteFile(ctx, path.Join(ws, name), body)
		})
		if err != nil {
			return err
		}
	}

	for _, def := range []struct{ name, src string }{
		{LoggingCfgName, l.cfg.LoggingCfgPath},
		{LuigiCfgName, l.cfg.LuigiCfgPath},
	} {
		if sub.Has(def.name) {
			continue
		}
		data, err := l.readFile(def.src)
		if err != nil {
			return fmt.Errorf("read default %s: %w", def.name, err)
		}
		if err := conn.WriteFile(ctx, path.Join(ws, def.name), bytes.NewReader(data)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Launcher) run(ctx context.Context, conn Conn, cmd Command, ag *Agent, onFinish StatusFunc) {
	stdout := newLineLogger(ctx, l.logger, "stdout")
	stderr := newLineLogger(ctx, l.logger, "stderr")
	err := conn.Run(ctx, cmd, ag, stdout, stderr)
	stdout.Flush()
	stderr.Flush()

	status := catalog.StatusDone
	if err != nil {
		status = catalog.StatusFailed
		l.logger.ErrorContext(ctx, "task run failed", "error", err.Error())
	} else {
		l.logger.InfoContext(ctx, "task run done")
	}
	if onFinish != nil {
		onFinish(ctx, status, l.now().UTC(), err)
	}
}
