package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Process is the scheduler daemon spawned by the service.
type Process struct {
	logger *slog.Logger
	cmd    *exec.Cmd
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// StartProcess runs command, split on whitespace, with its output sent to w.
func StartProcess(logger *slog.Logger, command string, w io.Writer) (*Process, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.New("empty scheduler command")
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	p := &Process{logger: logger, cmd: cmd, done: make(chan struct{})}
	logger.Info("scheduler started", "pid", cmd.Process.Pid, "command", args[0])
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop sends SIGTERM and escalates to SIGKILL when the process is still alive
// after grace or ctx ends.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("scheduler signal failed", "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		p.logger.Info("scheduler stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = p.cmd.Process.Kill()
	<-p.done
	p.logger.Warn("scheduler killed")
	return nil
}
