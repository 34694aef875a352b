package scheduler

import (
	"context"
	"log/slog"
	"time"
)

type WorkerLister interface {
	WorkerList(ctx context.Context) ([]Worker, error)
}

// Reaper polls the worker list on a re-arming timer. When the list comes back
// empty, or cannot be fetched, it calls OnIdle once and returns.
type Reaper struct {
	Logger   *slog.Logger
	Lister   WorkerLister
	Interval time.Duration
	Timeout  time.Duration
	OnIdle   func()
}

// Run blocks until the scheduler is idle or ctx is done. Checks never overlap:
// the timer is only re-armed after the previous check has returned.
func (r Reaper) Run(ctx context.Context) {
	timer := time.NewTimer(r.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if r.idle(ctx) {
			if r.OnIdle != nil {
				r.OnIdle()
			}
			return
		}
		timer.Reset(r.Interval)
	}
}

func (r Reaper) idle(ctx context.Context) bool {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workers, err := r.Lister.WorkerList(checkCtx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.Logger.Warn("worker list failed, stopping scheduler", "error", err)
		return true
	}
	if len(workers) == 0 {
		r.Logger.Info("no active workers, stopping scheduler")
		return true
	}
	r.Logger.Debug("scheduler busy", "workers", len(workers))
	return false
}
