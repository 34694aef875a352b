package launcher

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull  = errors.New("launch queue is full")
	ErrPoolClosed = errors.New("launch pool is closed")
)

type Job func(ctx context.Context)

// Pool runs background jobs on a fixed number of workers. Jobs are never
// cancelled; Shutdown stops intake and waits for queued jobs to drain.
type Pool struct {
	jobs chan Job
	g    errgroup.Group

	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{jobs: make(chan Job, queue)}
	p.g.SetLimit(workers)
	for range workers {
		p.g.Go(func() error {
			for job := range p.jobs {
				job(context.Background())
			}
			return nil
		})
	}
	return p
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
