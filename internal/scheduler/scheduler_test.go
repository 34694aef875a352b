package scheduler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/animus-labs/workflow-svc/internal/platform/logging"
)

func TestWorkerList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/worker_list" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"response":[{"name":"Worker(host=a)","state":"active","started":1700000000.5}]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL + "/", HTTPTimeout: time.Second})
	workers, err := c.WorkerList(context.Background())
	if err != nil {
		t.Fatalf("WorkerList() err=%v", err)
	}
	if len(workers) != 1 || workers[0].Name != "Worker(host=a)" || workers[0].State != "active" {
		t.Fatalf("WorkerList()=%+v", workers)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping()=%v, want nil", err)
	}
}

func TestWorkerListErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	c := NewClient(Config{URL: srv.URL, HTTPTimeout: time.Second})
	_, err := c.WorkerList(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("WorkerList() err=%v, want APIError 500", err)
	}
	srv.Close()

	_, err = c.WorkerList(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("WorkerList() err=%v, want ErrUnavailable", err)
	}
}

func TestConfigValidate(t *testing.T) {
	good := Config{URL: "http://localhost:8082", ReapInterval: time.Second, HTTPTimeout: time.Second}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate()=%v, want nil", err)
	}
	if good.Embedded() {
		t.Fatalf("Embedded()=true without command")
	}
	bad := good
	bad.URL = "localhost"
	if err := bad.Validate(); err == nil {
		t.Fatalf("Validate()=nil for relative url")
	}
	bad = good
	bad.ReapInterval = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("Validate()=nil for zero interval")
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"SCHEDULER_URL", "SCHEDULER_REAP_INTERVAL", "SCHEDULER_HTTP_TIMEOUT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("SCHEDULER_COMMAND", "luigid --port 8082")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != "http://localhost:8082" || cfg.ReapInterval != 200*time.Second || !cfg.Embedded() {
		t.Fatalf("ConfigFromEnv()=%+v", cfg)
	}
}

type listerFunc func(ctx context.Context) ([]Worker, error)

func (f listerFunc) WorkerList(ctx context.Context) ([]Worker, error) { return f(ctx) }

func TestReaperStopsWhenIdle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls atomic.Int32
	lister := listerFunc(func(context.Context) ([]Worker, error) {
		if calls.Add(1) < 3 {
			return []Worker{{Name: "w"}}, nil
		}
		return nil, nil
	})
	var idle atomic.Int32
	r := Reaper{
		Logger:   logging.NewWithWriter(io.Discard, false),
		Lister:   lister,
		Interval: time.Millisecond,
		OnIdle:   func() { idle.Add(1) },
	}
	r.Run(context.Background())

	if calls.Load() != 3 {
		t.Fatalf("calls=%d, want 3", calls.Load())
	}
	if idle.Load() != 1 {
		t.Fatalf("OnIdle calls=%d, want 1", idle.Load())
	}
}

func TestReaperStopsOnListError(t *testing.T) {
	var idle atomic.Bool
	r := Reaper{
		Logger:   logging.NewWithWriter(io.Discard, false),
		Lister:   listerFunc(func(context.Context) ([]Worker, error) { return nil, ErrUnavailable }),
		Interval: time.Millisecond,
		OnIdle:   func() { idle.Store(true) },
	}
	r.Run(context.Background())
	if !idle.Load() {
		t.Fatalf("OnIdle not called after list error")
	}
}

func TestReaperNeverOverlaps(t *testing.T) {
	var mu sync.Mutex
	running, maxRunning, calls := 0, 0, 0
	lister := listerFunc(func(context.Context) ([]Worker, error) {
		mu.Lock()
		running++
		calls++
		if running > maxRunning {
			maxRunning = running
		}
		n := calls
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		if n >= 5 {
			return nil, nil
		}
		return []Worker{{Name: "w"}}, nil
	})
	r := Reaper{Logger: logging.NewWithWriter(io.Discard, false), Lister: lister, Interval: time.Microsecond}
	r.Run(context.Background())
	if maxRunning != 1 {
		t.Fatalf("max concurrent checks=%d, want 1", maxRunning)
	}
}

func TestReaperHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r := Reaper{
		Logger:   logging.NewWithWriter(io.Discard, false),
		Lister:   listerFunc(func(context.Context) ([]Worker, error) { return []Worker{{}}, nil }),
		Interval: time.Hour,
		OnIdle:   func() { t.Errorf("OnIdle called on cancel") },
	}
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestProcessStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, err := StartProcess(logging.NewWithWriter(io.Discard, false), "sleep 30", io.Discard)
	if err != nil {
		t.Fatalf("StartProcess() err=%v", err)
	}
	if err := p.Stop(context.Background(), time.Second); err != nil {
		t.Fatalf("Stop()=%v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatalf("Done() open after Stop")
	}
	if p.Err() == nil {
		t.Fatalf("Err()=nil, want signal exit")
	}
	if err := p.Stop(context.Background(), time.Second); err != nil {
		t.Fatalf("second Stop()=%v", err)
	}
}

func TestStartProcessEmptyCommand(t *testing.T) {
	if _, err := StartProcess(logging.NewWithWriter(io.Discard, false), "  ", io.Discard); err == nil {
		t.Fatalf("StartProcess() err=nil for empty command")
	}
}
