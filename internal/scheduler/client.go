// Package scheduler talks to the task scheduler daemon: it queries its API,
// proxies its dashboard, and, when the service spawned the daemon itself,
// stops it once no workers remain.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrUnavailable = errors.New("scheduler unavailable")

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scheduler api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Worker is one entry of the scheduler's worker list. Only the fields the
// service logs are decoded.
type Worker struct {
	Name    string  `json:"name"`
	State   string  `json:"state"`
	Started float64 `json:"started"`
}

type Client struct {
	base string
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		base: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// WorkerList returns the workers currently connected to the scheduler.
func (c *Client) WorkerList(ctx context.Context) ([]Worker, error) {
	var out struct {
		Response []Worker `json:"response"`
	}
	if err := c.get(ctx, "/api/worker_list", &out); err != nil {
		return nil, err
	}
	return out.Response, nil
}

// Ping is the readiness probe against the scheduler API.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.WorkerList(ctx)
	return err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
