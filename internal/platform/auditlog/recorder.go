package auditlog

import (
	"context"
	"net"
	"strings"
	"time"
)

// DenyEvent describes a request refused for lack of a usable credential.
type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	UserAgent  string
}

// LaunchEvent is one status transition of a launch: Running when it is
// queued, then Done or Failed.
type LaunchEvent struct {
	Time       time.Time
	LaunchID   string
	Task       string
	Status     string
	WorkflowID string
	RequestID  string
	Error      string
}

// Recorder writes service events on behalf of one service.
type Recorder struct {
	DB      QueryRower
	Service string
}

func (r Recorder) Deny(ctx context.Context, event DenyEvent) error {
	_, err := Insert(ctx, r.DB, Event{
		OccurredAt:   event.Time,
		Actor:        "anonymous",
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           remoteIP(event.RemoteAddr),
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": r.Service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
		},
	})
	return err
}

func (r Recorder) Launch(ctx context.Context, event LaunchEvent) error {
	payload := map[string]any{
		"service": r.Service,
		"task":    event.Task,
		"status":  event.Status,
	}
	if strings.TrimSpace(event.WorkflowID) != "" {
		payload["workflow_id"] = event.WorkflowID
	}
	if strings.TrimSpace(event.Error) != "" {
		payload["error"] = event.Error
	}
	_, err := Insert(ctx, r.DB, Event{
		OccurredAt:   event.Time,
		Actor:        r.Service,
		Action:       "launch." + strings.ToLower(strings.TrimSpace(event.Status)),
		ResourceType: "launch",
		ResourceID:   event.LaunchID,
		RequestID:    event.RequestID,
		Payload:      payload,
	})
	return err
}

func remoteIP(remoteAddr string) net.IP {
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}
