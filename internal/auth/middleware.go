package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/animus-labs/workflow-svc/internal/platform/auditlog"
	"github.com/animus-labs/workflow-svc/internal/platform/httpserver"
)

type AuditFunc func(ctx context.Context, event auditlog.DenyEvent) error

type credentialKey struct{}

func ContextWithCredential(ctx context.Context, refreshToken string) context.Context {
	return context.WithValue(ctx, credentialKey{}, refreshToken)
}

// CredentialFromContext returns the session's refresh token placed there by
// Middleware.
func CredentialFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(credentialKey{}).(string)
	return v, ok && v != ""
}

// Middleware answers 403 without a body when the request carries no valid
// session.
type Middleware struct {
	Logger *slog.Logger
	Store  SessionStore
	Audit  AuditFunc
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := m.Store.Credential(r)
		if err != nil {
			m.logDeny(r, err)
			m.auditDeny(r, err)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithCredential(r.Context(), token)))
	})
}

func (m Middleware) auditDeny(r *http.Request, err error) {
	if m.Audit == nil {
		return
	}
	auditErr := m.Audit(r.Context(), auditlog.DenyEvent{
		Time:       time.Now().UTC(),
		Status:     http.StatusForbidden,
		Reason:     "unauthenticated",
		Error:      err.Error(),
		RequestID:  httpserver.RequestID(r),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if auditErr == nil || m.Logger == nil {
		return
	}
	m.Logger.Warn("audit deny failed", "request_id", httpserver.RequestID(r), "error", auditErr.Error())
}

func (m Middleware) logDeny(r *http.Request, err error) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn("auth deny",
		"reason", "unauthenticated",
		"status", http.StatusForbidden,
		"request_id", httpserver.RequestID(r),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	)
}
