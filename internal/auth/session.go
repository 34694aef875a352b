package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/animus-labs/workflow-svc/internal/vault"
)

// SessionStore maps a request to the offline refresh token of its session.
type SessionStore interface {
	// Admit rejects requests that may not start a login at all.
	Admit(r *http.Request) error
	// Credential returns the decrypted refresh token or an error wrapping
	// ErrUnauthenticated.
	Credential(r *http.Request) (string, error)
	Save(w http.ResponseWriter, r *http.Request, refreshToken string) error
}

// CookieStore keeps every user's encrypted token in the signed "user" cookie.
type CookieStore struct {
	Vault  *vault.Vault
	Signer *Signer
	MaxAge time.Duration
	Secure bool
}

func (s *CookieStore) Admit(*http.Request) error { return nil }

func (s *CookieStore) Credential(r *http.Request) (string, error) {
	raw := cookieValue(r, UserCookieName)
	if raw == "" {
		return "", ErrUnauthenticated
	}
	sealed, err := s.Signer.Verify(UserCookieName, raw, s.MaxAge)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	token, err := s.Vault.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return token, nil
}

func (s *CookieStore) Save(w http.ResponseWriter, _ *http.Request, refreshToken string) error {
	sealed, err := s.Vault.Encrypt(refreshToken)
	if err != nil {
		return err
	}
	setCookie(w, UserCookieName, s.Signer.Sign(UserCookieName, sealed), s.MaxAge, s.Secure)
	return nil
}

// SharedStore admits only callers presenting the pre-shared session id and
// holds one token for the whole deployment.
type SharedStore struct {
	Vault     *vault.Vault
	SessionID string

	mu     sync.RWMutex
	sealed string
}

func (s *SharedStore) Admit(r *http.Request) error {
	got := cookieValue(r, SessionCookieName)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.SessionID)) != 1 {
		return fmt.Errorf("%w: session id mismatch", ErrUnauthenticated)
	}
	return nil
}

func (s *SharedStore) Credential(r *http.Request) (string, error) {
	if err := s.Admit(r); err != nil {
		return "", err
	}
	s.mu.RLock()
	sealed := s.sealed
	s.mu.RUnlock()
	if sealed == "" {
		return "", ErrUnauthenticated
	}
	token, err := s.Vault.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return token, nil
}

func (s *SharedStore) Save(_ http.ResponseWriter, r *http.Request, refreshToken string) error {
	if err := s.Admit(r); err != nil {
		return err
	}
	sealed, err := s.Vault.Encrypt(refreshToken)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sealed = sealed
	s.mu.Unlock()
	return nil
}

type tokenChecker interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Validate(ctx context.Context, accessToken string) error
}

// ValidatingStore additionally proves the stored token still works against
// the provider before treating the session as valid.
type ValidatingStore struct {
	SessionStore
	Checker tokenChecker
}

func (s ValidatingStore) Credential(r *http.Request) (string, error) {
	token, err := s.SessionStore.Credential(r)
	if err != nil {
		return "", err
	}
	access, err := s.Checker.Refresh(r.Context(), token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if err := s.Checker.Validate(r.Context(), access); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return token, nil
}

// NewSessionStore builds the store selected by cfg.Mode.
func NewSessionStore(cfg Config, v *vault.Vault, checker tokenChecker) (SessionStore, error) {
	var store SessionStore
	switch cfg.Mode {
	case ModeCookie:
		signer, err := NewSigner()
		if err != nil {
			return nil, err
		}
		store = &CookieStore{Vault: v, Signer: signer, MaxAge: cfg.CookieMaxAge, Secure: cfg.CookieSecure}
	case ModeSession:
		store = &SharedStore{Vault: v, SessionID: cfg.SessionID}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
	if cfg.ValidateSessions {
		if checker == nil {
			return nil, errors.New("session validation requires an identity broker")
		}
		store = ValidatingStore{SessionStore: store, Checker: checker}
	}
	return store, nil
}
