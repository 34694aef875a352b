package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/animus-labs/workflow-svc/internal/platform/httpserver"
)

// CodeExchanger is the part of Broker the login handler needs.
type CodeExchanger interface {
	ClientID() string
	AuthCodeURL(redirectURI, state string) string
	Exchange(ctx context.Context, redirectURI, code string) (TokenSet, error)
}

// Handler serves GET /auth/, the authorization-code login dance.
type Handler struct {
	Logger *slog.Logger
	Config Config
	Broker CodeExchanger
	Store  SessionStore
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Admit(r); err != nil {
		h.warn(r, "login refused", err)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	query := r.URL.Query()
	returnURL := query.Get("url")
	if _, err := h.Store.Credential(r); err == nil {
		h.done(w, r, returnURL)
		return
	}

	redirectURI := h.Config.RedirectURI(returnURL)
	code := query.Get("code")
	if code == "" {
		state, err := randomBase64URL(32)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		setCookie(w, stateCookieName, state, 10*time.Minute, h.Config.CookieSecure)
		http.Redirect(w, r, h.Broker.AuthCodeURL(redirectURI, state), http.StatusFound)
		return
	}

	state, expected := query.Get("state"), cookieValue(r, stateCookieName)
	if (state != "" || expected != "") && state != expected {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_state")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	tokens, err := h.Broker.Exchange(ctx, redirectURI, code)
	if err != nil {
		h.warn(r, "code exchange failed", err)
		httpserver.WriteError(w, r, http.StatusBadGateway, "auth_provider_error")
		return
	}

	claims, err := CheckOfflineToken(tokens.RefreshToken, h.Broker.ClientID())
	if err != nil {
		reason := "invalid_refresh_token"
		switch {
		case errors.Is(err, ErrClientMismatch):
			reason = "client_mismatch"
		case errors.Is(err, ErrWrongTokenType):
			reason = "wrong_token_type"
		}
		if h.Logger != nil {
			h.Logger.Error("login aborted", "reason", reason, "request_id", httpserver.RequestID(r), "error", err.Error())
		}
		httpserver.WriteError(w, r, http.StatusInternalServerError, reason)
		return
	}

	if err := h.Store.Save(w, r, tokens.RefreshToken); err != nil {
		if h.Logger != nil {
			h.Logger.Error("session save failed", "request_id", httpserver.RequestID(r), "error", err.Error())
		}
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	clearCookie(w, stateCookieName, h.Config.CookieSecure)
	if h.Logger != nil {
		h.Logger.Info("login ok", "subject", claims.Subject, "request_id", httpserver.RequestID(r))
	}
	h.done(w, r, returnURL)
}

func (h Handler) done(w http.ResponseWriter, r *http.Request, returnURL string) {
	if returnURL != "" {
		http.Redirect(w, r, returnURL, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h Handler) warn(r *http.Request, msg string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn(msg, "request_id", httpserver.RequestID(r), "error", err.Error())
}
