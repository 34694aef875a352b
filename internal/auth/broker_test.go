package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/realms/demo/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_id") != "workflow" || r.PostForm.Get("client_secret") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" || r.PostForm.Get("redirect_uri") != "https://svc.example.test/auth/" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			writeTokenResponse(w, "access-1", "refresh-1")
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "refresh-1" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			writeTokenResponse(w, "access-2", "refresh-1")
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("GET /auth/realms/demo/protocol/openid-connect/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"user-1","email":"user@example.test"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeTokenResponse(w http.ResponseWriter, access, refresh string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    300,
	})
}

func newTestBroker(t *testing.T, host string) *Broker {
	t.Helper()
	cfg := testConfig()
	cfg.Host = host
	b, err := NewBroker(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewBroker() err=%v", err)
	}
	return b
}

func TestBroker_Exchange(t *testing.T) {
	srv := newProviderServer(t)
	b := newTestBroker(t, srv.URL)

	tokens, err := b.Exchange(context.Background(), "https://svc.example.test/auth/", "good-code")
	if err != nil {
		t.Fatalf("Exchange() err=%v", err)
	}
	if tokens.AccessToken != "access-1" || tokens.RefreshToken != "refresh-1" {
		t.Fatalf("Exchange()=%+v", tokens)
	}
}

func TestBroker_ExchangeRejected(t *testing.T) {
	srv := newProviderServer(t)
	b := newTestBroker(t, srv.URL)

	_, err := b.Exchange(context.Background(), "https://svc.example.test/auth/", "bad-code")
	if !errors.Is(err, ErrAuthProvider) {
		t.Fatalf("Exchange() err=%v, want ErrAuthProvider", err)
	}
}

func TestBroker_RefreshAndValidate(t *testing.T) {
	srv := newProviderServer(t)
	b := newTestBroker(t, srv.URL)

	access, err := b.Refresh(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("Refresh() err=%v", err)
	}
	if access != "access-2" {
		t.Fatalf("Refresh()=%q, want access-2", access)
	}
	if err := b.Validate(context.Background(), access); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if err := b.Validate(context.Background(), "stale"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Validate() err=%v, want ErrInvalidToken", err)
	}
}

func TestBroker_RefreshRejected(t *testing.T) {
	srv := newProviderServer(t)
	b := newTestBroker(t, srv.URL)

	if _, err := b.Refresh(context.Background(), "revoked"); !errors.Is(err, ErrAuthProvider) {
		t.Fatalf("Refresh() err=%v, want ErrAuthProvider", err)
	}
}

func TestBroker_AuthCodeURL(t *testing.T) {
	b := newTestBroker(t, "https://id.example.test")

	raw := b.AuthCodeURL("https://svc.example.test/auth/?url=x", "st")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if u.Path != "/auth/realms/demo/protocol/openid-connect/auth" {
		t.Fatalf("path=%q", u.Path)
	}
	q := u.Query()
	if q.Get("client_id") != "workflow" {
		t.Fatalf("client_id=%q, want workflow", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://svc.example.test/auth/?url=x" {
		t.Fatalf("redirect_uri=%q", q.Get("redirect_uri"))
	}
	if q.Get("response_type") != "code" || q.Get("state") != "st" {
		t.Fatalf("query=%v", q)
	}
}
