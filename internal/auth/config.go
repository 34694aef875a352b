package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/workflow-svc/internal/platform/env"
)

type Mode string

const (
	// ModeCookie keeps each user's encrypted offline token in a signed cookie.
	ModeCookie Mode = "cookie"
	// ModeSession accepts a single pre-shared session id and holds one
	// deployment-wide offline token.
	ModeSession Mode = "session"
)

const (
	UserCookieName    = "user"
	SessionCookieName = "sessionid"
	stateCookieName   = "workflow_oauth_state"
)

type Config struct {
	Mode Mode

	Host             string
	Realm            string
	ClientID         string
	ClientSecret     string
	RedirectTemplate string
	Scopes           []string

	SessionID string

	CookieSecure bool
	CookieMaxAge time.Duration

	ValidateSessions bool
	HTTPTimeout      time.Duration
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("AUTH_MODE", string(ModeCookie))))
	var mode Mode
	switch modeRaw {
	case string(ModeCookie):
		mode = ModeCookie
	case string(ModeSession):
		mode = ModeSession
	default:
		return Config{}, fmt.Errorf("AUTH_MODE must be one of: cookie, session (got %q)", modeRaw)
	}

	cookieSecure, err := env.Bool("AUTH_COOKIE_SECURE", true)
	if err != nil {
		return Config{}, err
	}
	cookieMaxAge, err := env.Duration("AUTH_COOKIE_MAX_AGE", 30*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	validate, err := env.Bool("AUTH_VALIDATE_SESSIONS", false)
	if err != nil {
		return Config{}, err
	}
	httpTimeout, err := env.Duration("AUTH_HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:             mode,
		Host:             strings.TrimRight(env.String("KC_HOST", ""), "/"),
		Realm:            env.String("KC_REALM", ""),
		ClientID:         env.String("KC_CLIENT_ID", ""),
		ClientSecret:     env.String("KC_SCR", ""),
		RedirectTemplate: env.String("REDIRECT_URI", ""),
		Scopes:           strings.Fields(env.String("KC_SCOPES", "openid offline_access")),
		SessionID:        env.String("SESSION_ID", ""),
		CookieSecure:     cookieSecure,
		CookieMaxAge:     cookieMaxAge,
		ValidateSessions: validate,
		HTTPTimeout:      httpTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("KC_HOST is required")
	}
	if strings.TrimSpace(c.Realm) == "" {
		return errors.New("KC_REALM is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("KC_CLIENT_ID is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("KC_SCR is required")
	}
	if strings.TrimSpace(c.RedirectTemplate) == "" {
		return errors.New("REDIRECT_URI is required")
	}
	if c.CookieMaxAge <= 0 {
		return errors.New("AUTH_COOKIE_MAX_AGE must be positive")
	}
	switch c.Mode {
	case ModeCookie:
	case ModeSession:
		if strings.TrimSpace(c.SessionID) == "" {
			return errors.New("SESSION_ID is required when AUTH_MODE=session")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

func (c Config) IssuerURL() string {
	return c.Host + "/auth/realms/" + c.Realm
}

func (c Config) endpoint(name string) string {
	return c.IssuerURL() + "/protocol/openid-connect/" + name
}

func (c Config) AuthURL() string     { return c.endpoint("auth") }
func (c Config) TokenURL() string    { return c.endpoint("token") }
func (c Config) UserInfoURL() string { return c.endpoint("userinfo") }
func (c Config) JWKSURL() string     { return c.endpoint("certs") }

// RedirectURI fills the %s placeholder of the redirect template with the
// escaped return url.
func (c Config) RedirectURI(returnURL string) string {
	if !strings.Contains(c.RedirectTemplate, "%s") {
		return c.RedirectTemplate
	}
	return strings.Replace(c.RedirectTemplate, "%s", queryEscape(returnURL), 1)
}
