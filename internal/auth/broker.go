package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// TokenSet is the part of a token response the service keeps.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Broker talks to the identity provider's token and userinfo endpoints.
type Broker struct {
	cfg          Config
	client       *http.Client
	provider     *oidc.Provider
	oauth2Config oauth2.Config
}

func NewBroker(ctx context.Context, cfg Config) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	// Endpoints are derived from the realm, so no discovery round trip at startup.
	provider := (&oidc.ProviderConfig{
		IssuerURL:   cfg.IssuerURL(),
		AuthURL:     cfg.AuthURL(),
		TokenURL:    cfg.TokenURL(),
		UserInfoURL: cfg.UserInfoURL(),
		JWKSURL:     cfg.JWKSURL(),
	}).NewProvider(oidc.ClientContext(ctx, client))

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &Broker{
		cfg:      cfg,
		client:   client,
		provider: provider,
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
	}, nil
}

func (b *Broker) ClientID() string {
	return b.cfg.ClientID
}

// AuthCodeURL is the provider authorization endpoint for the given redirect.
func (b *Broker) AuthCodeURL(redirectURI, state string) string {
	return b.oauth2Config.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	)
}

// Exchange runs the authorization_code grant.
func (b *Broker) Exchange(ctx context.Context, redirectURI, code string) (TokenSet, error) {
	token, err := b.oauth2Config.Exchange(
		b.clientContext(ctx),
		code,
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	)
	if err != nil {
		return TokenSet{}, fmt.Errorf("%w: exchange code: %w", ErrAuthProvider, err)
	}
	if token.RefreshToken == "" {
		return TokenSet{}, fmt.Errorf("%w: token response without refresh_token", ErrAuthProvider)
	}
	return TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// Refresh runs the refresh_token grant and returns a fresh access token.
func (b *Broker) Refresh(ctx context.Context, refreshToken string) (string, error) {
	src := b.oauth2Config.TokenSource(b.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: refresh: %w", ErrAuthProvider, err)
	}
	return token.AccessToken, nil
}

// Validate asks the userinfo endpoint whether the access token is still good.
func (b *Broker) Validate(ctx context.Context, accessToken string) error {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	if _, err := b.provider.UserInfo(b.clientContext(ctx), src); err != nil {
		return fmt.Errorf("%w: userinfo: %w", ErrInvalidToken, err)
	}
	return nil
}

func (b *Broker) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.client)
}
