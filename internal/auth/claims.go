package auth

import (
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const offlineTokenType = "Offline"

var refreshTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// RefreshClaims are the refresh-token claims the login flow gates on.
type RefreshClaims struct {
	AuthorizedParty string `json:"azp"`
	Type            string `json:"typ"`
	Subject         string `json:"sub"`
}

// ParseRefreshClaims decodes the token payload without checking its
// signature. The provider is the only party that can use the token anyway.
func ParseRefreshClaims(raw string) (RefreshClaims, error) {
	tok, err := jwt.ParseSigned(raw, refreshTokenAlgorithms)
	if err != nil {
		return RefreshClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	var claims RefreshClaims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return RefreshClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// CheckOfflineToken requires azp to match the client and typ to be Offline.
func CheckOfflineToken(raw, clientID string) (RefreshClaims, error) {
	claims, err := ParseRefreshClaims(raw)
	if err != nil {
		return RefreshClaims{}, err
	}
	if claims.AuthorizedParty != clientID {
		return claims, fmt.Errorf("%w: azp=%q", ErrClientMismatch, claims.AuthorizedParty)
	}
	if claims.Type != offlineTokenType {
		return claims, fmt.Errorf("%w: typ=%q", ErrWrongTokenType, claims.Type)
	}
	return claims, nil
}
