package auth

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAuthProvider    = errors.New("identity provider error")
	ErrClientMismatch  = errors.New("token issued to another client")
	ErrWrongTokenType  = errors.New("refresh token is not an offline token")
	ErrInvalidToken    = errors.New("invalid token")
)
