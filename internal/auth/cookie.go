package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var errBadSignature = errors.New("invalid cookie signature")

// Signer produces tamper-evident cookie values of the form
// base64(value)|unix-seconds|base64(hmac).
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner() (*Signer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate cookie secret: %w", err)
	}
	return NewSignerWithSecret(secret), nil
}

func NewSignerWithSecret(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

func (s *Signer) Sign(name, value string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(value))
	ts := strconv.FormatInt(s.now().Unix(), 10)
	return encoded + "|" + ts + "|" + s.mac(name, encoded, ts)
}

func (s *Signer) Verify(name, signed string, maxAge time.Duration) (string, error) {
	parts := strings.Split(signed, "|")
	if len(parts) != 3 {
		return "", errBadSignature
	}
	encoded, ts, sig := parts[0], parts[1], parts[2]
	if !hmac.Equal([]byte(sig), []byte(s.mac(name, encoded, ts))) {
		return "", errBadSignature
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", errBadSignature
	}
	if maxAge > 0 && s.now().Sub(time.Unix(issued, 0)) > maxAge {
		return "", errors.New("cookie expired")
	}
	value, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", errBadSignature
	}
	return string(value), nil
}

func (s *Signer) mac(name, encoded, ts string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(name + "|" + encoded + "|" + ts))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func setCookie(w http.ResponseWriter, name, value string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func randomBase64URL(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", errors.New("nBytes must be positive")
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func queryEscape(s string) string {
	return url.QueryEscape(s)
}
