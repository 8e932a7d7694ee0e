// Package csrf enforces the stateless double-submit cookie check for
// browser clients.
//
// The token is a server-issued random value that must appear identically in
// a non-HttpOnly cookie and a request header. Nothing is stored server-side;
// validity is pure request inspection. Bearer-token clients are exempt
// because they never authenticate via cookies.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

const (
	// CookieName is the CSRF cookie. It must stay readable by client
	// script, so it is never HttpOnly.
	CookieName = "sd_csrf"
	// HeaderName carries the echoed token on state-changing requests.
	HeaderName = "X-CSRF-Token"

	tokenSize = 32
)

// ErrMismatch is returned when a cookie-mode state-changing request lacks a
// matching cookie/header token pair.
var ErrMismatch = errors.New("csrf token mismatch")

// NewToken returns a fresh random token for the double-submit pair.
func NewToken() (string, error) {
	raw := make([]byte, tokenSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Cookie builds the CSRF cookie for a token. Secure is set in production.
func Cookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	}
}

// Check inspects one request. Safe methods and bearer-token requests pass
// unconditionally; cookie-mode state-changing requests must present equal
// cookie and header values. The comparison is constant-time.
func Check(r *http.Request) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	// Bearer clients carry no ambient credential a cross-site form could
	// ride on; the guard does not apply to them.
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return nil
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return ErrMismatch
	}
	header := r.Header.Get(HeaderName)
	if header == "" {
		return ErrMismatch
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return ErrMismatch
	}
	return nil
}

// Middleware rejects requests failing Check with 403.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := Check(r); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"csrf token mismatch"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
