// Package httpapi exposes the authentication service over HTTP. Handlers
// support both browser clients (HttpOnly session cookies plus a CSRF
// double-submit pair) and API clients (bearer tokens, JSON bodies).
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"sellerdesk/internal/auth"
	"sellerdesk/internal/auth/csrf"
)

const (
	accessCookieName  = "sd_access"
	refreshCookieName = "sd_refresh"

	maxJSONBodyBytes = 1 << 20
	maxPasswordBytes = 200
)

// Config holds handler tuning.
type Config struct {
	// SecureCookies marks session cookies Secure; off only in local dev.
	SecureCookies bool
	RefreshTTL    time.Duration
}

// Handler carries the route implementations.
type Handler struct {
	service *auth.Service
	config  Config
}

func NewHandler(service *auth.Service, cfg Config) *Handler {
	return &Handler{service: service, config: cfg}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	AccessExpiresAt string `json:"access_expires_at"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(body.Email)); err != nil {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if len(body.Password) > maxPasswordBytes {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	acct, err := h.service.Register(r.Context(), body.Email, body.Password)
	if err != nil {
		// Duplicate emails collapse into the generic failure so
		// registration cannot be used to probe for existing accounts.
		if errors.Is(err, auth.ErrAccountExists) || errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "registration failed")
			return
		}
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": acct.ID, "email": acct.Email})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Password) > maxPasswordBytes {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	pair, err := h.service.Login(r.Context(), body.Email, body.Password, clientIP(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	if err := h.setSessionCookies(w, pair); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, fromCookie := h.refreshTokenFrom(w, r)
	if raw == "" {
		writeErrorCode(w, http.StatusUnauthorized, "missing refresh token", "invalid")
		return
	}

	// A token taken from the cookie rides on an ambient credential, so the
	// request must carry the double-submit pair. Body-borne tokens were
	// attached by the client deliberately and need no CSRF proof.
	if fromCookie {
		if err := csrf.Check(r); err != nil {
			writeError(w, http.StatusForbidden, "csrf token mismatch")
			return
		}
	}

	pair, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		// Once the family is gone the cookies are useless; drop them so
		// browsers fall back to a clean login.
		if errors.Is(err, auth.ErrRefreshReuseDetected) {
			h.clearSessionCookies(w)
		}
		writeAuthError(w, err)
		return
	}

	if err := h.setSessionCookies(w, pair); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}
	if err := h.service.Logout(r.Context(), claims); err != nil {
		writeAuthError(w, err)
		return
	}
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}
	if err := h.service.LogoutAll(r.Context(), claims.AccountID()); err != nil {
		writeAuthError(w, err)
		return
	}
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var body changePasswordRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.NewPassword) > maxPasswordBytes {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	err := h.service.ChangePassword(r.Context(), claims.AccountID(), body.CurrentPassword, body.NewPassword)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	// Password change revokes every session, including this one.
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account_id": claims.AccountID()})
}

func newTokenResponse(pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		AccessExpiresAt: pair.AccessExpiresAt.UTC().Format(time.RFC3339),
	}
}

// refreshTokenFrom extracts the presented refresh token and reports whether
// it came from the session cookie rather than the request body.
func (h *Handler) refreshTokenFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Header.Get("Content-Type") != "" && r.ContentLength != 0 {
		var body refreshRequest
		if !decodeBody(w, r, &body) {
			return "", false
		}
		if body.RefreshToken != "" {
			return body.RefreshToken, false
		}
	}
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		return cookie.Value, true
	}
	return "", false
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, pair *auth.TokenPair) error {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		Secure:   h.config.SecureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/auth",
		MaxAge:   int(h.config.RefreshTTL.Seconds()),
		Secure:   h.config.SecureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	csrfToken, err := csrf.NewToken()
	if err != nil {
		return err
	}
	http.SetCookie(w, csrf.Cookie(csrfToken, h.config.SecureCookies))
	return nil
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	for _, cookie := range []*http.Cookie{
		{Name: accessCookieName, Path: "/"},
		{Name: refreshCookieName, Path: "/auth"},
		{Name: csrf.CookieName, Path: "/"},
	} {
		cookie.Value = ""
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}
