package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"

	"sellerdesk/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// writeAuthError maps the service error taxonomy onto wire responses.
// Credential, lockout, and deactivation failures collapse into one generic
// 401 so the response never reveals whether the account exists or is
// locked. Token-reuse is the one structured exception: the legitimate
// holder needs to know their session was torn down and why.
func writeAuthError(w http.ResponseWriter, err error) {
	var rateLimited *auth.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		retryAfter := int(rateLimited.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, auth.ErrRefreshReuseDetected):
		writeErrorCode(w, http.StatusUnauthorized, "session revoked", "reuse_detected")
	case errors.Is(err, auth.ErrRefreshExpired):
		writeErrorCode(w, http.StatusUnauthorized, "refresh token expired", "expired")
	case errors.Is(err, auth.ErrRefreshInvalid):
		writeErrorCode(w, http.StatusUnauthorized, "invalid refresh token", "invalid")
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAccountLocked),
		errors.Is(err, auth.ErrAccountDeactivated):
		writeError(w, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrPasswordPolicy):
		writeError(w, http.StatusBadRequest, "password does not meet the minimum requirements")
	case errors.Is(err, auth.ErrPasswordReuse):
		writeError(w, http.StatusBadRequest, "new password must differ from the current password")
	case errors.Is(err, auth.ErrStoreUnavailable):
		sentry.CaptureException(err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
