package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"sellerdesk/internal/auth"
	"sellerdesk/internal/auth/ratelimit"
	"sellerdesk/internal/auth/token"
)

type contextKey int

const claimsKey contextKey = iota

// claimsFrom returns the validated claims placed by requireAuth.
func claimsFrom(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok
}

// requireAuth admits requests carrying a valid access token, either as an
// Authorization bearer token or in the access cookie set at login.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			if cookie, err := r.Cookie(accessCookieName); err == nil {
				raw = cookie.Value
			}
		}
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := h.service.Validate(r.Context(), raw)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// rateLimit applies a shared token bucket keyed by client IP.
func (h *Handler) rateLimit(policy ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := h.service.AllowRequest(r.Context(), "api:"+clientIP(r), policy)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			if !decision.Allowed {
				writeAuthError(w, &auth.RateLimitedError{RetryAfter: decision.RetryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// clientIP trusts the first X-Forwarded-For hop when present; the service
// runs behind a proxy that sets it.
func clientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
