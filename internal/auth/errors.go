package auth

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials covers a wrong password or unknown identity.
	// The HTTP layer collapses it with ErrAccountLocked into one generic
	// response to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the lockout window is open.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDeactivated is returned for deactivated accounts.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrAccountExists is returned when registration hits a duplicate email.
	ErrAccountExists = errors.New("account already exists")
	// ErrPasswordPolicy is returned when a new password is too weak.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a password change repeats the
	// current password.
	ErrPasswordReuse = errors.New("new password must differ from current password")

	// ErrTokenExpired, ErrTokenMalformed and ErrTokenRevoked classify
	// access-token validation failures. All three map to the same generic
	// 401 at the HTTP boundary.
	ErrTokenExpired   = errors.New("access token expired")
	ErrTokenMalformed = errors.New("access token malformed")
	ErrTokenRevoked   = errors.New("access token revoked")

	// ErrRefreshInvalid covers undecodable tokens, unknown records, and
	// secret mismatches on a live record.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshExpired is returned for refresh tokens past their lifetime.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrRefreshReuseDetected signals that an already-rotated or revoked
	// refresh token was presented: the family has been revoked and the
	// client must fully re-authenticate.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrRateLimited is returned when a bucket rejects the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned when a security-critical check could
	// not reach the shared store. Such checks fail closed.
	ErrStoreUnavailable = errors.New("shared store unavailable")
)

// RateLimitedError carries the Retry-After hint alongside ErrRateLimited
// identity.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string { return "rate limited" }

// Is makes errors.Is(err, ErrRateLimited) hold.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
