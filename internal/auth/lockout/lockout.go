// Package lockout tracks consecutive failed authentication attempts per
// account and enforces a temporary lockout once a threshold is reached.
//
// The counter lives in the shared store so every server process sees the
// same state. The window expires on its own via TTL; there is no explicit
// unlock transition.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps store connectivity failures. Lockout checks fail
// closed: an unreachable counter rejects the attempt.
var ErrUnavailable = errors.New("lockout store unavailable")

// Config holds lockout tuning.
type Config struct {
	Threshold int
	Window    time.Duration
}

// DefaultConfig locks after 5 consecutive failures for 15 minutes.
var DefaultConfig = Config{Threshold: 5, Window: 15 * time.Minute}

// Guard enforces per-account lockout using a Redis counter.
type Guard struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// NewGuard creates a Guard under the given key prefix.
func NewGuard(client redis.UniversalClient, prefix string, cfg Config) *Guard {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	return &Guard{redis: client, prefix: prefix, config: cfg}
}

func (g *Guard) key(accountID string) string {
	return g.prefix + ":lock:" + accountID
}

// RecordFailure increments the failure counter and reports whether the
// account is now locked. A plain INCR is sufficient here: the counter only
// has to eventually reflect attempts, not account exactly once.
func (g *Guard) RecordFailure(ctx context.Context, accountID string) (bool, error) {
	if accountID == "" {
		return false, nil
	}

	count, err := g.redis.Incr(ctx, g.key(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// TTL is set on the first failure only, so the counter auto-resets
	// when the window closes.
	if count == 1 {
		if err := g.redis.Expire(ctx, g.key(accountID), g.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count >= int64(g.config.Threshold), nil
}

// RecordSuccess clears the counter after a successful authentication.
func (g *Guard) RecordSuccess(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	if err := g.redis.Del(ctx, g.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsLocked reports whether the account has reached the failure threshold
// within the current window.
func (g *Guard) IsLocked(ctx context.Context, accountID string) (bool, error) {
	if accountID == "" {
		return false, nil
	}

	count, err := g.redis.Get(ctx, g.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count >= int64(g.config.Threshold), nil
}

// FailureCount returns the current counter value. Missing keys read as zero
// and do not reveal whether the account exists.
func (g *Guard) FailureCount(ctx context.Context, accountID string) (int, error) {
	count, err := g.redis.Get(ctx, g.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}
