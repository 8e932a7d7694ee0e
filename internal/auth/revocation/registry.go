// Package revocation maintains the shared blacklist of invalidated token
// identifiers.
//
// Entries are write-once and self-expiring: each is stored with a TTL equal
// to the remaining lifetime of the token it revokes, so the set stays small
// without any sweep. Both access-token jtis and whole family ids go in here;
// the validator checks membership for either.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps store connectivity failures. Lookups fail closed: a
// token cannot be admitted while the registry is unreachable.
var ErrUnavailable = errors.New("revocation registry unavailable")

// Registry is a Redis-backed membership set of revoked token identifiers.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRegistry creates a Registry under the given key prefix.
func NewRegistry(client redis.UniversalClient, prefix string) *Registry {
	return &Registry{redis: client, prefix: prefix}
}

func (r *Registry) key(id string) string {
	return r.prefix + ":rvk:" + id
}

// Add registers a jti or family id as revoked for ttl. A non-positive ttl
// means the underlying token is already past its own expiry and there is
// nothing left to revoke.
func (r *Registry) Add(ctx context.Context, id string, ttl time.Duration) error {
	if id == "" {
		return errors.New("revocation: empty identifier")
	}
	if ttl <= 0 {
		return nil
	}
	if err := r.redis.Set(ctx, r.key(id), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Contains reports whether the identifier has been revoked.
func (r *Registry) Contains(ctx context.Context, id string) (bool, error) {
	n, err := r.redis.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}
