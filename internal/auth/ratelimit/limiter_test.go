package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *clockwork.FakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	clock := clockwork.NewFakeClock()
	return NewLimiter(rdb, "sd", clock), clock, mr
}

func TestBucketAdmitsExactlyCapacity(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestLimiter(t)
	policy := Policy{Capacity: 3, RefillRate: 0.5}

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "k1", policy)
		if err != nil {
			t.Fatalf("Allow %d failed: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i)
		}
	}

	d, err := limiter.Allow(ctx, "k1", policy)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("request beyond capacity must be rejected")
	}
	// One token refills in 1/r = 2s.
	if d.RetryAfter <= 0 || d.RetryAfter > 2*time.Second {
		t.Fatalf("RetryAfter = %v, want (0, 2s]", d.RetryAfter)
	}
}

func TestBucketRefillsOneTokenAfterInverseRate(t *testing.T) {
	ctx := context.Background()
	limiter, clock, _ := newTestLimiter(t)
	policy := Policy{Capacity: 2, RefillRate: 0.5}

	for i := 0; i < 2; i++ {
		if d, err := limiter.Allow(ctx, "k2", policy); err != nil || !d.Allowed {
			t.Fatalf("priming request %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}
	if d, _ := limiter.Allow(ctx, "k2", policy); d.Allowed {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(2 * time.Second) // exactly 1/r

	d, err := limiter.Allow(ctx, "k2", policy)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !d.Allowed {
		t.Fatal("exactly one token should have refilled")
	}
	if d, _ := limiter.Allow(ctx, "k2", policy); d.Allowed {
		t.Fatal("second request after one refill must be rejected")
	}
}

func TestBucketsAreIndependentPerKey(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestLimiter(t)
	policy := Policy{Capacity: 1, RefillRate: 0.1}

	if d, _ := limiter.Allow(ctx, "ip-a", policy); !d.Allowed {
		t.Fatal("first key should be admitted")
	}
	if d, _ := limiter.Allow(ctx, "ip-a", policy); d.Allowed {
		t.Fatal("first key should now be empty")
	}
	if d, _ := limiter.Allow(ctx, "ip-b", policy); !d.Allowed {
		t.Fatal("unrelated key must not be affected")
	}
}

func TestGeneralAPIBurstScenario(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestLimiter(t)

	var rejected []time.Duration
	for i := 0; i < 65; i++ {
		d, err := limiter.Allow(ctx, "api:203.0.113.9", APIPolicy)
		if err != nil {
			t.Fatalf("Allow %d failed: %v", i, err)
		}
		if i < 60 && !d.Allowed {
			t.Fatalf("request %d within capacity should be admitted", i)
		}
		if i >= 60 {
			if d.Allowed {
				t.Fatalf("request %d beyond capacity should be rejected", i)
			}
			rejected = append(rejected, d.RetryAfter)
		}
	}

	if len(rejected) != 5 {
		t.Fatalf("rejected = %d, want 5", len(rejected))
	}
	for i := 1; i < len(rejected); i++ {
		if rejected[i] < rejected[i-1] {
			t.Fatalf("Retry-After decreased: %v then %v", rejected[i-1], rejected[i])
		}
	}
}

func TestInvalidPolicyRejected(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestLimiter(t)

	if _, err := limiter.Allow(ctx, "k", Policy{Capacity: 0, RefillRate: 1}); err == nil {
		t.Fatal("zero capacity must be rejected")
	}
	if _, err := limiter.Allow(ctx, "k", Policy{Capacity: 1, RefillRate: 0}); err == nil {
		t.Fatal("zero refill rate must be rejected")
	}
}

func TestFailsClosedWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	limiter, _, mr := newTestLimiter(t)

	mr.Close()
	if _, err := limiter.Allow(ctx, "k", APIPolicy); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
