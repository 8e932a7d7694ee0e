package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRegistry(rdb, "sd"), mr
}

func TestAddContains(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	revoked, err := reg.Contains(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Contains failed: %v", err)
	}
	if revoked {
		t.Fatal("unknown id must not be revoked")
	}

	if err := reg.Add(ctx, "jti-1", 15*time.Minute); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	revoked, err = reg.Contains(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Contains failed: %v", err)
	}
	if !revoked {
		t.Fatal("added id must be revoked")
	}
}

func TestEntriesSelfExpire(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	if err := reg.Add(ctx, "jti-ttl", time.Minute); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	revoked, err := reg.Contains(ctx, "jti-ttl")
	if err != nil {
		t.Fatalf("Contains failed: %v", err)
	}
	if revoked {
		t.Fatal("entry should have expired with the token lifetime")
	}
}

func TestAddIgnoresSpentTTL(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	if err := reg.Add(ctx, "jti-spent", 0); err != nil {
		t.Fatalf("Add with zero ttl should be a no-op, got %v", err)
	}
	if err := reg.Add(ctx, "", time.Minute); err == nil {
		t.Fatal("empty identifier must be rejected")
	}
}

func TestFailsClosedWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	reg := NewRegistry(rdb, "sd")

	mr.Close()

	if _, err := reg.Contains(ctx, "jti-x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := reg.Add(ctx, "jti-x", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
