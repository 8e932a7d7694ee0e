package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

type fakeRegistry struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRegistry) Contains(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[id], nil
}

func testConfig() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		SecretKey:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "sellerdesk",
	}
}

func newPair(t *testing.T, clock clockwork.Clock, reg RevocationChecker) (*Issuer, *Validator) {
	t.Helper()
	iss, err := NewIssuer(testConfig(), clock)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	val, err := NewValidator(testConfig(), clock, reg)
	if err != nil {
		t.Fatalf("NewValidator failed: %v", err)
	}
	return iss, val
}

func TestIssueValidateRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	iss, val := newPair(t, clock, &fakeRegistry{revoked: map[string]bool{}})

	signed, issued, err := iss.Issue("acct-1", "fam-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := val.Validate(context.Background(), signed)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.AccountID() != "acct-1" {
		t.Fatalf("sub = %q, want acct-1", claims.AccountID())
	}
	if claims.Family != "fam-1" {
		t.Fatalf("fam = %q, want fam-1", claims.Family)
	}
	if claims.ID != issued.ID {
		t.Fatalf("jti mismatch: %q vs %q", claims.ID, issued.ID)
	}
	if !claims.ExpiresAt.Time.Equal(clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("exp = %v, want iat+TTL", claims.ExpiresAt.Time)
	}
}

func TestValidateExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	iss, val := newPair(t, clock, &fakeRegistry{revoked: map[string]bool{}})

	signed, _, err := iss.Issue("acct-1", "fam-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock.Advance(16 * time.Minute)
	if _, err := val.Validate(context.Background(), signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidateRejectsAlgorithmConfusion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, val := newPair(t, clock, &fakeRegistry{revoked: map[string]bool{}})

	claims := &Claims{
		Family: "fam-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acct-1",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			ID:        "jti-1",
			Issuer:    "sellerdesk",
		},
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none failed: %v", err)
	}
	if _, err := val.Validate(context.Background(), unsigned); !errors.Is(err, ErrMalformed) {
		t.Fatalf("alg=none: expected ErrMalformed, got %v", err)
	}

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("another-secret-another-secret-32"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := val.Validate(context.Background(), wrongKey); !errors.Is(err, ErrMalformed) {
		t.Fatalf("wrong key: expected ErrMalformed, got %v", err)
	}

	if _, err := val.Validate(context.Background(), "not.a.token"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("garbage: expected ErrMalformed, got %v", err)
	}
}

func TestValidateRevokedByJTI(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := &fakeRegistry{revoked: map[string]bool{}}
	iss, val := newPair(t, clock, reg)

	signed, claims, err := iss.Issue("acct-1", "fam-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	reg.revoked[claims.ID] = true
	if _, err := val.Validate(context.Background(), signed); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestValidateRevokedByFamily(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := &fakeRegistry{revoked: map[string]bool{"fam-1": true}}
	iss, val := newPair(t, clock, reg)

	signed, _, err := iss.Issue("acct-1", "fam-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := val.Validate(context.Background(), signed); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestValidateFailsClosedOnRegistryError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	storeErr := errors.New("registry down")
	iss, val := newPair(t, clock, &fakeRegistry{err: storeErr})

	signed, _, err := iss.Issue("acct-1", "fam-1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := val.Validate(context.Background(), signed); !errors.Is(err, storeErr) {
		t.Fatalf("expected registry error to propagate, got %v", err)
	}
}

func TestJTIUniquePerIssue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	iss, _ := newPair(t, clock, &fakeRegistry{revoked: map[string]bool{}})

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		_, claims, err := iss.Issue("acct-1", "fam-1")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if seen[claims.ID] {
			t.Fatalf("duplicate jti %q", claims.ID)
		}
		seen[claims.ID] = true
	}
}
