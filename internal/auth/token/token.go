// Package token mints and validates the signed access tokens that prove
// identity for a single request window.
//
// Access tokens are self-contained: signature and expiry verify offline with
// only the key material. Validity additionally depends on the token's jti and
// family id being absent from the revocation registry, which is the sole
// store lookup on the validation path.
package token

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// SigningMethod selects the access-token signature algorithm. The method is
// fixed at construction; tokens signed with anything else are rejected.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

var (
	// ErrExpired is returned when the token's exp has passed.
	ErrExpired = errors.New("token expired")
	// ErrMalformed is returned for any token that fails parsing, signature
	// verification, or algorithm checks.
	ErrMalformed = errors.New("token malformed")
	// ErrRevoked is returned when the token's jti or family appears in the
	// revocation registry.
	ErrRevoked = errors.New("token revoked")
)

// Claims is the access-token claim set: sub, iat, exp, jti (RegisteredClaims.ID)
// and the token family shared by every token descending from one login.
type Claims struct {
	Family string `json:"fam"`
	jwt.RegisteredClaims
}

// AccountID returns the subject claim.
func (c *Claims) AccountID() string { return c.Subject }

// RevocationChecker reports registry membership for a token identifier.
type RevocationChecker interface {
	Contains(ctx context.Context, id string) (bool, error)
}

// Config holds signing configuration shared by Issuer and Validator.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	// SecretKey is the HMAC secret for hs256.
	SecretKey []byte
	// PrivateKey and PublicKey hold ed25519 key material, raw or PEM.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Leeway     time.Duration
}

func (c Config) validate() error {
	if c.AccessTTL <= 0 {
		return errors.New("token: access TTL must be positive")
	}
	if c.Leeway < 0 || c.Leeway > 2*time.Minute {
		return errors.New("token: invalid leeway")
	}
	switch c.SigningMethod {
	case MethodHS256:
		if len(c.SecretKey) < 32 {
			return errors.New("token: hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if len(c.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(c.PrivateKey); err != nil {
				return err
			}
		}
		if len(c.PublicKey) == 0 {
			return errors.New("token: ed25519 requires a public key")
		}
		if _, err := parseEdPublicKey(c.PublicKey); err != nil {
			return err
		}
	default:
		return errors.New("token: unsupported signing method")
	}
	return nil
}

func (c Config) method() jwt.SigningMethod {
	if c.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (c Config) signKey() (any, error) {
	if c.SigningMethod == MethodHS256 {
		return c.SecretKey, nil
	}
	return parseEdPrivateKey(c.PrivateKey)
}

func (c Config) verifyKey() (any, error) {
	if c.SigningMethod == MethodHS256 {
		return c.SecretKey, nil
	}
	return parseEdPublicKey(c.PublicKey)
}

// Issuer mints signed access tokens.
type Issuer struct {
	config Config
	clock  clockwork.Clock
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg Config, clock clockwork.Clock) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SigningMethod == MethodEd25519 && len(cfg.PrivateKey) == 0 {
		return nil, errors.New("token: issuer requires an ed25519 private key")
	}
	return &Issuer{config: cfg, clock: clock}, nil
}

// Issue signs a fresh access token for the account within the given family.
// The jti is random per token; the family id is shared across every token
// descending from one login.
func (i *Issuer) Issue(accountID, family string) (string, *Claims, error) {
	now := i.clock.Now()
	claims := &Claims{
		Family: family,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.AccessTTL)),
			ID:        uuid.NewString(),
			Issuer:    i.config.Issuer,
		},
	}

	key, err := i.config.signKey()
	if err != nil {
		return "", nil, err
	}
	signed, err := jwt.NewWithClaims(i.config.method(), claims).SignedString(key)
	if err != nil {
		return "", nil, fmt.Errorf("token: sign access token: %w", err)
	}
	return signed, claims, nil
}

// Validator verifies access tokens. It holds no mutable state and is safe for
// concurrent use from any number of request handlers.
type Validator struct {
	config  Config
	clock   clockwork.Clock
	revoked RevocationChecker
}

// NewValidator validates cfg and returns a Validator consulting the given
// revocation registry.
func NewValidator(cfg Config, clock clockwork.Clock, revoked RevocationChecker) (*Validator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if revoked == nil {
		return nil, errors.New("token: validator requires a revocation checker")
	}
	return &Validator{config: cfg, clock: clock, revoked: revoked}, nil
}

// Validate verifies signature, algorithm, and expiry, then checks the jti and
// family against the revocation registry. Registry lookups fail closed: a
// store error propagates rather than admitting the token.
func (v *Validator) Validate(ctx context.Context, tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.config.method().Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(v.config.Leeway))
	}
	if v.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.config.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return v.config.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.ID == "" || claims.Subject == "" || claims.Family == "" {
		return nil, ErrMalformed
	}

	revoked, err := v.revoked.Contains(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !revoked {
		revoked, err = v.revoked.Contains(ctx, claims.Family)
		if err != nil {
			return nil, err
		}
	}
	if revoked {
		return nil, ErrRevoked
	}

	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
