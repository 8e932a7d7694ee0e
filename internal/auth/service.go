// Package auth orchestrates the session-security core: credential
// verification, token issuance and validation, refresh rotation with reuse
// detection, rate limiting, and account lockout.
//
// All cross-request state lives in the shared store; a Service instance
// holds no mutable local state and is safe for concurrent use across any
// number of server processes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"sellerdesk/internal/account"
	"sellerdesk/internal/auth/lockout"
	"sellerdesk/internal/auth/password"
	"sellerdesk/internal/auth/ratelimit"
	"sellerdesk/internal/auth/refresh"
	"sellerdesk/internal/auth/revocation"
	"sellerdesk/internal/auth/token"
	"sellerdesk/internal/telemetry"
)

// AccountStore is the persistence contract the service consumes. The SQL
// repository satisfies it in production; tests substitute an in-memory
// double.
type AccountStore interface {
	Create(ctx context.Context, email, passwordHash string) (account.Account, error)
	GetByEmail(ctx context.Context, email string) (account.Account, error)
	GetByID(ctx context.Context, id string) (account.Account, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	Deactivate(ctx context.Context, id string) error
}

// TokenPair is the issued credentials returned at login and refresh. The
// refresh token is handed out exactly once and never persisted raw.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Config holds service tuning.
type Config struct {
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	MinPasswordLength int
	LoginPolicy       ratelimit.Policy
}

// Deps gathers the collaborators for NewService.
type Deps struct {
	Accounts  AccountStore
	Hasher    *password.Hasher
	Issuer    *token.Issuer
	Validator *token.Validator
	Refresh   *refresh.Store
	Registry  *revocation.Registry
	Limiter   *ratelimit.Limiter
	Lockout   *lockout.Guard
	Telemetry *telemetry.Recorder
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Service implements the authentication control flow.
type Service struct {
	config    Config
	accounts  AccountStore
	hasher    *password.Hasher
	issuer    *token.Issuer
	validator *token.Validator
	refresh   *refresh.Store
	registry  *revocation.Registry
	limiter   *ratelimit.Limiter
	lockout   *lockout.Guard
	telemetry *telemetry.Recorder
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewService wires a Service. All dependencies are required except
// Telemetry and Logger.
func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Accounts == nil, deps.Hasher == nil, deps.Issuer == nil,
		deps.Validator == nil, deps.Refresh == nil, deps.Registry == nil,
		deps.Limiter == nil, deps.Lockout == nil, deps.Clock == nil:
		return nil, errors.New("auth: missing dependency")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token TTLs must be positive")
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 10
	}
	if cfg.LoginPolicy.Capacity == 0 {
		cfg.LoginPolicy = ratelimit.LoginPolicy
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Service{
		config:    cfg,
		accounts:  deps.Accounts,
		hasher:    deps.Hasher,
		issuer:    deps.Issuer,
		validator: deps.Validator,
		refresh:   deps.Refresh,
		registry:  deps.Registry,
		limiter:   deps.Limiter,
		lockout:   deps.Lockout,
		telemetry: deps.Telemetry,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}, nil
}

// Register creates a credential record for a new seller account.
func (s *Service) Register(ctx context.Context, email, plaintext string) (account.Account, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return account.Account{}, ErrInvalidCredentials
	}
	if len(plaintext) < s.config.MinPasswordLength {
		return account.Account{}, ErrPasswordPolicy
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return account.Account{}, err
	}

	acct, err := s.accounts.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, account.ErrDuplicateEmail) {
			return account.Account{}, ErrAccountExists
		}
		return account.Account{}, err
	}

	s.record(telemetry.Event{Type: telemetry.EventAccountRegistered, AccountID: acct.ID})
	return acct, nil
}

// Login runs the full admission chain: rate limiter, lockout guard,
// credential verifier, then token issuance. Callers must collapse
// ErrInvalidCredentials, ErrAccountLocked, and ErrAccountDeactivated into
// one generic response.
func (s *Service) Login(ctx context.Context, email, plaintext, ip string) (*TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		return nil, ErrInvalidCredentials
	}

	decision, err := s.limiter.Allow(ctx, "login:"+email+":"+ip, s.config.LoginPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !decision.Allowed {
		s.record(telemetry.Event{Type: telemetry.EventRateLimited, AccountID: email, IP: ip})
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	// Lockout is keyed by identity key, not account id, so unknown emails
	// behave the same as real ones under probing.
	locked, err := s.lockout.IsLocked(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if locked {
		s.record(telemetry.Event{Type: telemetry.EventLoginLocked, AccountID: email, IP: ip})
		return nil, ErrAccountLocked
	}

	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, s.failLogin(ctx, email, ip)
		}
		return nil, err
	}

	match, err := s.hasher.Verify(plaintext, acct.PasswordHash)
	if err != nil {
		// Corrupt stored hash. Surface as generic failure, keep details
		// in the log only.
		s.logger.Error("stored password hash unreadable", "account_id", acct.ID)
		return nil, s.failLogin(ctx, email, ip)
	}
	if !match {
		return nil, s.failLogin(ctx, email, ip)
	}

	if !acct.Active() {
		return nil, ErrAccountDeactivated
	}

	if err := s.lockout.RecordSuccess(ctx, email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pair, err := s.issuePair(ctx, acct.ID, uuid.NewString())
	if err != nil {
		return nil, err
	}

	s.record(telemetry.Event{Type: telemetry.EventLoginSuccess, AccountID: acct.ID, IP: ip})
	return pair, nil
}

func (s *Service) failLogin(ctx context.Context, email, ip string) error {
	tripped, err := s.lockout.RecordFailure(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tripped {
		s.record(telemetry.Event{Type: telemetry.EventLockoutTripped, AccountID: email, IP: ip})
	} else {
		s.record(telemetry.Event{Type: telemetry.EventLoginFailure, AccountID: email, IP: ip})
	}
	return ErrInvalidCredentials
}

// Refresh exchanges a live refresh token for a fresh pair in the same
// family. Presenting an already-rotated token revokes the entire family and
// returns ErrRefreshReuseDetected.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	id, secret, err := refresh.DecodeToken(rawToken)
	if err != nil {
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := refresh.NewSecret()
	if err != nil {
		return nil, err
	}

	rot, err := s.refresh.Rotate(ctx, id, refresh.HashSecret(secret), refresh.HashSecret(nextSecret))
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrReused):
			return nil, s.handleReuse(ctx, id)
		case errors.Is(err, refresh.ErrExpired):
			return nil, ErrRefreshExpired
		case errors.Is(err, refresh.ErrNotFound), errors.Is(err, refresh.ErrSecretMismatch):
			return nil, ErrRefreshInvalid
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	acct, err := s.accounts.GetByID(ctx, rot.AccountID)
	if err != nil {
		return nil, err
	}
	if !acct.Active() {
		if err := s.revokeFamily(ctx, rot.AccountID, rot.Family); err != nil {
			return nil, err
		}
		return nil, ErrAccountDeactivated
	}

	access, claims, err := s.issuer.Issue(rot.AccountID, rot.Family)
	if err != nil {
		// The rotation is already committed: the presented token is spent
		// either way. A retry with it will trip reuse handling and force a
		// clean re-login, never an ambiguous half-rotated state.
		return nil, err
	}

	s.record(telemetry.Event{Type: telemetry.EventRefreshRotated, AccountID: rot.AccountID, Family: rot.Family})
	return &TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh.EncodeToken(rot.NewID, nextSecret),
		AccessExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) handleReuse(ctx context.Context, id refresh.RecordID) error {
	rec, err := s.refresh.Get(ctx, id)
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return ErrRefreshInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.revokeFamily(ctx, rec.AccountID, rec.Family); err != nil {
		return err
	}
	s.record(telemetry.Event{Type: telemetry.EventRefreshReuse, AccountID: rec.AccountID, Family: rec.Family})
	return ErrRefreshReuseDetected
}

// revokeFamily removes every refresh record in the family and registers the
// family id so outstanding access tokens die immediately.
func (s *Service) revokeFamily(ctx context.Context, accountID, family string) error {
	if _, err := s.refresh.RevokeFamily(ctx, family); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.registry.Add(ctx, family, s.config.AccessTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.record(telemetry.Event{Type: telemetry.EventFamilyRevoked, AccountID: accountID, Family: family})
	return nil
}

// Logout revokes the session family behind the presented claims.
func (s *Service) Logout(ctx context.Context, claims *token.Claims) error {
	if err := s.revokeFamily(ctx, claims.AccountID(), claims.Family); err != nil {
		return err
	}
	s.record(telemetry.Event{Type: telemetry.EventLogout, AccountID: claims.AccountID(), Family: claims.Family})
	return nil
}

// LogoutAll revokes every token family belonging to the account.
func (s *Service) LogoutAll(ctx context.Context, accountID string) error {
	families, err := s.refresh.RevokeAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, family := range families {
		if err := s.registry.Add(ctx, family, s.config.AccessTTL); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		s.record(telemetry.Event{Type: telemetry.EventFamilyRevoked, AccountID: accountID, Family: family})
	}
	return nil
}

// ChangePassword verifies the current password, rewrites the hash, and
// revokes every outstanding session of the account.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) error {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if !acct.Active() {
		return ErrAccountDeactivated
	}

	match, err := s.hasher.Verify(current, acct.PasswordHash)
	if err != nil || !match {
		return ErrInvalidCredentials
	}
	if len(next) < s.config.MinPasswordLength {
		return ErrPasswordPolicy
	}
	if next == current {
		return ErrPasswordReuse
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePasswordHash(ctx, accountID, hash, s.clock.Now()); err != nil {
		return err
	}
	if err := s.LogoutAll(ctx, accountID); err != nil {
		return err
	}

	s.record(telemetry.Event{Type: telemetry.EventPasswordChanged, AccountID: accountID})
	return nil
}

// Deactivate disables the account and tears down all of its sessions.
func (s *Service) Deactivate(ctx context.Context, accountID string) error {
	if err := s.accounts.Deactivate(ctx, accountID); err != nil {
		return err
	}
	if err := s.LogoutAll(ctx, accountID); err != nil {
		return err
	}
	s.record(telemetry.Event{Type: telemetry.EventAccountDeactivated, AccountID: accountID})
	return nil
}

// Validate is the read path the rest of the platform consumes to authorize
// requests. It maps validator outcomes onto the service error taxonomy.
func (s *Service) Validate(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := s.validator.Validate(ctx, accessToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, token.ErrRevoked):
			return nil, ErrTokenRevoked
		case errors.Is(err, token.ErrMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, revocation.ErrUnavailable):
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		default:
			return nil, ErrTokenMalformed
		}
	}
	return claims, nil
}

// AllowRequest applies the general API bucket for a client key. Exposed for
// the HTTP middleware.
func (s *Service) AllowRequest(ctx context.Context, clientKey string, policy ratelimit.Policy) (ratelimit.Decision, error) {
	decision, err := s.limiter.Allow(ctx, clientKey, policy)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decision, nil
}

func (s *Service) issuePair(ctx context.Context, accountID, family string) (*TokenPair, error) {
	secret, err := refresh.NewSecret()
	if err != nil {
		return nil, err
	}
	recordID, err := s.refresh.Create(ctx, accountID, family, refresh.HashSecret(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	access, claims, err := s.issuer.Issue(accountID, family)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh.EncodeToken(recordID, secret),
		AccessExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) record(event telemetry.Event) {
	if s.telemetry != nil {
		s.telemetry.Record(event)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
