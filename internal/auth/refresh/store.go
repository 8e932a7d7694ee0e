package refresh

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no record exists for the presented id.
	ErrNotFound = errors.New("refresh record not found")
	// ErrExpired is returned when the record exists but its lifetime has passed.
	ErrExpired = errors.New("refresh token expired")
	// ErrReused is returned when the presented record is already revoked or
	// rotated. This is the theft signal: the caller must revoke the family.
	ErrReused = errors.New("refresh token reuse detected")
	// ErrSecretMismatch is returned when the record is live but the presented
	// secret does not hash to the stored value.
	ErrSecretMismatch = errors.New("refresh secret mismatch")
	// ErrUnavailable wraps store connectivity failures. Callers fail closed.
	ErrUnavailable = errors.New("refresh store unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusReused   int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusMismatch int64 = 4
)

// rotateScript is the single atomic rotation step: look up the record,
// reject revoked (reuse) and expired states, compare the presented hash,
// then mark the old record rotated and write its successor.
// Two concurrent rotations of one token cannot both reach the HSET: Redis
// runs the script serially per key.
const rotateScript = `
local rec = redis.call("HMGET", KEYS[1], "account", "family", "hash", "revoked_at", "expires_at")
if not rec[1] then
  return {0}
end

local revoked_at = tonumber(rec[4]) or 0
if revoked_at > 0 then
  return {2, rec[1], rec[2]}
end

local now = tonumber(ARGV[3])
local expires_at = tonumber(rec[5]) or 0
if expires_at <= now then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[3], ARGV[6])
  return {1}
end

if rec[3] ~= ARGV[1] then
  return {4}
end

redis.call("HSET", KEYS[1], "revoked_at", ARGV[3], "successor", ARGV[2])

redis.call("HSET", KEYS[2],
  "account", rec[1],
  "family", rec[2],
  "hash", ARGV[2],
  "issued_at", ARGV[3],
  "expires_at", ARGV[5],
  "revoked_at", "0",
  "successor", "")
redis.call("EXPIRE", KEYS[2], ARGV[4])
redis.call("SADD", KEYS[3], ARGV[7])
redis.call("EXPIRE", KEYS[3], ARGV[4])
redis.call("EXPIRE", KEYS[4], ARGV[4])

return {3, rec[1], rec[2]}
`

var rotateLua = redis.NewScript(rotateScript)

const revokeFamilyScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(members) do
  revoked = revoked + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return revoked
`

var revokeFamilyLua = redis.NewScript(revokeFamilyScript)

// Record is the persisted shape of one refresh token. The raw secret never
// appears here, only its hash.
type Record struct {
	ID            RecordID
	AccountID     string
	Family        string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RevokedAt     time.Time // zero while live
	SuccessorHash string    // hex, set once rotated
}

// Live reports whether the record is neither revoked nor expired at now.
func (r *Record) Live(now time.Time) bool {
	return r.RevokedAt.IsZero() && now.Before(r.ExpiresAt)
}

// Rotation is the outcome of a successful rotate: the successor record id
// plus the owning account and family carried over from the old record.
type Rotation struct {
	NewID     RecordID
	AccountID string
	Family    string
}

// Store persists refresh-token records in Redis. At most one live record per
// family exists at any time; rotation is a single Lua round-trip.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewStore creates a Store. prefix namespaces all keys; ttl is the refresh
// token lifetime and doubles as the record GC horizon.
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration, clock clockwork.Clock) *Store {
	return &Store{redis: client, prefix: prefix, ttl: ttl, clock: clock}
}

func (s *Store) recordKeyPrefix() string      { return s.prefix + ":rt:" }
func (s *Store) recordKey(id RecordID) string { return s.recordKeyPrefix() + id.String() }
func (s *Store) familyKey(family string) string {
	return s.prefix + ":rtfam:" + family
}
func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":rtacct:" + accountID
}

// Create writes a fresh live record for the account and family and indexes
// it for family- and account-wide revocation.
func (s *Store) Create(ctx context.Context, accountID, family string, hash [32]byte) (RecordID, error) {
	id, err := NewRecordID()
	if err != nil {
		return id, err
	}

	now := s.clock.Now()
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(id),
			"account", accountID,
			"family", family,
			"hash", hex.EncodeToString(hash[:]),
			"issued_at", strconv.FormatInt(now.Unix(), 10),
			"expires_at", strconv.FormatInt(now.Add(s.ttl).Unix(), 10),
			"revoked_at", "0",
			"successor", "",
		)
		pipe.Expire(ctx, s.recordKey(id), s.ttl)
		pipe.SAdd(ctx, s.familyKey(family), id.String())
		pipe.Expire(ctx, s.familyKey(family), s.ttl)
		pipe.SAdd(ctx, s.accountKey(accountID), family)
		pipe.Expire(ctx, s.accountKey(accountID), s.ttl)
		return nil
	})
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Rotate atomically exchanges the presented record for a successor. Exactly
// one of two concurrent calls with the same token wins; the loser observes
// ErrReused (already rotated) or ErrSecretMismatch and must not be retried.
func (s *Store) Rotate(ctx context.Context, id RecordID, providedHash, nextHash [32]byte) (*Rotation, error) {
	newID, err := NewRecordID()
	if err != nil {
		return nil, err
	}

	// Scripts must declare keys up front and the family set key depends on
	// the stored record, so the family is read first. A record's family
	// never changes, and every revoked/expired/mismatch decision happens
	// inside the script, so this pre-read does not weaken the CAS.
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// The account index must outlive the session it points at, and rotation
	// extends the session past the original login's horizon. Re-expiring it
	// here keeps revoke-all able to find every family however long a
	// session keeps rotating.
	now := s.clock.Now()
	keys := []string{
		s.recordKey(id),
		s.recordKey(newID),
		s.familyKey(rec.Family),
		s.accountKey(rec.AccountID),
	}

	res, err := rotateLua.Run(ctx, s.redis, keys,
		hexOf(providedHash),
		hexOf(nextHash),
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(int64(s.ttl/time.Second), 10),
		strconv.FormatInt(now.Add(s.ttl).Unix(), 10),
		id.String(),
		newID.String(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}
	status, _ := reply[0].(int64)
	switch status {
	case rotateStatusRotated:
		if len(reply) < 3 {
			return nil, fmt.Errorf("%w: truncated script reply", ErrUnavailable)
		}
		account, _ := reply[1].(string)
		family, _ := reply[2].(string)
		return &Rotation{NewID: newID, AccountID: account, Family: family}, nil
	case rotateStatusReused:
		return nil, ErrReused
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusMismatch:
		return nil, ErrSecretMismatch
	default:
		return nil, ErrNotFound
	}
}

// Revoke marks a single record revoked without a successor (logout path).
func (s *Store) Revoke(ctx context.Context, id RecordID) error {
	now := strconv.FormatInt(s.clock.Now().Unix(), 10)
	if err := s.redis.HSet(ctx, s.recordKey(id), "revoked_at", now).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeFamily deletes every record in the family and its index set,
// returning how many live records were removed. Revocation-registry entries
// for outstanding access tokens are the caller's responsibility.
func (s *Store) RevokeFamily(ctx context.Context, family string) (int64, error) {
	res, err := revokeFamilyLua.Run(ctx, s.redis,
		[]string{s.familyKey(family)},
		s.recordKeyPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

// Families lists the family ids recorded for an account.
func (s *Store) Families(ctx context.Context, accountID string) ([]string, error) {
	families, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return families, nil
}

// RevokeAccount revokes every family belonging to the account (password
// change, revoke-all) and returns the family ids so the caller can register
// them for immediate access-token invalidation.
func (s *Store) RevokeAccount(ctx context.Context, accountID string) ([]string, error) {
	families, err := s.Families(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, family := range families {
		if _, err := s.RevokeFamily(ctx, family); err != nil {
			return nil, err
		}
	}
	if err := s.redis.Del(ctx, s.accountKey(accountID)).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return families, nil
}

// Get loads one record. Missing records return ErrNotFound.
func (s *Store) Get(ctx context.Context, id RecordID) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		ID:            id,
		AccountID:     fields["account"],
		Family:        fields["family"],
		SuccessorHash: fields["successor"],
	}
	rec.IssuedAt = unixField(fields["issued_at"])
	rec.ExpiresAt = unixField(fields["expires_at"])
	if revoked := unixField(fields["revoked_at"]); !revoked.IsZero() {
		rec.RevokedAt = revoked
	}
	return rec, nil
}

func unixField(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

func hexOf(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
