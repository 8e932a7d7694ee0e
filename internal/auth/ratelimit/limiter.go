// Package ratelimit implements distributed token-bucket admission control.
//
// Bucket state lives in Redis and is mutated by a single Lua round-trip, so
// concurrent requests against one key from any number of server processes
// are serialized by the store rather than by process-local locks. The
// current time is supplied by the injected clock, never read inside Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps store connectivity failures. Admission fails closed.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Policy is one bucket shape: burst capacity plus steady refill rate in
// tokens per second. Fractional rates are the norm for tight windows.
type Policy struct {
	Capacity   int
	RefillRate float64
}

var (
	// LoginPolicy bounds credential attempts: 5 per 15 minutes per
	// account+IP pair.
	LoginPolicy = Policy{Capacity: 5, RefillRate: 5.0 / (15 * 60)}
	// APIPolicy bounds general traffic: 60 per minute per IP.
	APIPolicy = Policy{Capacity: 60, RefillRate: 1}
)

// Decision is the admission outcome. RetryAfter is populated on rejection
// with the time until at least one token refills.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// bucketScript performs the whole read-modify-write atomically: refill by
// elapsed time capped at capacity, then spend one token or compute the wait.
const bucketScript = `
local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])

if tokens == nil or ts == nil then
  tokens = capacity
  ts = now_ms
end

local elapsed = (now_ms - ts) / 1000.0
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * rate)
end

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(now_ms))
redis.call("PEXPIRE", KEYS[1], ARGV[4])

return {allowed, wait_ms}
`

var bucketLua = redis.NewScript(bucketScript)

// Limiter evaluates token buckets in Redis. Safe for concurrent use.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	clock  clockwork.Clock
}

// NewLimiter creates a Limiter under the given key prefix.
func NewLimiter(client redis.UniversalClient, prefix string, clock clockwork.Clock) *Limiter {
	return &Limiter{redis: client, prefix: prefix, clock: clock}
}

func (l *Limiter) key(bucket string) string {
	return l.prefix + ":rl:" + bucket
}

// Allow spends one token from the bucket, creating it at full capacity on
// first sight. A rejected Decision carries the Retry-After hint. Store
// errors fail closed: the caller must reject the request.
func (l *Limiter) Allow(ctx context.Context, bucket string, p Policy) (Decision, error) {
	if p.Capacity <= 0 || p.RefillRate <= 0 {
		return Decision{}, errors.New("ratelimit: invalid policy")
	}

	// Idle buckets evaporate after twice the full-refill horizon; a
	// recreated bucket starts at capacity, same as a fully refilled one.
	ttlMS := int64(math.Ceil(float64(p.Capacity)/p.RefillRate*2) * 1000)
	if ttlMS < 1000 {
		ttlMS = 1000
	}

	res, err := bucketLua.Run(ctx, l.redis,
		[]string{l.key(bucket)},
		l.clock.Now().UnixMilli(),
		p.RefillRate,
		p.Capacity,
		ttlMS,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}
	allowed, _ := reply[0].(int64)
	waitMS, _ := reply[1].(int64)

	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(waitMS) * time.Millisecond}, nil
}
