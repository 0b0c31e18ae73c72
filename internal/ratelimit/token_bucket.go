package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CostUnit is the request body size covered by one token beyond the base
// cost of a request.
const CostUnit = 1 << 20

// Cost returns the tokens charged for a request carrying bodyBytes: one for
// the request plus one per started CostUnit. Unknown sizes cost one token.
func Cost(bodyBytes int64) int64 {
	if bodyBytes <= 0 {
		return 1
	}
	return 1 + (bodyBytes+CostUnit-1)/CostUnit
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeScript refills the bucket stored at KEYS[1] for the time elapsed since
// its last update, then tries to take ARGV[4] tokens. It returns
// {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local level = tonumber(redis.call("HGET", KEYS[1], "level"))
local updated = tonumber(redis.call("HGET", KEYS[1], "updated"))
if level == nil or updated == nil then
  level = capacity
  updated = now
end

level = math.min(capacity, level + math.max(0, now - updated) * per_ms)

local wait = 0
local ok = 0
if level >= cost then
  level = level - cost
  ok = 1
else
  wait = math.ceil((cost - level) / per_ms)
end

redis.call("HSET", KEYS[1], "level", tostring(level), "updated", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {ok, math.floor(level), wait}
`)

// RedisTokenBucket is a per-subject token bucket kept in Redis. Buckets hold
// capacity tokens and refill completely over one window.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	perMS     float64
	idleTTL   time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case capacity <= 0:
		return nil, errors.New("capacity must be positive")
	case window <= 0:
		return nil, errors.New("window must be positive")
	}

	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "convertflow:ratelimit"
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(capacity),
		perMS:     float64(capacity) / float64(max(window.Milliseconds(), 1)),
		idleTTL:   2 * window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + subject
}

// Allow takes cost tokens from subject's bucket. A cost above the bucket
// capacity is clamped so large uploads drain the bucket instead of being
// rejected forever.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	cost = min(max(cost, 1), l.capacity)

	values, err := takeScript.Run(
		ctx,
		l.client,
		[]string{l.key(subject)},
		l.capacity,
		l.perMS,
		l.now().UnixMilli(),
		cost,
		l.idleTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(values) != 3 {
		return Decision{}, fmt.Errorf("token bucket script returned %d values", len(values))
	}

	return Decision{
		Allowed:    values[0] == 1,
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}
