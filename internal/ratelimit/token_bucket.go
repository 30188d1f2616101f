package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket hash. ARGV: rate per second, burst, ttl ms.
// Replies {allowed, tokens}; tokens is a string because redis truncates
// lua numbers to integers.
const tokenBucketScript = `
local rate, burst, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + (now - last) * rate / 1000)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens)}
`

var ErrNotConfigured = errors.New("rate_limiter_not_configured")

// TokenBucket is a redis-backed bucket shared by every API replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Allow takes one token from the bucket at key. rate is tokens per second.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	switch {
	case t == nil || t.client == nil:
		return nil, ErrNotConfigured
	case key == "":
		return nil, errors.New("rate limiter key is empty")
	case rate <= 0 || burst <= 0:
		return nil, errors.New("rate limiter rate and burst must be positive")
	}

	reply, err := t.script.Run(ctx, t.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Slice()
	if err != nil {
		return nil, err
	}
	allowed, tokens, err := parseScriptReply(reply)
	if err != nil {
		return nil, err
	}

	res := &Result{Allowed: allowed, Limit: burst, Remaining: int(tokens)}
	if !allowed {
		res.RetryAfter = RetryAfter(tokens, rate)
	}
	return res, nil
}

func parseScriptReply(reply []any) (bool, float64, error) {
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply %v", reply)
	}
	flag, ok := reply[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("rate limit script: allowed flag %T", reply[0])
	}
	raw, ok := reply[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("rate limit script: token count %T", reply[1])
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	return flag == 1, tokens, nil
}

// RetryAfter is the time until one whole token is available again.
func RetryAfter(tokens, rate float64) time.Duration {
	missing := 1 - tokens
	if missing <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(missing / rate * float64(time.Second))
}

// bucketTTL keeps idle buckets around for twice their refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	return time.Duration(max(math.Ceil(2*float64(burst)/rate), 1)) * time.Second
}
