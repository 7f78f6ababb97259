package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript mirrors the local token-bucket algorithm: refill
// by elapsed*rate clamped to burst, consume one token if available.
// Keys: bucket hash. Args: burst, rate, window_ms, now_ms.
// Returns: [allowed(0/1), remaining, reset_ms, retry_after_ms]
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local burst = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then
    tokens = burst
    last = now
end

local elapsed = math.max(0, now - last) / 1000.0
tokens = math.min(burst, tokens + elapsed * rate)

local reset = now + window_ms

if tokens >= 1 then
    tokens = tokens - 1
    redis.call('HMSET', key, 'tokens', tokens, 'last', now)
    redis.call('PEXPIRE', key, window_ms * 2)
    return {1, math.floor(tokens), reset, 0}
end

redis.call('HMSET', key, 'tokens', tokens, 'last', now)
redis.call('PEXPIRE', key, window_ms * 2)
local retry_ms = math.ceil((1 - tokens) / rate * 1000)
return {0, 0, reset, retry_ms}
`)

// slidingWindowScript mirrors the local exact-timestamp-log algorithm
// using a Redis sorted set as the log.
// Keys: log key. Args: window_ms, limit, now_ms.
// Returns: [allowed(0/1), remaining, reset_ms, retry_after_ms]
var slidingWindowRemoteScript = redis.NewScript(`
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window_ms)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. '-' .. math.random(1000000000))
    redis.call('PEXPIRE', key, window_ms)
    return {1, limit - count - 1, now + window_ms, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset = now + window_ms
local retry = window_ms
if #oldest >= 2 then
    reset = tonumber(oldest[2]) + window_ms
    retry = math.max(0, reset - now)
end
return {0, 0, reset, retry}
`)

// fixedWindowScript mirrors the local floor(now/W)*W counter.
// Keys: counter key. Args: window_ms, limit, now_ms.
// Returns: [allowed(0/1), remaining, reset_ms, retry_after_ms]
var fixedWindowRemoteScript = redis.NewScript(`
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket_start = math.floor(now / window_ms) * window_ms
local bucket_key = key .. ':' .. bucket_start

local count = redis.call('INCR', bucket_key)
if count == 1 then
    redis.call('PEXPIRE', bucket_key, window_ms)
end

local reset = bucket_start + window_ms

if count <= limit then
    return {1, limit - count, reset, 0}
end
return {0, 0, reset, reset - now}
`)

// Remote delegates Consume to a Redis-backed script functionally
// equivalent to the corresponding local algorithm, so a key's behavior
// is identical whether evaluated locally or through the store. Scripts
// exist for token bucket, sliding window and fixed window; any other
// algorithm, adaptive included, runs the fixed-window script.
type Remote struct {
	client    *redis.Client
	algorithm Algorithm
	prefix    string
	burst     float64
	rate      float64
	limit     int
	window    time.Duration
	timeout   time.Duration
}

// RemoteConfig configures a Remote limiter.
type RemoteConfig struct {
	Client    *redis.Client
	Algorithm Algorithm
	Prefix    string
	Rule      Rule
	Timeout   time.Duration // per-call Redis round-trip budget
}

// NewRemote builds a Redis-backed Limiter for cfg.Algorithm.
func NewRemote(cfg RemoteConfig) *Remote {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "gw:rl:"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	burst := float64(cfg.Rule.Burst)
	if burst <= 0 {
		burst = float64(cfg.Rule.Capacity)
	}
	return &Remote{
		client:    cfg.Client,
		algorithm: cfg.Algorithm,
		prefix:    prefix,
		burst:     burst,
		rate:      cfg.Rule.RefillRate,
		limit:     cfg.Rule.Limit,
		window:    cfg.Rule.Window,
		timeout:   timeout,
	}
}

// Consume evaluates the configured algorithm's script against the
// shared store. On a store error the call fails open: the request is
// allowed, matching the teacher's fail-open posture for an unreachable
// backing store.
func (r *Remote) Consume(key string) Result {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	fullKey := r.prefix + key
	nowMs := time.Now().UnixMilli()
	windowMs := r.window.Milliseconds()

	var script *redis.Script
	var args []interface{}
	switch r.algorithm {
	case AlgorithmTokenBucket:
		script = tokenBucketScript
		args = []interface{}{r.burst, r.rate, windowMs, nowMs}
	case AlgorithmSlidingWindow:
		script = slidingWindowRemoteScript
		args = []interface{}{windowMs, r.limit, nowMs}
	default:
		script = fixedWindowRemoteScript
		args = []interface{}{windowMs, r.limit, nowMs}
	}

	raw, err := script.Run(ctx, r.client, []string{fullKey}, args...).Int64Slice()
	if err != nil {
		return Result{Allowed: true, ResetAt: time.Now().Add(r.window)}
	}

	return Result{
		Allowed:    raw[0] == 1,
		Remaining:  int(raw[1]),
		ResetAt:    time.UnixMilli(raw[2]),
		RetryAfter: time.Duration(raw[3]) * time.Millisecond,
	}
}
