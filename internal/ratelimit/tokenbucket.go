package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
	"github.com/edgeworks/apigw/internal/shard"
)

type bucketState struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// tokenBucket refills `min(burst, tokens + elapsed*rate)` on every
// call and consumes one token per admitted request, grounded on the
// teacher's TokenBucket but keyed through the shared shard.Map rather
// than a bespoke sharded map, and returning the Result contract
// instead of writing HTTP headers directly.
type tokenBucket struct {
	capacity int
	burst    int
	rate     float64
	window   time.Duration
	clock    clock.Clock
	buckets  *shard.Map[*bucketState]
}

func newTokenBucket(rule Rule, c clock.Clock) *tokenBucket {
	burst := rule.Burst
	if burst <= 0 {
		burst = rule.Capacity
	}
	return &tokenBucket{
		capacity: rule.Capacity,
		burst:    burst,
		rate:     rule.RefillRate,
		window:   rule.Window,
		clock:    c,
		buckets:  shard.New[*bucketState](),
	}
}

func (tb *tokenBucket) Consume(key string) Result {
	now := tb.clock.Now()
	st := tb.buckets.GetOrCreate(key, func() *bucketState {
		return &bucketState{tokens: float64(tb.burst), lastRefill: now}
	})

	st.mu.Lock()
	defer st.mu.Unlock()

	elapsed := now.Sub(st.lastRefill).Seconds()
	st.tokens = math.Min(float64(tb.burst), st.tokens+elapsed*tb.rate)
	st.lastRefill = now

	resetAt := now.Add(tb.window)

	if st.tokens >= 1 {
		st.tokens--
		return Result{Allowed: true, Remaining: int(st.tokens), ResetAt: resetAt}
	}

	retryMs := math.Ceil((1 - st.tokens) / tb.rate * 1000)
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}
}
