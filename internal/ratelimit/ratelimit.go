// Package ratelimit implements the four local rate-limit algorithms
// named in the request plane's rate-limiting contract — token bucket,
// sliding window, fixed window, adaptive — plus a remote mode that
// delegates the same contract to a backing store via scripted
// compare-and-update operations, so a key behaves identically whether
// it is evaluated locally or through the store.
package ratelimit

import (
	"time"

	"github.com/edgeworks/apigw/internal/clock"
)

// Scope names where a rate-limit key is discriminated from.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeConsumer Scope = "consumer"
	ScopeRoute    Scope = "route"
	ScopeIP       Scope = "ip"
)

// BuildKey composes the limiter key the engine uses for Consume calls:
// (rule-id, scope, scope-discriminator, optional suffix).
func BuildKey(ruleID string, scope Scope, discriminator string, suffix string) string {
	k := ruleID + "\x00" + string(scope) + "\x00" + discriminator
	if suffix != "" {
		k += "\x00" + suffix
	}
	return k
}

// Result is the outcome of a single Consume call.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when Allowed
}

// Limiter is the contract every algorithm (and the remote mode)
// implements.
type Limiter interface {
	Consume(key string) Result
}

// Algorithm names a rate-limit rule's chosen strategy.
type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token-bucket"
	AlgorithmSlidingWindow Algorithm = "sliding-window"
	AlgorithmFixedWindow   Algorithm = "fixed-window"
	AlgorithmAdaptive      Algorithm = "adaptive"
)

// Rule is a declarative rate-limit rule as carried by configuration.
type Rule struct {
	ID        string
	Algorithm Algorithm
	Scope     Scope

	// token-bucket
	Capacity   int
	RefillRate float64 // tokens/sec
	Burst      int     // defaults to Capacity

	// sliding-window / fixed-window / adaptive base
	Limit  int
	Window time.Duration
}

// New builds the local Limiter for a rule using the given clock
// (clock.Default when nil).
func New(rule Rule, c clock.Clock) Limiter {
	if c == nil {
		c = clock.Default
	}
	switch rule.Algorithm {
	case AlgorithmTokenBucket:
		return newTokenBucket(rule, c)
	case AlgorithmSlidingWindow:
		return newSlidingWindow(rule, c)
	case AlgorithmAdaptive:
		return newAdaptive(rule, c)
	default:
		return newFixedWindow(rule, c)
	}
}
