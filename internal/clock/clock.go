// Package clock provides an injectable notion of time and randomness
// so control loops (token refill, health-check ticking, circuit-breaker
// timeouts, consistent-hash tie-breaking) can be driven deterministically
// in tests instead of sleeping on the wall clock.
package clock

import (
	"math/rand/v2"
	"time"
)

// Clock abstracts time.Now and time.After/NewTicker for testability.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker abstracts *time.Ticker so fakes can control firing.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the actual wall clock.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time  { return time.After(d) }
func (Real) NewTicker(d time.Duration) Ticker        { return &realTicker{t: time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Default is the process-wide real clock. Components take a Clock
// parameter defaulting to this so callers never need to thread one
// through unless a test wants determinism.
var Default Clock = Real{}

// Rand abstracts the RNG used by the random load-balancer policy and
// by jitter-free backoff scheduling (kept for symmetry even though the
// retry formula here has no jitter term).
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// realRand wraps math/rand/v2's package-level generator, which is
// already safe for concurrent use.
type realRand struct{}

func (realRand) IntN(n int) int    { return rand.IntN(n) }
func (realRand) Float64() float64  { return rand.Float64() }

// DefaultRand is the process-wide RNG.
var DefaultRand Rand = realRand{}
