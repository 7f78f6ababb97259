package circuitbreaker

import (
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
	gwerrors "github.com/edgeworks/apigw/internal/errors"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config carries the per-upstream thresholds driving the state machine.
type Config struct {
	VolumeThreshold      int           // minimum requests observed before CLOSED can trip
	FailureThresholdFrac float64       // failures/total fraction that trips CLOSED -> OPEN
	SuccessThreshold     int           // consecutive HALF_OPEN successes needed to close
	Timeout              time.Duration // OPEN duration before a probe is allowed
}

func (c Config) withDefaults() Config {
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 10
	}
	if c.FailureThresholdFrac <= 0 {
		c.FailureThresholdFrac = 0.5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Breaker is a per-upstream CLOSED/OPEN/HALF_OPEN state machine, driven
// by explicit success/failure events from the dispatch loop.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu                  sync.Mutex
	state               State
	failures            int
	successes           int
	total               int
	lastFailure         time.Time
	earliestNextAttempt time.Time
}

// New builds a breaker in the CLOSED state.
func New(cfg Config, c clock.Clock) *Breaker {
	if c == nil {
		c = clock.Default
	}
	return &Breaker{cfg: cfg.withDefaults(), clock: c, state: StateClosed}
}

// CanExecute reports whether a request may proceed, transitioning
// OPEN -> HALF_OPEN when the timeout has elapsed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.clock.Now().Before(b.earliestNextAttempt) {
			b.state = StateHalfOpen
			b.successes = 0
			b.failures = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful upstream interaction.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
		b.total++
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.toClosedLocked()
		}
	}
}

// RecordFailure reports a failed upstream interaction.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		b.total++
		b.lastFailure = b.clock.Now()
		if b.total >= b.cfg.VolumeThreshold && float64(b.failures)/float64(b.total) >= b.cfg.FailureThresholdFrac {
			b.toOpenLocked()
		}
	case StateHalfOpen:
		// Failure in HALF_OPEN always reopens regardless of thresholds.
		b.toOpenLocked()
	}
}

func (b *Breaker) toOpenLocked() {
	b.state = StateOpen
	b.lastFailure = b.clock.Now()
	b.earliestNextAttempt = b.clock.Now().Add(b.cfg.Timeout)
	b.successes = 0
}

func (b *Breaker) toClosedLocked() {
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.total = 0
	b.earliestNextAttempt = time.Time{}
}

// ForceOpen transitions the breaker to OPEN regardless of counters.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toOpenLocked()
}

// ForceClose transitions the breaker to CLOSED regardless of counters.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosedLocked()
}

// Reset returns the breaker to a fresh CLOSED state with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosedLocked()
}

// Statistics is a point-in-time snapshot of a breaker's state and counters.
type Statistics struct {
	State               State     `json:"state"`
	Failures            int       `json:"failures"`
	Successes           int       `json:"successes"`
	Total               int       `json:"total"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	EarliestNextAttempt time.Time `json:"earliest_next_attempt,omitempty"`
}

// Statistics returns a snapshot safe for external reporting.
func (b *Breaker) Statistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Statistics{
		State:               b.state,
		Failures:            b.failures,
		Successes:           b.successes,
		Total:               b.total,
		LastFailure:         b.lastFailure,
		EarliestNextAttempt: b.earliestNextAttempt,
	}
}

// OpenError builds the gateway error surfaced when a request is
// rejected by an OPEN breaker.
func OpenError(upstreamID string) error {
	return gwerrors.CircuitOpen(upstreamID)
}
