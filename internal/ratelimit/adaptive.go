package ratelimit

import (
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
	"github.com/edgeworks/apigw/internal/shard"
)

const (
	adaptiveTargetResponseTime = 200 * time.Millisecond
	adaptiveTargetErrorRate    = 0.10
	adaptiveHealthyAvgFactor   = 0.8
	adaptiveHealthyErrFactor   = 0.5
	adaptiveHealthyGrowth      = 1.1
	adaptiveMinFactor          = 0.5
	adaptiveMaxFactor          = 2.0
)

type adaptiveWindow struct {
	mu    sync.Mutex
	start time.Time
	count int

	currentLimit int

	// accumulated during the current window, turned into that window's
	// mean latency and error rate at the next window boundary
	sumLatency   time.Duration
	totalSamples int
	errorSamples int

	avgLatency time.Duration
	errorRate  float64
}

// Adaptive is the extended contract an adaptive limiter exposes beyond
// Limiter, so the engine can feed per-request outcomes back in.
type Adaptive interface {
	Limiter
	RecordOutcome(key string, latency time.Duration, success bool)
}

// adaptive is a fixed-window base whose limit is recomputed at each
// window boundary from the previous window's mean response time and
// error rate, per the scaling rule: scale down toward the
// target when latency or errors exceed target, scale up by 10% when
// both are comfortably under target, clamped to [0.5x, 2x] of the
// configured base limit.
type adaptive struct {
	baseLimit int
	window    time.Duration
	clock     clock.Clock
	windows   *shard.Map[*adaptiveWindow]
}

func newAdaptive(rule Rule, c clock.Clock) *adaptive {
	return &adaptive{
		baseLimit: rule.Limit,
		window:    rule.Window,
		clock:     c,
		windows:   shard.New[*adaptiveWindow](),
	}
}

func (a *adaptive) Consume(key string) Result {
	now := a.clock.Now()
	start := windowStart(now, a.window)

	aw := a.windows.GetOrCreate(key, func() *adaptiveWindow {
		return &adaptiveWindow{start: start, currentLimit: a.baseLimit}
	})

	aw.mu.Lock()
	defer aw.mu.Unlock()

	if aw.start.Before(start) {
		aw.rescale(a.baseLimit)
		aw.start = start
		aw.count = 0
		aw.sumLatency = 0
		aw.totalSamples = 0
		aw.errorSamples = 0
	}

	resetAt := aw.start.Add(a.window)

	if aw.count < aw.currentLimit {
		aw.count++
		return Result{Allowed: true, Remaining: aw.currentLimit - aw.count, ResetAt: resetAt}
	}
	return Result{Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: resetAt.Sub(now)}
}

// RecordOutcome feeds a completed upstream interaction's latency and
// success flag into the current window's samples, whose mean the next
// window boundary will scale from. The engine calls this once per dispatched request.
func (a *adaptive) RecordOutcome(key string, latency time.Duration, success bool) {
	aw, ok := a.windows.Get(key)
	if !ok {
		return
	}
	aw.mu.Lock()
	defer aw.mu.Unlock()
	aw.sumLatency += latency
	aw.totalSamples++
	if !success {
		aw.errorSamples++
	}
}

// rescale replaces the averages with the just-completed window's mean
// latency and error rate (keeping the previous values when that window
// had no samples) and recomputes currentLimit from them, applying the
// scaling rule against baseLimit.
func (aw *adaptiveWindow) rescale(baseLimit int) {
	if aw.totalSamples > 0 {
		aw.avgLatency = aw.sumLatency / time.Duration(aw.totalSamples)
		aw.errorRate = float64(aw.errorSamples) / float64(aw.totalSamples)
	}

	limit := float64(aw.currentLimit)
	if aw.currentLimit == 0 {
		limit = float64(baseLimit)
	}

	switch {
	case aw.avgLatency > adaptiveTargetResponseTime:
		limit = limit * (float64(adaptiveTargetResponseTime) / float64(aw.avgLatency))
	case aw.errorRate > adaptiveTargetErrorRate:
		limit = limit * (adaptiveTargetErrorRate / aw.errorRate)
	case aw.avgLatency < adaptiveHealthyAvgFactor*adaptiveTargetResponseTime &&
		aw.errorRate < adaptiveHealthyErrFactor*adaptiveTargetErrorRate:
		limit = limit * adaptiveHealthyGrowth
	}

	min := adaptiveMinFactor * float64(baseLimit)
	max := adaptiveMaxFactor * float64(baseLimit)
	if limit < min {
		limit = min
	}
	if limit > max {
		limit = max
	}

	aw.currentLimit = int(limit)
	if aw.currentLimit < 1 {
		aw.currentLimit = 1
	}
}
