package ratelimit

import (
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
	"github.com/edgeworks/apigw/internal/shard"
)

type timestampLog struct {
	mu   sync.Mutex
	arrv []time.Time
}

// slidingWindow keeps the exact ordered arrival-timestamp list within
// [now-W, now] per key, allowing a request iff count < limit. This is
// the precise log-based algorithm rather than the teacher's
// interpolated two-window estimator (SlidingWindowCounter) — O(1)
// memory was traded for exact round-trip behavior under the
// testable-properties contract, which requires the retry-after hint to
// equal exactly `oldest + W - now` on denial.
type slidingWindow struct {
	limit  int
	window time.Duration
	clock  clock.Clock
	logs   *shard.Map[*timestampLog]
}

func newSlidingWindow(rule Rule, c clock.Clock) *slidingWindow {
	return &slidingWindow{
		limit:  rule.Limit,
		window: rule.Window,
		clock:  c,
		logs:   shard.New[*timestampLog](),
	}
}

func (sw *slidingWindow) Consume(key string) Result {
	now := sw.clock.Now()
	cutoff := now.Add(-sw.window)

	log := sw.logs.GetOrCreate(key, func() *timestampLog { return &timestampLog{} })

	log.mu.Lock()
	defer log.mu.Unlock()

	kept := log.arrv[:0]
	for _, ts := range log.arrv {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	log.arrv = kept

	if len(log.arrv) < sw.limit {
		log.arrv = append(log.arrv, now)
		return Result{
			Allowed:   true,
			Remaining: sw.limit - len(log.arrv),
			ResetAt:   now.Add(sw.window),
		}
	}

	oldest := log.arrv[0]
	retryAfter := oldest.Add(sw.window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    oldest.Add(sw.window),
		RetryAfter: retryAfter,
	}
}
