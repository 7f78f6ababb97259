package ratelimit

import (
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
	"github.com/edgeworks/apigw/internal/shard"
)

type windowCounter struct {
	mu    sync.Mutex
	count int
	start time.Time
}

// fixedWindow keys a counter to `floor(now/W)*W`; the window resets
// implicitly the first time a call observes a new window boundary.
type fixedWindow struct {
	limit  int
	window time.Duration
	clock  clock.Clock
	counts *shard.Map[*windowCounter]
}

func newFixedWindow(rule Rule, c clock.Clock) *fixedWindow {
	return &fixedWindow{
		limit:  rule.Limit,
		window: rule.Window,
		clock:  c,
		counts: shard.New[*windowCounter](),
	}
}

func windowStart(now time.Time, window time.Duration) time.Time {
	return time.Unix(0, (now.UnixNano()/int64(window))*int64(window))
}

func (fw *fixedWindow) Consume(key string) Result {
	now := fw.clock.Now()
	start := windowStart(now, fw.window)

	wc := fw.counts.GetOrCreate(key, func() *windowCounter { return &windowCounter{start: start} })

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.start.Before(start) {
		wc.start = start
		wc.count = 0
	}

	resetAt := wc.start.Add(fw.window)

	if wc.count < fw.limit {
		wc.count++
		return Result{Allowed: true, Remaining: fw.limit - wc.count, ResetAt: resetAt}
	}

	return Result{Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: resetAt.Sub(now)}
}
