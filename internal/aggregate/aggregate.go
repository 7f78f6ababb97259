// Package aggregate computes the request-plane's observability
// rollup: every completed request's structured record feeds a
// bounded-window-and-count store, symmetric with the response
// cache's own retention discipline (lazy pruning at access time, no
// background sweep), from which totals, rates, and latency
// percentiles are derived on demand.
package aggregate

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
)

// Record is one completed request's observability entry.
type Record struct {
	RouteID     string
	ConsumerID  string
	Method      string
	Path        string
	Status      int
	Duration    time.Duration
	UpstreamID  string
	Cached      bool
	RateLimited bool
	Arrival     time.Time
}

// Config bounds how many records Aggregator retains: at most Window
// old and at most MaxCount many, whichever is smaller.
type Config struct {
	Window   time.Duration
	MaxCount int
	Clock    clock.Clock
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.MaxCount <= 0 {
		c.MaxCount = 100_000
	}
	if c.Clock == nil {
		c.Clock = clock.Default
	}
	return c
}

// Aggregator is a thread-safe ring of recent Records plus the
// rollup computation over them.
type Aggregator struct {
	mu      sync.Mutex
	cfg     Config
	records []Record // oldest first
}

// New builds an empty Aggregator.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg.withDefaults()}
}

// Record appends rec and prunes anything that has fallen outside the
// retention window or count, lazily, on this same call — there is no
// background sweep.
func (a *Aggregator) Record(rec Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = append(a.records, rec)
	a.pruneLocked()
}

func (a *Aggregator) pruneLocked() {
	now := a.cfg.Clock.Now()
	cutoff := now.Add(-a.cfg.Window)

	start := 0
	for start < len(a.records) && a.records[start].Arrival.Before(cutoff) {
		start++
	}
	if start > 0 {
		a.records = append(a.records[:0], a.records[start:]...)
	}

	if over := len(a.records) - a.cfg.MaxCount; over > 0 {
		a.records = append(a.records[:0], a.records[over:]...)
	}
}

// Stats is the computed rollup over the currently retained records.
type Stats struct {
	Total           int
	SuccessRate     float64
	ErrorRate       float64 // fraction with status >= 500
	CacheHitRate    float64
	RateLimitedRate float64
	AvgLatency      time.Duration
	P50             time.Duration
	P95             time.Duration
	P99             time.Duration
	RequestsPerSec  float64
}

// Stats computes the rollup over every currently retained record.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked()

	n := len(a.records)
	if n == 0 {
		return Stats{}
	}

	var success, errors5xx, cached, limited int
	var totalLatency time.Duration
	latencies := make([]time.Duration, n)
	earliest, latest := a.records[0].Arrival, a.records[0].Arrival

	for i, r := range a.records {
		latencies[i] = r.Duration
		totalLatency += r.Duration
		if r.Status < 400 {
			success++
		}
		if r.Status >= 500 {
			errors5xx++
		}
		if r.Cached {
			cached++
		}
		if r.RateLimited {
			limited++
		}
		if r.Arrival.Before(earliest) {
			earliest = r.Arrival
		}
		if r.Arrival.After(latest) {
			latest = r.Arrival
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	span := latest.Sub(earliest).Seconds()
	rps := 0.0
	if span > 0 {
		rps = float64(n) / span
	} else if n > 0 {
		rps = float64(n)
	}

	return Stats{
		Total:           n,
		SuccessRate:     float64(success) / float64(n),
		ErrorRate:       float64(errors5xx) / float64(n),
		CacheHitRate:    float64(cached) / float64(n),
		RateLimitedRate: float64(limited) / float64(n),
		AvgLatency:      totalLatency / time.Duration(n),
		P50:             percentile(latencies, 0.50),
		P95:             percentile(latencies, 0.95),
		P99:             percentile(latencies, 0.99),
		RequestsPerSec:  rps,
	}
}

// percentile implements the sorted-copy percentile the observability
// contract names: sorted[ceil(n*p) - 1], on an already-sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
