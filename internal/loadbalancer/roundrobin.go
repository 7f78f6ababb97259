package loadbalancer

import (
	"sync"
	"sync/atomic"
)

// roundRobin is a per-upstream monotonic counter modulo target count,
// grounded on the teacher's RoundRobin (lock-free read via the cached
// healthy slice, atomic counter for the hot path).
type roundRobin struct {
	base
	counter uint64
}

func newRoundRobin(targets []*Target) *roundRobin {
	rr := &roundRobin{}
	rr.setTargets(targets)
	return rr
}

func (rr *roundRobin) Next(_ string) *Target {
	healthy := rr.Healthy()
	if len(healthy) == 0 {
		return nil
	}
	if len(healthy) == 1 {
		return healthy[0]
	}
	idx := atomic.AddUint64(&rr.counter, 1) - 1
	return healthy[idx%uint64(len(healthy))]
}

func (rr *roundRobin) UpdateTargets(targets []*Target) { rr.setTargets(targets) }

// weightedRoundRobin implements the counter-modulo-weight-sum,
// walk-accumulating-bands algorithm from §4.2: advance a counter
// modulo the sum of healthy weights, then walk targets accumulating
// weight until the counter falls inside a target's band. The
// cumulative-weight table is only recomputed when the healthy set
// changes, mirroring the teacher's WRR habit of caching derived
// balancer state and invalidating it on a healthy-set change rather
// than recomputing every call.
type weightedRoundRobin struct {
	base
	mu          sync.Mutex
	counter     uint64
	healthySnap []*Target
	cumWeights  []int
	totalWeight int
}

func newWeightedRoundRobin(targets []*Target) *weightedRoundRobin {
	wrr := &weightedRoundRobin{}
	wrr.setTargets(targets)
	return wrr
}

func (wrr *weightedRoundRobin) Next(_ string) *Target {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	healthy := wrr.Healthy()
	if len(healthy) == 0 {
		return nil
	}
	if len(healthy) == 1 {
		return healthy[0]
	}

	if !sameSlice(healthy, wrr.healthySnap) {
		wrr.rebuildBands(healthy)
	}

	idx := atomic.AddUint64(&wrr.counter, 1) - 1
	band := int(idx % uint64(wrr.totalWeight))
	for i, cum := range wrr.cumWeights {
		if band < cum {
			return healthy[i]
		}
	}
	return healthy[len(healthy)-1]
}

func (wrr *weightedRoundRobin) rebuildBands(healthy []*Target) {
	cum := make([]int, len(healthy))
	total := 0
	for i, t := range healthy {
		total += t.Weight
		cum[i] = total
	}
	wrr.cumWeights = cum
	wrr.totalWeight = total
	wrr.healthySnap = healthy
}

func (wrr *weightedRoundRobin) UpdateTargets(targets []*Target) {
	wrr.setTargets(targets)
	wrr.mu.Lock()
	wrr.healthySnap = nil
	wrr.mu.Unlock()
}

func sameSlice(a, b []*Target) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
