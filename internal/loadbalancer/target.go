// Package loadbalancer selects one healthy target per call under one
// of six policies, grounded on the teacher's baseBalancer shape: a
// lock-free cached-healthy-slice read path backed by a mutex-guarded
// write path, generalized from the teacher's "Backend" naming to the
// spec's "Target" vocabulary.
package loadbalancer

import (
	"net/url"
	"sync"
	"sync/atomic"
)

// Target is a single backend instance within an upstream.
type Target struct {
	ID             string
	URL            string
	Weight         int
	Healthy        atomic.Bool
	ActiveRequests int64 // atomic
	ParsedURL      *url.URL
}

// NewTarget builds a Target, pre-parsing its URL and defaulting weight
// to 1 and health to true (health checker or explicit MarkUnhealthy
// corrects this once probes run).
func NewTarget(id, rawURL string, weight int) *Target {
	if weight <= 0 {
		weight = 1
	}
	t := &Target{ID: id, URL: rawURL, Weight: weight}
	t.Healthy.Store(true)
	t.ParsedURL, _ = url.Parse(rawURL)
	return t
}

func (t *Target) IncrActive() int64 { return atomic.AddInt64(&t.ActiveRequests, 1) }
func (t *Target) DecrActive() int64 { return atomic.AddInt64(&t.ActiveRequests, -1) }
func (t *Target) GetActive() int64  { return atomic.LoadInt64(&t.ActiveRequests) }
func (t *Target) IsHealthy() bool   { return t.Healthy.Load() }

// Policy is the closed set of load-balancing algorithms spec.md names.
type Policy string

const (
	PolicyRoundRobin         Policy = "round-robin"
	PolicyWeightedRoundRobin Policy = "weighted-round-robin"
	PolicyLeastConnections   Policy = "least-connections"
	PolicyIPHash             Policy = "ip-hash"
	PolicyRandom             Policy = "random"
	PolicyConsistentHash     Policy = "consistent-hash"
)

// base holds the infrastructure shared by every policy: the target
// list, an ID→index map for O(1) health marking, and a lock-free
// cached-healthy-slice for the hot read path. Sharded by upstream id
// at the registry level (see Manager), so different upstreams never
// contend on this mutex.
type base struct {
	mu            sync.RWMutex
	targets       []*Target
	idIndex       map[string]int
	cachedHealthy atomic.Value // []*Target
}

func (b *base) setTargets(targets []*Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets = targets
	b.rebuildIndexLocked()
}

func (b *base) rebuildIndexLocked() {
	b.idIndex = make(map[string]int, len(b.targets))
	for i, t := range b.targets {
		b.idIndex[t.ID] = i
	}
	b.rebuildHealthyCacheLocked()
}

func (b *base) rebuildHealthyCacheLocked() {
	healthy := make([]*Target, 0, len(b.targets))
	for _, t := range b.targets {
		if t.IsHealthy() {
			healthy = append(healthy, t)
		}
	}
	b.cachedHealthy.Store(healthy)
}

// Healthy returns the cached healthy-target slice without locking.
func (b *base) Healthy() []*Target {
	if v := b.cachedHealthy.Load(); v != nil {
		return v.([]*Target)
	}
	return nil
}

func (b *base) MarkHealthy(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.idIndex[id]; ok {
		b.targets[idx].Healthy.Store(true)
		b.rebuildHealthyCacheLocked()
	}
}

func (b *base) MarkUnhealthy(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.idIndex[id]; ok {
		b.targets[idx].Healthy.Store(false)
		b.rebuildHealthyCacheLocked()
	}
}

func (b *base) Targets() []*Target {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Target, len(b.targets))
	copy(out, b.targets)
	return out
}

func (b *base) TargetByID(id string) *Target {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if idx, ok := b.idIndex[id]; ok {
		return b.targets[idx]
	}
	return nil
}

// Balancer selects a target for a routing key (the ip-hash and
// consistent-hash policies consult key; the others ignore it).
type Balancer interface {
	Next(key string) *Target
	UpdateTargets(targets []*Target)
	MarkHealthy(id string)
	MarkUnhealthy(id string)
	Targets() []*Target
	HealthyCount() int
}

func (b *base) HealthyCount() int { return len(b.Healthy()) }

// New constructs the Balancer for the given policy. replicas is only
// consulted for PolicyConsistentHash (0 defaults to 150 per spec).
func New(policy Policy, targets []*Target, replicas int) Balancer {
	switch policy {
	case PolicyWeightedRoundRobin:
		return newWeightedRoundRobin(targets)
	case PolicyLeastConnections:
		return newLeastConnections(targets)
	case PolicyIPHash:
		return newIPHash(targets)
	case PolicyRandom:
		return newRandomPolicy(targets)
	case PolicyConsistentHash:
		return newConsistentHash(targets, replicas)
	default:
		return newRoundRobin(targets)
	}
}
