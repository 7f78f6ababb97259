// Package shard provides a concurrent map split into a fixed number of
// lock-striped partitions, so distinct entity keys (rate-limit key,
// upstream id, cache fingerprint) never contend on the same mutex. This
// generalizes the teacher's ratelimit-local shardedMap into a shared
// building block; internal/ratelimit is the package that uses it, for
// its per-key limiter state.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

type partition[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// Map is a concurrent map partitioned by an xxhash of the key.
type Map[V any] struct {
	parts []partition[V]
}

// New creates a Map with the default shard count.
func New[V any]() *Map[V] {
	return NewN[V](defaultShards)
}

// NewN creates a Map with an explicit shard count.
func NewN[V any](n int) *Map[V] {
	if n <= 0 {
		n = defaultShards
	}
	m := &Map[V]{parts: make([]partition[V], n)}
	for i := range m.parts {
		m.parts[i].items = make(map[string]V)
	}
	return m
}

func (m *Map[V]) partitionFor(key string) *partition[V] {
	h := xxhash.Sum64String(key)
	return &m.parts[h%uint64(len(m.parts))]
}

// GetOrCreate returns the value for key, creating it with init if
// absent. The partition lock is held during init; keep init cheap.
func (m *Map[V]) GetOrCreate(key string, init func() V) V {
	p := m.partitionFor(key)
	p.mu.Lock()
	v, ok := p.items[key]
	if !ok {
		v = init()
		p.items[key] = v
	}
	p.mu.Unlock()
	return v
}

// Get returns the value for key and whether it existed.
func (m *Map[V]) Get(key string) (V, bool) {
	p := m.partitionFor(key)
	p.mu.Lock()
	v, ok := p.items[key]
	p.mu.Unlock()
	return v, ok
}

// Set stores a value for key.
func (m *Map[V]) Set(key string, v V) {
	p := m.partitionFor(key)
	p.mu.Lock()
	p.items[key] = v
	p.mu.Unlock()
}

// Delete removes key, if present.
func (m *Map[V]) Delete(key string) {
	p := m.partitionFor(key)
	p.mu.Lock()
	delete(p.items, key)
	p.mu.Unlock()
}

// DeleteFunc iterates all partitions and deletes entries for which fn
// returns true. Used for periodic cleanup of idle rate-limit buckets.
func (m *Map[V]) DeleteFunc(fn func(key string, v V) bool) {
	for i := range m.parts {
		p := &m.parts[i]
		p.mu.Lock()
		for k, v := range p.items {
			if fn(k, v) {
				delete(p.items, k)
			}
		}
		p.mu.Unlock()
	}
}

// Len returns the total number of entries across all partitions. It is
// an approximation under concurrent writers, adequate for metrics.
func (m *Map[V]) Len() int {
	n := 0
	for i := range m.parts {
		p := &m.parts[i]
		p.mu.Lock()
		n += len(p.items)
		p.mu.Unlock()
	}
	return n
}
