package circuitbreaker

import (
	"github.com/edgeworks/apigw/internal/clock"
	"github.com/edgeworks/apigw/internal/registry"
)

// Manager owns one Breaker per upstream id, matching the sharded-by-
// entity-id concurrency rule for request-plane-owned state.
type Manager struct {
	reg   *registry.Manager[*Breaker]
	clock clock.Clock
}

// NewManager builds an empty Manager on clock c, or on the real clock
// when c is nil.
func NewManager(c clock.Clock) *Manager {
	if c == nil {
		c = clock.Default
	}
	return &Manager{reg: registry.New[*Breaker](), clock: c}
}

// GetOrCreate returns the breaker for upstreamID, creating one from cfg
// on first use.
func (m *Manager) GetOrCreate(upstreamID string, cfg Config) *Breaker {
	return m.reg.GetOrCreate(upstreamID, func() *Breaker {
		return New(cfg, m.clock)
	})
}

// Get returns the breaker registered for upstreamID, if any.
func (m *Manager) Get(upstreamID string) (*Breaker, bool) {
	return m.reg.Get(upstreamID)
}

// Statistics returns a snapshot of every registered breaker, keyed by
// upstream id.
func (m *Manager) Statistics() map[string]Statistics {
	out := make(map[string]Statistics, m.reg.Len())
	m.reg.Range(func(id string, b *Breaker) bool {
		out[id] = b.Statistics()
		return true
	})
	return out
}
