package loadbalancer

import "github.com/edgeworks/apigw/internal/registry"

// Manager owns one Balancer per upstream id, so concurrent selection
// on different upstreams never contends — the sharded-by-entity-id
// discipline the concurrency model requires.
type Manager struct {
	reg *registry.Manager[Balancer]
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{reg: registry.New[Balancer]()}
}

// Register installs (or replaces) the balancer for an upstream.
func (m *Manager) Register(upstreamID string, policy Policy, targets []*Target, consistentHashReplicas int) Balancer {
	b := New(policy, targets, consistentHashReplicas)
	m.reg.Add(upstreamID, b)
	return b
}

// Get returns the balancer registered for upstreamID, if any.
func (m *Manager) Get(upstreamID string) (Balancer, bool) {
	return m.reg.Get(upstreamID)
}
