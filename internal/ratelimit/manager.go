package ratelimit

import (
	"github.com/edgeworks/apigw/internal/clock"
	"github.com/edgeworks/apigw/internal/registry"
)

// Manager owns one Limiter per rule id.
type Manager struct {
	reg   *registry.Manager[Limiter]
	clock clock.Clock
}

// NewManager builds an empty Manager.
func NewManager(c clock.Clock) *Manager {
	if c == nil {
		c = clock.Default
	}
	return &Manager{reg: registry.New[Limiter](), clock: c}
}

// Register installs the local limiter for rule.ID.
func (m *Manager) Register(rule Rule) Limiter {
	l := New(rule, m.clock)
	m.reg.Add(rule.ID, l)
	return l
}

// RegisterRemote installs a Redis-backed limiter for rule.ID.
func (m *Manager) RegisterRemote(ruleID string, remote *Remote) {
	m.reg.Add(ruleID, remote)
}

// Get returns the limiter registered for ruleID, if any.
func (m *Manager) Get(ruleID string) (Limiter, bool) {
	return m.reg.Get(ruleID)
}
