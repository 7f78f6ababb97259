package loadbalancer

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/edgeworks/apigw/internal/clock"
)

// ipHash deterministically hashes the routing key (typically client
// address) modulo the healthy target count.
type ipHash struct {
	base
}

func newIPHash(targets []*Target) *ipHash {
	h := &ipHash{}
	h.setTargets(targets)
	return h
}

func (h *ipHash) Next(key string) *Target {
	healthy := h.Healthy()
	if len(healthy) == 0 {
		return nil
	}
	idx := hashKey(key) % uint32(len(healthy))
	return healthy[idx]
}

func (h *ipHash) UpdateTargets(targets []*Target) { h.setTargets(targets) }

// randomPolicy selects a uniformly random healthy target.
type randomPolicy struct {
	base
}

func newRandomPolicy(targets []*Target) *randomPolicy {
	r := &randomPolicy{}
	r.setTargets(targets)
	return r
}

func (r *randomPolicy) Next(_ string) *Target {
	healthy := r.Healthy()
	if len(healthy) == 0 {
		return nil
	}
	return healthy[clock.DefaultRand.IntN(len(healthy))]
}

func (r *randomPolicy) UpdateTargets(targets []*Target) { r.setTargets(targets) }

// hashKey produces a 32-bit digest prefix of a cryptographic hash for
// distribution quality, per §4.2.
func hashKey(key string) uint32 {
	sum := md5.Sum([]byte(key))
	return binary.LittleEndian.Uint32(sum[:4])
}
