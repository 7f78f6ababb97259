// Package cache implements the response cache: a fingerprint-keyed
// entry store with pluggable byte-size-based eviction (lru, lfu, or
// time-based), lazy expiration on lookup, and eager expiration via
// ClearExpired.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
)

// EvictionPolicy selects which entry is sacrificed when an insertion
// would push total size over the configured max.
type EvictionPolicy string

const (
	PolicyLRU        EvictionPolicy = "lru"
	PolicyLFU        EvictionPolicy = "lfu"
	PolicyTimeBased  EvictionPolicy = "time-based"
)

// Response is the opaque snapshot a cache entry stores.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Entry is one cached response, keyed by its fingerprint.
type Entry struct {
	Fingerprint string
	Response    Response
	Size        int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	HitCount    int64
	lastAccess  time.Time
}

func (e *Entry) isExpired(now time.Time) bool { return !now.Before(e.ExpiresAt) }

// Fingerprint computes the cache key from (method, path, serialized
// query in stable order, selected vary-header values), grounded on the
// teacher's sha256 BuildKey but restricted to the fields the data
// model names — no tenant/GraphQL-specific extensions.
func Fingerprint(method, path string, query url.Values, r *http.Request, varyHeaders []string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))

	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.Write([]byte{'?'})
		for _, k := range keys {
			vals := append([]string(nil), query[k]...)
			sort.Strings(vals)
			h.Write([]byte(k))
			h.Write([]byte{'='})
			h.Write([]byte(strings.Join(vals, ",")))
			h.Write([]byte{'&'})
		}
	}

	for _, name := range varyHeaders {
		val := r.Header.Get(name)
		if val == "" {
			continue
		}
		h.Write([]byte{'|'})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(val))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Cache is a thread-safe, fingerprint-keyed, byte-size-bounded entry
// store, grounded on the teacher's container/list LRU (`cache.go`) but
// generalized to size-based capacity and a pluggable eviction policy
// instead of a fixed entry-count cap.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	size    int
	maxSize int
	policy  EvictionPolicy
	clock   clock.Clock

	hits      int64
	misses    int64
	evictions int64
}

// Config configures a Cache.
type Config struct {
	MaxSizeBytes int
	Policy       EvictionPolicy
	Clock        clock.Clock
}

// New builds an empty Cache.
func New(cfg Config) *Cache {
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyLRU
	}
	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = 64 << 20
	}
	return &Cache{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
		policy:  policy,
		clock:   c,
	}
}

// Get looks up fingerprint, lazily expiring and updating recency/hit
// count for the configured policy on every successful lookup.
func (c *Cache) Get(fingerprint string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	now := c.clock.Now()
	if e.isExpired(now) {
		c.removeLocked(fingerprint)
		c.misses++
		return nil, false
	}

	e.HitCount++
	e.lastAccess = now
	c.hits++
	return e, true
}

// Set inserts or replaces an entry, evicting per policy until the new
// entry fits within maxSize.
func (c *Cache) Set(fingerprint string, resp Response, size int, ttl time.Duration) {
	now := c.clock.Now()
	e := &Entry{
		Fingerprint: fingerprint,
		Response:    resp,
		Size:        size,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		lastAccess:  now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(fingerprint)

	for c.size+size > c.maxSize && len(c.entries) > 0 {
		if !c.evictOneLocked() {
			break
		}
	}

	c.entries[fingerprint] = e
	c.size += size
}

// Delete removes a fingerprint, if present.
func (c *Cache) Delete(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(fingerprint)
}

// ClearExpired eagerly removes every entry whose expiry has passed,
// returning the count removed.
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	cleared := 0
	for k, e := range c.entries {
		if e.isExpired(now) {
			c.removeLocked(k)
			cleared++
		}
	}
	return cleared
}

// Stats is a point-in-time snapshot of cache occupancy and hit ratio.
type Stats struct {
	Entries   int
	SizeBytes int
	MaxBytes  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns a snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		SizeBytes: c.size,
		MaxBytes:  c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) removeLocked(fingerprint string) {
	e, ok := c.entries[fingerprint]
	if !ok {
		return
	}
	c.size -= e.Size
	delete(c.entries, fingerprint)
}

// evictOneLocked removes the single worst entry under the configured
// policy: lru picks least-recently-accessed, lfu picks least total
// hits, time-based picks oldest createdAt. Returns false if there was
// nothing to evict.
func (c *Cache) evictOneLocked() bool {
	var victim string
	var found bool
	var bestTime time.Time
	var bestHits int64

	for k, e := range c.entries {
		if !found {
			victim, found = k, true
			bestTime = pickTime(c.policy, e)
			bestHits = e.HitCount
			continue
		}
		switch c.policy {
		case PolicyLFU:
			if e.HitCount < bestHits {
				victim, bestHits = k, e.HitCount
			}
		default:
			t := pickTime(c.policy, e)
			if t.Before(bestTime) {
				victim, bestTime = k, t
			}
		}
	}

	if !found {
		return false
	}
	c.removeLocked(victim)
	c.evictions++
	return true
}

func pickTime(policy EvictionPolicy, e *Entry) time.Time {
	if policy == PolicyTimeBased {
		return e.CreatedAt
	}
	return e.lastAccess
}
