package cache

import (
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}
func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.Now().Add(d)
	return ch
}
func (f *fakeClock) NewTicker(d time.Duration) clock.Ticker { return fakeTicker{} }
func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeTicker struct{}

func (fakeTicker) C() <-chan time.Time { return nil }
func (fakeTicker) Stop()               {}

func TestFingerprintStableAcrossQueryOrder(t *testing.T) {
	r1, _ := http.NewRequest("GET", "/x?a=1&b=2", nil)
	r2, _ := http.NewRequest("GET", "/x?b=2&a=1", nil)

	fp1 := Fingerprint("GET", "/x", r1.URL.Query(), r1, nil)
	fp2 := Fingerprint("GET", "/x", r2.URL.Query(), r2, nil)
	if fp1 != fp2 {
		t.Fatal("fingerprint must be stable regardless of query parameter order")
	}
}

func TestFingerprintVariesByVaryHeader(t *testing.T) {
	r1, _ := http.NewRequest("GET", "/x", nil)
	r1.Header.Set("Accept-Encoding", "gzip")
	r2, _ := http.NewRequest("GET", "/x", nil)
	r2.Header.Set("Accept-Encoding", "br")

	fp1 := Fingerprint("GET", "/x", url.Values{}, r1, []string{"Accept-Encoding"})
	fp2 := Fingerprint("GET", "/x", url.Values{}, r2, []string{"Accept-Encoding"})
	if fp1 == fp2 {
		t.Fatal("distinct vary-header values must produce distinct fingerprints")
	}
}

func TestGetMissThenHit(t *testing.T) {
	c := New(Config{Clock: newFakeClock()})
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("k", Response{StatusCode: 200}, 10, time.Minute)
	e, ok := c.Get("k")
	if !ok || e.Response.StatusCode != 200 {
		t.Fatal("expected a hit returning the stored response")
	}
}

func TestExpiryIsLazyOnLookup(t *testing.T) {
	fc := newFakeClock()
	c := New(Config{Clock: fc})
	c.Set("k", Response{}, 10, time.Second)

	fc.advance(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss on lookup")
	}
}

func TestClearExpiredRemovesOnlyExpired(t *testing.T) {
	fc := newFakeClock()
	c := New(Config{Clock: fc})
	c.Set("expired", Response{}, 10, time.Second)
	c.Set("fresh", Response{}, 10, time.Hour)

	fc.advance(2 * time.Second)
	n := c.ClearExpired()
	if n != 1 {
		t.Fatalf("expected exactly one expired entry cleared, got %d", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("fresh entry should survive ClearExpired")
	}
}

func TestSizeBoundEnforcedAfterInsert(t *testing.T) {
	c := New(Config{MaxSizeBytes: 25, Policy: PolicyLRU, Clock: newFakeClock()})
	c.Set("a", Response{}, 10, time.Hour)
	c.Set("b", Response{}, 10, time.Hour)
	c.Set("c", Response{}, 10, time.Hour) // should evict to stay <= 25

	stats := c.Stats()
	if stats.SizeBytes > 25 {
		t.Fatalf("total cache size must stay <= max_size, got %d", stats.SizeBytes)
	}
}

func TestLRUEvictsLeastRecentlyAccessed(t *testing.T) {
	fc := newFakeClock()
	c := New(Config{MaxSizeBytes: 20, Policy: PolicyLRU, Clock: fc})
	c.Set("a", Response{}, 10, time.Hour)
	c.Set("b", Response{}, 10, time.Hour)

	fc.advance(time.Second)
	c.Get("a") // touch a, making b the least-recently-used

	c.Set("c", Response{}, 10, time.Hour) // forces exactly one eviction

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b (least recently used) to have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a (recently touched) to survive")
	}
}

func TestLFUEvictsLeastHit(t *testing.T) {
	c := New(Config{MaxSizeBytes: 20, Policy: PolicyLFU, Clock: newFakeClock()})
	c.Set("a", Response{}, 10, time.Hour)
	c.Set("b", Response{}, 10, time.Hour)

	c.Get("a")
	c.Get("a")
	c.Get("b")

	c.Set("c", Response{}, 10, time.Hour)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b (fewer hits) to have been evicted under lfu")
	}
}
