package loadbalancer

import "testing"

func twoTargets() []*Target {
	return []*Target{
		NewTarget("A", "http://a", 1),
		NewTarget("B", "http://b", 1),
	}
}

func TestRoundRobinAlternatesDeterministically(t *testing.T) {
	rr := newRoundRobin(twoTargets())

	first := rr.Next("")
	second := rr.Next("")
	third := rr.Next("")

	if first.ID != "A" || second.ID != "B" || third.ID != "A" {
		t.Fatalf("expected A,B,A got %s,%s,%s", first.ID, second.ID, third.ID)
	}
}

func TestNoHealthyTargetsReturnsNil(t *testing.T) {
	targets := twoTargets()
	for _, tg := range targets {
		tg.Healthy.Store(false)
	}
	rr := newRoundRobin(targets)
	if got := rr.Next(""); got != nil {
		t.Fatalf("expected nil when no healthy targets, got %v", got)
	}
}

func TestWeightedRoundRobinRespectsBands(t *testing.T) {
	targets := []*Target{
		NewTarget("A", "http://a", 3),
		NewTarget("B", "http://b", 1),
	}
	wrr := newWeightedRoundRobin(targets)

	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		counts[wrr.Next("").ID]++
	}
	// A has weight 3 of 4 total => ~300; allow generous tolerance.
	if counts["A"] < 250 || counts["A"] > 350 {
		t.Fatalf("expected A around 300/400, got %d", counts["A"])
	}
}

func TestLeastConnectionsPicksSmallest(t *testing.T) {
	targets := twoTargets()
	targets[0].IncrActive()
	targets[0].IncrActive()
	lc := newLeastConnections(targets)

	got := lc.Next("")
	if got.ID != "B" {
		t.Fatalf("expected B (fewer active conns), got %s", got.ID)
	}
}

func TestConsistentHashStableForSameKey(t *testing.T) {
	targets := []*Target{
		NewTarget("t1", "http://t1", 1),
		NewTarget("t2", "http://t2", 1),
		NewTarget("t3", "http://t3", 1),
	}
	ch := newConsistentHash(targets, 150)

	first := ch.Next("/a")
	second := ch.Next("/a")
	if first.ID != second.ID {
		t.Fatalf("expected stable routing for identical key, got %s then %s", first.ID, second.ID)
	}
}

func TestConsistentHashSurvivesTargetRemoval(t *testing.T) {
	targets := []*Target{
		NewTarget("t1", "http://t1", 1),
		NewTarget("t2", "http://t2", 1),
		NewTarget("t3", "http://t3", 1),
	}
	ch := newConsistentHash(targets, 150)

	keys := []string{"/a", "/b", "/c", "/d", "/e", "/f", "/g", "/h"}
	before := make(map[string]string, len(keys))
	for _, k := range keys {
		before[k] = ch.Next(k).ID
	}

	ch.MarkUnhealthy("t1")

	reassigned := 0
	for _, k := range keys {
		after := ch.Next(k).ID
		if before[k] != "t1" && before[k] != after {
			reassigned++
		}
	}
	if reassigned != 0 {
		t.Fatalf("keys not routed to the removed target should not move, %d moved", reassigned)
	}
}

func TestIPHashDeterministic(t *testing.T) {
	h := newIPHash(twoTargets())
	a := h.Next("203.0.113.5")
	b := h.Next("203.0.113.5")
	if a.ID != b.ID {
		t.Fatal("ip-hash must be deterministic for the same key")
	}
}
