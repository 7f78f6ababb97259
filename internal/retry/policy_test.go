package retry

import (
	"testing"
	"time"
)

func TestBackoffDoubles(t *testing.T) {
	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoffNonPositiveAttempt(t *testing.T) {
	if got := Backoff(0); got != 0 {
		t.Errorf("Backoff(0) = %v, want 0", got)
	}
	if got := Backoff(-1); got != 0 {
		t.Errorf("Backoff(-1) = %v, want 0", got)
	}
}
