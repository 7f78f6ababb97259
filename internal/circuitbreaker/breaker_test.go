package circuitbreaker

import (
	"testing"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
)

// fakeClock lets tests advance time deterministically instead of
// sleeping on the wall clock.
type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now.Add(d)
	return ch
}
func (f *fakeClock) NewTicker(d time.Duration) clock.Ticker { return tickerStub{} }
func (f *fakeClock) advance(d time.Duration)                { f.now = f.now.Add(d) }

type tickerStub struct{}

func (tickerStub) C() <-chan time.Time { return nil }
func (tickerStub) Stop()               {}

func TestClosedStaysClosedBelowVolumeThreshold(t *testing.T) {
	b := New(Config{VolumeThreshold: 10, FailureThresholdFrac: 0.5}, newFakeClock())
	for i := 0; i < 9; i++ {
		b.RecordFailure()
	}
	if b.Statistics().State != StateClosed {
		t.Fatal("breaker should not trip below the volume threshold")
	}
}

func TestClosedTripsOpenAtVolumeAndFraction(t *testing.T) {
	fc := newFakeClock()
	b := New(Config{VolumeThreshold: 10, FailureThresholdFrac: 0.5}, fc)
	for i := 0; i < 5; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.Statistics().State != StateOpen {
		t.Fatalf("expected OPEN at volume=10 failures=5 frac=0.5, got %s", b.Statistics().State)
	}
	if b.CanExecute() {
		t.Fatal("OPEN breaker should reject before timeout elapses")
	}
}

func TestOpenTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	fc := newFakeClock()
	b := New(Config{VolumeThreshold: 2, FailureThresholdFrac: 0.5, Timeout: 10 * time.Second}, fc)
	b.RecordFailure()
	b.RecordFailure()
	if b.Statistics().State != StateOpen {
		t.Fatal("expected OPEN")
	}

	fc.advance(5 * time.Second)
	if b.CanExecute() {
		t.Fatal("should still be rejecting before timeout elapses")
	}

	fc.advance(6 * time.Second)
	if !b.CanExecute() {
		t.Fatal("expected a probe to be allowed once the timeout has elapsed")
	}
	if b.Statistics().State != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after a successful probe admission, got %s", b.Statistics().State)
	}
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	fc := newFakeClock()
	b := New(Config{VolumeThreshold: 1, FailureThresholdFrac: 0.1, SuccessThreshold: 2, Timeout: time.Second}, fc)
	b.RecordFailure()
	fc.advance(2 * time.Second)
	b.CanExecute() // trips to half-open

	b.RecordSuccess()
	if b.Statistics().State != StateHalfOpen {
		t.Fatal("one success should not yet close a breaker requiring two")
	}
	b.RecordSuccess()
	if b.Statistics().State != StateClosed {
		t.Fatal("expected CLOSED after reaching the success threshold")
	}
}

func TestHalfOpenFailureAlwaysReopens(t *testing.T) {
	fc := newFakeClock()
	b := New(Config{VolumeThreshold: 1, FailureThresholdFrac: 0.1, SuccessThreshold: 5, Timeout: time.Second}, fc)
	b.RecordFailure()
	fc.advance(2 * time.Second)
	b.CanExecute()

	b.RecordFailure()
	if b.Statistics().State != StateOpen {
		t.Fatal("a single failure in HALF_OPEN must reopen regardless of thresholds")
	}
}

func TestForceOpenAndForceClose(t *testing.T) {
	b := New(Config{}, newFakeClock())
	b.ForceOpen()
	if b.Statistics().State != StateOpen {
		t.Fatal("expected ForceOpen to set OPEN")
	}
	b.ForceClose()
	if b.Statistics().State != StateClosed {
		t.Fatal("expected ForceClose to set CLOSED")
	}
}

func TestResetZeroesCounters(t *testing.T) {
	b := New(Config{VolumeThreshold: 1, FailureThresholdFrac: 0.1}, newFakeClock())
	b.RecordFailure()
	b.Reset()
	stats := b.Statistics()
	if stats.State != StateClosed || stats.Failures != 0 || stats.Total != 0 {
		t.Fatalf("expected zeroed CLOSED state after reset, got %+v", stats)
	}
}
