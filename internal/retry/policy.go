// Package retry computes the backoff delay used by the gateway engine's
// upstream dispatch loop between retry attempts.
package retry

import (
	"math"
	"time"
)

// BaseDelay is the backoff delay used for the first retry attempt.
const BaseDelay = 100 * time.Millisecond

// Backoff returns the delay to sleep before retry attempt n, using
// 100ms * 2^(attempt-1) with no jitter and no upper bound. attempt is
// 1-indexed: the delay before the first retry is Backoff(1).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(float64(BaseDelay) * math.Pow(2, float64(attempt-1)))
}
