// Package backoff provides exponential backoff policies for retry and
// reconnect logic.
package backoff

import (
	"math"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor is the exponential factor applied per attempt.
	Factor float64
}

// Delay calculates the backoff duration for a given attempt number.
// The formula is min(max, initial * factor^(attempt-1)). Attempt
// numbers start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	capped := math.Min(float64(p.Max), base)
	return time.Duration(capped)
}

// Reconnect returns the policy used for remote skill source
// reconnection: 5s initial, doubling, capped at 60s.
func Reconnect() Policy {
	return Policy{
		Initial: 5 * time.Second,
		Max:     60 * time.Second,
		Factor:  2,
	}
}
