// ABOUTME: Exponential backoff policy for stream reconnection
// ABOUTME: Pure functions of the attempt number, independent of any I/O loop

package reconnect

import "time"

// Policy bounds reconnection by attempt count.
type Policy struct {
	Attempts int
	Base     time.Duration
}

// DefaultPolicy retries five times starting at one second.
func DefaultPolicy() Policy {
	return Policy{Attempts: 5, Base: time.Second}
}

// Delay returns the wait before the given zero-based attempt: Base doubled
// once per prior attempt. Out-of-range attempts return zero.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 || attempt >= p.Attempts {
		return 0
	}
	return p.Base << attempt
}

// Backoff is DefaultPolicy().Delay: 1s, 2s, 4s, 8s, 16s.
func Backoff(attempt int) time.Duration {
	return DefaultPolicy().Delay(attempt)
}
