package session

import "time"

// Backoff returns the delay before reconnect attempt n (1-based):
// base doubled n-1 times, capped at limit.
func Backoff(base, limit time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}
