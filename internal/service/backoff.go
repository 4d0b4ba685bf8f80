package service

import (
	"math/rand"
	"time"
)

// retryBackoff computes the delay before retry number `attempts` using
// base * 2^(attempts-1) plus uniform jitter in [0, jitter). The delay has no
// explicit ceiling; the attempt budget caps total retries instead.
// Parameters:
//   - base: first-retry delay.
//   - jitter: jitter interval width.
//   - attempts: attempt count after the failure (1-based).
// Returns:
//   - time.Duration: delay before the next run.
func retryBackoff(base, jitter time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base << uint(attempts-1)
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}
	return delay
}
