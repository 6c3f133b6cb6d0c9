package simple

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"
)

// Retry decides whether a failed fetch is attempted again. Only network
// failures are retried; robots refusals and parse errors are final.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry allows three attempts with a 250ms..5s jittered backoff.
func DefaultRetry() Retry {
	return Retry{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// ShouldRetry reports whether another attempt follows attempt (1-based) failing with err.
func (r Retry) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= r.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Backoff returns the pause before retry number attempt (0-based): half the
// exponential delay plus up to the same amount of jitter.
func (r Retry) Backoff(attempt int) time.Duration {
	delay := r.BaseDelay << attempt
	if delay <= 0 || (r.MaxDelay > 0 && delay > r.MaxDelay) {
		delay = r.MaxDelay
	}
	half := delay / 2
	if half <= 0 {
		return 0
	}
	return half + rand.N(half)
}
