package simple

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestRetryShouldRetry(t *testing.T) {
	t.Parallel()

	r := DefaultRetry()
	netErr := fmt.Errorf("colly visit failed: %w", timeoutErr{})

	require.True(t, r.ShouldRetry(netErr, 1))
	require.True(t, r.ShouldRetry(netErr, 2))
	require.False(t, r.ShouldRetry(netErr, 3), "attempts exhausted")
	require.False(t, r.ShouldRetry(nil, 1))
	require.False(t, r.ShouldRetry(errors.New("url disallowed by robots.txt"), 1))
	require.False(t, r.ShouldRetry(fmt.Errorf("fetch: %w", context.Canceled), 1))
}

func TestRetryBackoffBounds(t *testing.T) {
	t.Parallel()

	r := Retry{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for attempt := range 8 {
		full := min(r.BaseDelay<<attempt, r.MaxDelay)
		got := r.Backoff(attempt)
		require.GreaterOrEqual(t, got, full/2)
		require.Less(t, got, full)
	}
	require.Zero(t, Retry{}.Backoff(0))
}
