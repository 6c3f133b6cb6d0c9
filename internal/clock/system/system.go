// Package system provides the wall clock used for site status timestamps.
package system

import "time"

// Clock implements crawler.Clock on time.Now, always in UTC.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to microseconds, the precision
// Postgres keeps for TIMESTAMPTZ.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
