// Package system provides the wall clock used outside of tests.
package system

import "time"

// Resolution is the precision of timestamps handed out by Clock. It matches
// Postgres timestamptz so results read back from the database compare equal.
const Resolution = time.Microsecond

// Clock implements validator.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Resolution. Truncation also
// drops the monotonic reading, so credential window deadlines are plain wall
// times.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Resolution)
}
