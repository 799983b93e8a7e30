// Package system is the wall clock used outside tests.
package system

import "time"

// Clock reads time.Now. Results keep their monotonic reading, so
// differences between two calls are safe to use as durations; callers
// convert to UTC when they persist or format a time.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time with its monotonic reading.
func (Clock) Now() time.Time {
	return time.Now()
}
