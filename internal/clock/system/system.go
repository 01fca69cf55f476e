// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reports the current time in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a Clock reporting UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// In returns a Clock reporting times in loc.
func In(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time. The monotonic reading is kept so durations
// computed from two calls are immune to wall clock steps.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
