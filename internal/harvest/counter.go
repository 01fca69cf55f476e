package harvest

import "sync/atomic"

// Counter is an integer cell shared between workers. Every operation is a
// single atomic read-modify-write, so concurrent increments are never lost.
type Counter struct {
	v atomic.Int64
}

// Inc adds one to the counter.
func (c *Counter) Inc() {
	c.v.Add(1)
}

// Dec subtracts one from the counter.
func (c *Counter) Dec() {
	c.v.Add(-1)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.v.Load()
}
