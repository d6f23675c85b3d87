package session

import "sync/atomic"

// Counter is a concurrency-safe count of sessions in flight. It never goes below zero.
type Counter struct {
	n atomic.Int64
}

// Increment adds one session and returns the new count
func (c *Counter) Increment() int64 {
	return c.n.Add(1)
}

// Decrement removes one session and returns the new count.
// A decrement at zero is ignored and reports zero.
func (c *Counter) Decrement() int64 {
	for {
		current := c.n.Load()
		if current <= 0 {
			return 0
		}
		if c.n.CompareAndSwap(current, current-1) {
			return current - 1
		}
	}
}

// Snapshot returns the current count
func (c *Counter) Snapshot() int64 {
	return c.n.Load()
}
