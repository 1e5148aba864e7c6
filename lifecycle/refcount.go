package lifecycle

import "sync/atomic"

// RefCount is a lock-free atomic reference counter.
//
// It carries no mutual-exclusion guarantee: holding a reference extends the
// lifetime of the counted object, nothing more. The zero value is a valid
// counter with a count of zero.
type RefCount struct {
	n atomic.Uint32
}

// Retain increments the count and returns the new value.
func (c *RefCount) Retain() uint32 {
	return c.n.Add(1)
}

// TryRetain increments the count only if it is still above zero. It returns
// false once the count has reached zero, i.e. once destruction of the owning
// object may already be underway.
func (c *RefCount) TryRetain() bool {
	for {
		n := c.n.Load()
		if n == 0 {
			return false
		}
		if c.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release decrements the count and returns the new value. The caller that
// observes zero owns destruction of the counted object.
func (c *RefCount) Release() uint32 {
	return c.n.Add(^uint32(0))
}

// Count returns the current count. It is inherently racy and intended for
// tests and diagnostics only.
func (c *RefCount) Count() uint32 {
	return c.n.Load()
}
