package clock

import "time"

// Clock abstracts time for code whose behavior depends on ordering, so
// tests can drive it deterministically.
type Clock interface {
	Now() time.Time
}

type clock struct{}

// New returns the real wall clock.
func New() Clock {
	return &clock{}
}

func (c *clock) Now() time.Time {
	return time.Now()
}

// ManagedClock is a hand-advanced clock for tests.
type ManagedClock struct {
	startTime time.Time
	offset    time.Duration
}

// NewManaged returns a managed clock frozen at startTime.
func NewManaged(startTime time.Time) *ManagedClock {
	return &ManagedClock{startTime: startTime}
}

// Now returns the current managed time.
func (c *ManagedClock) Now() time.Time {
	return c.startTime.Add(c.offset)
}

// WarpForward moves time forward by offset and returns the new time.
func (c *ManagedClock) WarpForward(offset time.Duration) time.Time {
	c.offset += offset
	return c.startTime.Add(c.offset)
}
