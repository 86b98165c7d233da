package silence

import (
	"sync"
	"time"
)

// ActivityClock is the shared last-activity timestamp. Both capture
// sources touch it from their own goroutines; the monitor only reads
// it. The most recent touch wins, whichever source it came from.
type ActivityClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewActivityClock creates a clock. now may be nil for time.Now;
// tests pass a deterministic function.
func NewActivityClock(now func() time.Time) *ActivityClock {
	if now == nil {
		now = time.Now
	}
	c := &ActivityClock{now: now}
	c.last = now()
	return c
}

// Touch records activity at the current time.
func (c *ActivityClock) Touch() {
	c.mu.Lock()
	c.last = c.now()
	c.mu.Unlock()
}

// IdleFor reports how long ago the last activity was.
func (c *ActivityClock) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.last)
}
