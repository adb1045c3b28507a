package pickup

import (
	"sync"
	"time"
)

// evictAfter is how many cooldown intervals an idle entry survives a sweep.
const evictAfter = 10

// Cooldown throttles repeated actions on the same student.
type Cooldown struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown creates a throttle with the given interval.
func NewCooldown(interval time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{interval: interval, now: now, last: make(map[string]time.Time)}
}

// Allow records an attempt for name. When the previous attempt is younger
// than the interval it returns false and the remaining wait, leaving the
// original timestamp in place.
func (c *Cooldown) Allow(name string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.last[name]; ok {
		if elapsed := now.Sub(last); elapsed < c.interval {
			return false, c.interval - elapsed
		}
	}
	c.last[name] = now
	return true, 0
}

// Sweep evicts entries older than ten intervals and returns how many it removed.
func (c *Cooldown) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-evictAfter * c.interval)
	removed := 0
	for name, last := range c.last {
		if last.Before(cutoff) {
			delete(c.last, name)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked names.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

// Reset forgets every attempt.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]time.Time)
}
