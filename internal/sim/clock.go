package sim

import "time"

// Clock is the shared simulation clock: a duration since the last reset,
// advanced only by fixed steps. It implements battle.Clock.
type Clock struct {
	now time.Duration
}

// Now returns the elapsed simulation time.
func (c *Clock) Now() time.Duration {
	if c == nil {
		return 0
	}
	return c.now
}

// Reset rewinds the clock to zero.
func (c *Clock) Reset() {
	if c != nil {
		c.now = 0
	}
}

// Advance moves the clock forward by dt and returns the new time.
func (c *Clock) Advance(dt time.Duration) time.Duration {
	if c == nil {
		return 0
	}
	if dt > 0 {
		c.now += dt
	}
	return c.now
}

// Set jumps to an authoritative time received from the server.
func (c *Clock) Set(now time.Duration) {
	if c != nil && now >= 0 {
		c.now = now
	}
}
