package engine

import "time"

// Clock tracks elapsed simulation time. It only moves forward.
type Clock struct {
	elapsed time.Duration
}

// NewClock returns a clock at zero.
func NewClock() *Clock {
	return &Clock{}
}

// Advance moves the clock forward by dt. Negative steps are ignored.
func (c *Clock) Advance(dt time.Duration) {
	if dt <= 0 {
		return
	}
	c.elapsed += dt
}

// Elapsed returns the total simulated time.
func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}

// ElapsedSeconds returns whole seconds elapsed; sub-second time is truncated.
func (c *Clock) ElapsedSeconds() int {
	return int(c.elapsed / time.Second)
}
