package playback

import (
	"sync"
	"time"
)

// Clock abstracts the monotonic output-device clock the scheduler runs
// against, so tests can drive time manually.
type Clock interface {
	// Now returns the current position on the clock, relative to its start.
	Now() time.Duration

	// AfterFunc schedules f to run once d has elapsed on this clock.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or stopped.
	Stop() bool
}

// RealClock is a Clock backed by the Go runtime's monotonic clock.
type RealClock struct {
	epoch time.Time
}

// NewRealClock creates a clock whose zero point is now.
func NewRealClock() *RealClock {
	return &RealClock{epoch: time.Now()}
}

// Now returns elapsed time since the clock was created.
func (c *RealClock) Now() time.Duration {
	return time.Since(c.epoch)
}

// AfterFunc schedules f on the runtime timer wheel.
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}

// ManualClock is a Clock advanced explicitly by tests.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Duration
	f        func()
	stopped  bool
	fired    bool
}

// NewManualClock creates a manual clock at position zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Now returns the current manual position.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to fire when the clock is advanced past now+d.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, deadline: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward, firing due timers in deadline order.
// Callbacks run without the clock lock held so they may schedule new timers.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.deadline > target {
				continue
			}
			if next == nil || t.deadline < next.deadline {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.deadline > c.now {
			c.now = next.deadline
		}
		next.fired = true
		f := next.f
		c.mu.Unlock()

		f()
	}
}

// PendingTimers returns the number of registered timers that have not fired
// or been stopped.
func (c *ManualClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

var (
	_ Clock = (*RealClock)(nil)
	_ Clock = (*ManualClock)(nil)
)
