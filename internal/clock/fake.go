package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
type FakeClock struct {
	mu        sync.Mutex
	now       time.Time
	seq       uint64
	pending   []*fakeTimer
	advancing bool
}

type fakeTimer struct {
	seq      uint64
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
	deferred bool // armed with d <= 0 inside a callback; waits for the next Advance
}

func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run when the clock is advanced past now+d. A
// non-positive d runs on the next Advance. When armed from a callback that
// Advance is currently running, it waits for the following Advance, so a
// callback that re-arms itself with a zero delay runs once per Advance.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	ft := &fakeTimer{seq: c.seq, deadline: c.now.Add(d), fn: f, deferred: d <= 0 && c.advancing}
	c.pending = append(c.pending, ft)

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.stopped || ft.fired {
			return false
		}
		ft.stopped = true
		return true
	}}
}

// Advance moves time forward by d and runs every timer whose deadline has
// been reached, earliest first. Timers scheduled by those callbacks also run
// if they fall inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.advancing = true
	for _, ft := range c.pending {
		ft.deferred = false
	}
	c.mu.Unlock()

	for {
		next := c.popDue(target)
		if next == nil {
			break
		}
		next.fn()
	}

	c.mu.Lock()
	c.now = target
	c.advancing = false
	c.mu.Unlock()
}

func (c *FakeClock) popDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.pending[:0]
	for _, ft := range c.pending {
		if !ft.stopped && !ft.fired {
			live = append(live, ft)
		}
	}
	c.pending = live

	sort.SliceStable(c.pending, func(i, j int) bool {
		if c.pending[i].deadline.Equal(c.pending[j].deadline) {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].deadline.Before(c.pending[j].deadline)
	})
	var ft *fakeTimer
	for _, candidate := range c.pending {
		if !candidate.deferred {
			ft = candidate
			break
		}
	}
	if ft == nil || ft.deadline.After(target) {
		return nil
	}

	ft.fired = true
	if ft.deadline.After(c.now) {
		c.now = ft.deadline
	}
	return ft
}

// Pending reports how many timers are armed and not yet fired.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ft := range c.pending {
		if !ft.stopped && !ft.fired {
			n++
		}
	}
	return n
}
