package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_AfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	c.AfterFunc(3*time.Second, func() { order = append(order, "c") })

	c.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order after 2s = %v, want [a b]", order)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}

	c.Advance(time.Second)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("order after 3s = %v", order)
	}
	if !c.Now().Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("now = %v", c.Now())
	}
}

func TestFakeClock_StopPreventsFiring(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("first Stop should report true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeClock_CallbackSeesDeadlineAndCanReschedule(t *testing.T) {
	c := Fake(epoch)
	var ticks []time.Time
	var tick func()
	tick = func() {
		ticks = append(ticks, c.Now())
		c.AfterFunc(10*time.Second, tick)
	}
	c.AfterFunc(10*time.Second, tick)

	c.Advance(35 * time.Second)
	if len(ticks) != 3 {
		t.Fatalf("ticks = %d, want 3", len(ticks))
	}
	for i, got := range ticks {
		want := epoch.Add(time.Duration(i+1) * 10 * time.Second)
		if !got.Equal(want) {
			t.Fatalf("tick %d at %v, want %v", i, got, want)
		}
	}
}

func TestTimer_NilStop(t *testing.T) {
	var timer *Timer
	if timer.Stop() {
		t.Fatal("nil timer Stop should be false")
	}
}

func TestFakeClock_ZeroDelayRearmRunsOncePerAdvance(t *testing.T) {
	c := Fake(epoch)
	runs := 0
	var tick func()
	tick = func() {
		runs++
		c.AfterFunc(0, tick)
	}
	c.AfterFunc(0, tick)

	c.Advance(0)
	if runs != 1 {
		t.Fatalf("runs after first Advance = %d, want 1", runs)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want the re-armed timer", c.Pending())
	}
	c.Advance(time.Second)
	if runs != 2 {
		t.Fatalf("runs after second Advance = %d, want 2", runs)
	}
}

func TestFakeClock_PositiveDelayArmedInCallbackRunsInWindow(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(time.Second, func() {
		order = append(order, "first")
		c.AfterFunc(time.Second, func() { order = append(order, "second") })
	})

	c.Advance(3 * time.Second)
	if len(order) != 2 || order[1] != "second" {
		t.Fatalf("order = %v, want [first second]", order)
	}
}
