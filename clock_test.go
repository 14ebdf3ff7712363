package rros

import (
	"testing"
	"time"
)

func TestClockAdjustShiftsTimers(t *testing.T) {
	c := NewClock("rt", time.Millisecond, 1, false)
	tb := c.Base(0)

	var fired bool
	tm := &Timer{}
	tb.InitTimer(tm, c, func(tb *TimerBase, t *Timer) { fired = true }, nil, nil)
	tb.Start(tm, tb.Now().AddUint64(10), 0)

	if err := c.Adjust(5 * time.Millisecond); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	// stepping the clock forward subtracts the step from every owned
	// timer's expiry, so this one now fires 5 ticks early.
	for i := 0; i < 4; i++ {
		tb.Tick()
	}
	if fired {
		t.Fatalf("timer fired before its shifted expiry")
	}
	for i := 0; i < 2; i++ {
		tb.Tick()
	}
	if !fired {
		t.Fatalf("timer never fired after shifted expiry elapsed")
	}
}

func TestClockAdjustRejectedOnMonotonic(t *testing.T) {
	c := NewClock("mono", time.Millisecond, 1, true)
	if err := c.Adjust(time.Second); err == nil {
		t.Fatalf("expected error adjusting a monotonic clock")
	}
}

func TestClockSetComputesDelta(t *testing.T) {
	c := NewClock("rt", time.Millisecond, 1, false)
	target := c.Read().Add(time.Hour)
	if err := c.Set(target); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func TestGravityFor(t *testing.T) {
	c := NewClock("rt", time.Millisecond, 1, false)
	c.SetGravity(Gravity{IRQ: time.Microsecond, Kernel: 2 * time.Microsecond, User: 3 * time.Microsecond})
	if g := c.GravityFor(ContextIRQ); g != time.Microsecond {
		t.Errorf("irq gravity = %s", g)
	}
	if g := c.GravityFor(ContextUser); g != 3*time.Microsecond {
		t.Errorf("user gravity = %s", g)
	}
	c.ResetGravity()
	if g := c.GravityFor(ContextUser); g != 0 {
		t.Errorf("expected zero gravity after reset, got %s", g)
	}
}
