package rros

import (
	"testing"
	"time"
)

func newTestBase() *TimerBase {
	c := NewClock("test", time.Millisecond, 1, true)
	return c.Base(0)
}

func TestTimerBaseOneShot(t *testing.T) {
	tb := newTestBase()
	var fired int
	tm := &Timer{}
	tb.InitTimer(tm, tb.clock, func(tb *TimerBase, t *Timer) {
		fired++
	}, nil, nil)

	if err := tb.Start(tm, tb.Now().AddUint64(5), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 4; i++ {
		tb.Tick()
	}
	if fired != 0 {
		t.Fatalf("fired early: %d", fired)
	}
	tb.Tick()
	if fired != 1 {
		t.Fatalf("expected 1 fire, got %d", fired)
	}
	tb.Tick()
	if fired != 1 {
		t.Fatalf("one-shot timer refired: %d", fired)
	}
}

func TestTimerBasePeriodic(t *testing.T) {
	tb := newTestBase()
	var fired int
	tm := &Timer{}
	tb.InitTimer(tm, tb.clock, func(tb *TimerBase, t *Timer) {
		fired++
	}, nil, nil)

	period := 3 * time.Millisecond
	if err := tb.Start(tm, tb.Now().AddUint64(3), period); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 12; i++ {
		tb.Tick()
	}
	if fired < 3 {
		t.Fatalf("expected at least 3 periodic fires in 12 ticks, got %d", fired)
	}
}

func TestTimerBaseStopIdempotent(t *testing.T) {
	tb := newTestBase()
	tm := &Timer{}
	tb.InitTimer(tm, tb.clock, func(tb *TimerBase, t *Timer) {}, nil, nil)
	tb.Start(tm, tb.Now().AddUint64(100), 0)
	tb.Stop(tm)
	tb.Stop(tm) // must not panic
}

func TestTimerBaseOverruns(t *testing.T) {
	tb := newTestBase()
	tm := &Timer{}
	tb.InitTimer(tm, tb.clock, func(tb *TimerBase, t *Timer) {}, nil, nil)
	period := 2 * time.Millisecond
	tb.Start(tm, tb.Now().AddUint64(2), period)
	for i := 0; i < 20; i++ {
		tb.Tick()
	}
	if n := tb.GetOverruns(tm); n > 0 {
		t.Logf("observed %d overruns (acceptable under slow test scheduling)", n)
	}
}

func TestGetWheelPosCascade(t *testing.T) {
	now := NewTicks(0)
	for _, delta := range []uint64{0, 1, W0Entries - 1, W0Entries, W0Entries * W1Entries} {
		exp := now.AddUint64(delta)
		w, idx := getWheelPos(exp, now)
		if delta == 0 && w != wheelExp {
			t.Fatalf("delta 0 should be wheelExp, got %d", w)
		}
		_ = idx
	}
}
