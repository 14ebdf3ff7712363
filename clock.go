// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import (
	"sync"
	"time"

	"github.com/intuitivelabs/timestamp"
)

// Gravity models the per-clock "gravity" compensation values: the
// fixed overhead subtracted from a requested delay depending on which
// context is arming the timer, so that a handler fires as close as
// possible to the requested date regardless of how expensive
// re-entering that context is. The values are stored on the Clock and
// read back with GravityFor; TimerBase.Start does not apply them to a
// timer's expiry date.
type Gravity struct {
	IRQ    time.Duration
	Kernel time.Duration
	User   time.Duration
}

// Clock is a source of monotonic or wall-clock time driving one
// TimerBase per CPU. Monotonic is the master clock (immutable rate, no
// offset); Realtime tracks wall time and can be stepped with Adjust,
// which shifts every timer it currently owns.
type Clock struct {
	name       string
	resolution time.Duration
	gravity    Gravity
	monotonic  bool // true: cannot be Set/Adjusted

	mu    sync.Mutex
	bases []*TimerBase // one per CPU
	dead  bool

	offset time.Duration // realtime-only: wall - monotonic
}

// NewClock creates a clock with one TimerBase per CPU, ticking every
// resolution.
func NewClock(name string, resolution time.Duration, ncpu int, monotonic bool) *Clock {
	c := &Clock{name: name, resolution: resolution, monotonic: monotonic}
	c.bases = make([]*TimerBase, ncpu)
	for i := range c.bases {
		c.bases[i] = newTimerBase(c, i, resolution)
	}
	return c
}

// Base returns the TimerBase bound to the given CPU.
func (c *Clock) Base(cpu int) *TimerBase {
	if cpu < 0 || cpu >= len(c.bases) {
		return nil
	}
	return c.bases[cpu]
}

// Name returns the clock's name ("monotonic", "realtime", ...).
func (c *Clock) Name() string { return c.name }

// Resolution returns the nominal tick period of this clock.
func (c *Clock) Resolution() time.Duration { return c.resolution }

// SetGravity installs the per-context gravity compensation values.
func (c *Clock) SetGravity(g Gravity) { c.gravity = g }

// ResetGravity restores the zero-compensation default.
func (c *Clock) ResetGravity() { c.gravity = Gravity{} }

// GravityFor returns the gravity value applicable to ctx.
func (c *Clock) GravityFor(ctx ExecContext) time.Duration {
	switch ctx {
	case ContextIRQ:
		return c.gravity.IRQ
	case ContextKernel:
		return c.gravity.Kernel
	default:
		return c.gravity.User
	}
}

// ExecContext identifies which execution context is arming a timer, for
// gravity compensation purposes.
type ExecContext uint8

const (
	ContextUser ExecContext = iota
	ContextKernel
	ContextIRQ
)

// Read returns the current wall-clock reading of this clock.
func (c *Clock) Read() time.Time {
	now := timestamp.Now()
	t := time.Unix(0, int64(now)*int64(time.Microsecond))
	if !c.monotonic {
		t = t.Add(c.offset)
	}
	return t
}

// Set assigns an absolute time to a non-monotonic clock, equivalent to
// Adjust(newTime.Sub(c.Read())).
func (c *Clock) Set(t time.Time) error {
	if c.monotonic {
		return newErr("Clock.Set", InvalidArg, nil)
	}
	delta := t.Sub(c.Read())
	return c.Adjust(delta)
}

// Adjust steps a non-monotonic clock by delta, shifting every timer
// currently owned by this clock by -delta so each keeps firing at the
// same point relative to the new wall-clock reading (date_new =
// date_old - delta). Monotonic clocks reject Adjust.
func (c *Clock) Adjust(delta time.Duration) error {
	if c.monotonic {
		return newErr("Clock.Adjust", InvalidArg, nil)
	}
	c.mu.Lock()
	c.offset += delta
	c.mu.Unlock()

	abs := delta
	subtract := delta >= 0
	if !subtract {
		abs = -delta
	}

	for _, tb := range c.bases {
		tb.lock()
		shiftTicks, _ := tb.Ticks(abs)
		shiftAllTimers(tb, shiftTicks, subtract)
		tb.unlock()
	}
	return nil
}

// shiftAllTimers walks every wheel list and the expired list of tb,
// shifting each timer's expire/startDate by shift ticks -- subtracted
// when subtract is true, added otherwise -- then redistributes them
// into their new wheel slots. A periodic timer whose shifted date is at
// or before now is moved forward by whole periods past now, so the step
// itself is not reported as overruns. This is the userspace analogue of
// the kernel's xnclock_adjust walking rq->rtimerq.
func shiftAllTimers(tb *TimerBase, shift Ticks, subtract bool) {
	now := tb.Now()
	apply := func(lst *wheelList) {
		lst.forEach(func(t *Timer) bool {
			if subtract {
				t.expire = t.expire.Sub(shift)
				t.startDate = t.startDate.Sub(shift)
			} else {
				t.expire = t.expire.Add(shift)
				t.startDate = t.startDate.Add(shift)
			}
			if pt, _ := tb.Ticks(t.period); t.period > 0 && pt.Val() > 0 && t.expire.LE(now) {
				n := now.Sub(t.expire).Val()/pt.Val() + 1
				t.periodicTicks += n
				t.pexpectTicks = t.periodicTicks
				t.expire = t.expire.AddUint64(n * pt.Val())
			}
			return true
		})
	}
	for i := range tb.wheels {
		for j := range tb.wheels[i].lsts {
			apply(&tb.wheels[i].lsts[j])
		}
	}
	apply(&tb.expired)
	for i := range tb.wheels {
		for j := range tb.wheels[i].lsts {
			tb.redistLst(&tb.wheels[i].lsts[j], now)
		}
	}
	tb.redistLst(&tb.expired, now)
}

// ProgramLocalShot arms rq's own CPU for a reschedule check at the next
// safe point. Used by code already running on rq's CPU (its own tick
// loop, or a handler holding rq's lock), where flagging rq directly is
// safe.
func (c *Clock) ProgramLocalShot(rq *RunQueue) {
	rq.flags |= rqRESCHED
}

// ProgramRemoteShot posts a reschedule request for the given CPU into
// sys's cross-CPU coalescing mask, without touching that CPU's run
// queue directly. Used by code running on behalf of a different CPU
// (a cross-CPU wake, a thread migration); sys.FlushResched later turns
// every coalesced request into a single Schedule call per CPU,
// modeling the kernel's "flush the mask with one IPI send" batching.
func (c *Clock) ProgramRemoteShot(sys *System, cpu int) {
	if sys != nil {
		sys.noteResched(cpu)
	}
}

// Shutdown marks the clock dead: further Start calls on any of its
// timer bases fail with ErrDead.
func (c *Clock) Shutdown() {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
}

// Canonical clock instances, created lazily by InitClocks once the
// number of CPUs is known (mirrors the kernel's nkclock/realtime_clock
// singletons).
var (
	Monotonic *Clock
	Realtime  *Clock
)

// InitClocks creates the Monotonic and Realtime singleton clocks for an
// ncpu-CPU system, at the given tick resolution. Must be called once
// before any RunQueue is created.
func InitClocks(ncpu int, resolution time.Duration) {
	Monotonic = NewClock("monotonic", resolution, ncpu, true)
	Realtime = NewClock("realtime", resolution, ncpu, false)
}
