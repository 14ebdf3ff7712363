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

// TimerBase is the per-clock, per-CPU ordered timer queue: a
// hierarchical wheel of absolute-expiry queues plus an expired list,
// protected by a hard spinlock, bound to a single (Clock, CPU) pair,
// and firing handlers synchronously (no background run-queue workers:
// the scheduling core always knows exactly which goroutine drives a
// CPU's tick).
type TimerBase struct {
	// mu models a hard spinlock: in the original kernel this also
	// disables local hard IRQs. A plain mutex is the closest userspace
	// equivalent available without CGO/asm -- see DESIGN.md.
	mu sync.Mutex

	clock *Clock
	cpu   int

	wheels  [WheelsNo]wheel
	wlists  [wTotalEntries]wheelList
	expired wheelList

	tickDuration time.Duration
	nowTicks     uint64 // current ticks, advanced only from the tick goroutine

	lastTickT timestamp.TS
	badTime   uint32
	refTS     timestamp.TS
	refTicks  Ticks
}

func newTimerBase(clock *Clock, cpu int, td time.Duration) *TimerBase {
	tb := &TimerBase{clock: clock, cpu: cpu, tickDuration: td}
	pos := 0
	for i := 0; i < len(tb.wheels); i++ {
		sz := int(wheelEntries[i])
		tb.wheels[i].init(uint8(i), tb.wlists[pos:pos+sz])
		pos += sz
	}
	tb.expired.init(wheelExp, wheelNoIdx)
	now := timestamp.Now()
	tb.lastTickT = now
	tb.refTS = now
	return tb
}

func (tb *TimerBase) lock()   { tb.mu.Lock() }
func (tb *TimerBase) unlock() { tb.mu.Unlock() }

// Now returns the current time of this timer base, in ticks.
func (tb *TimerBase) Now() Ticks {
	return NewTicks(tb.nowTicks)
}

func (tb *TimerBase) incTime() { tb.nowTicks++ }

// Ticks converts a duration to ticks (round-down) and the remainder.
func (tb *TimerBase) Ticks(d time.Duration) (Ticks, time.Duration) {
	if tb.tickDuration != 0 {
		t := d / tb.tickDuration
		return NewTicks(uint64(t)), d % tb.tickDuration
	}
	return NewTicks(0), d
}

// Duration converts a tick count to a time.Duration.
func (tb *TimerBase) Duration(t Ticks) time.Duration {
	return time.Duration(t.Val()) * tb.tickDuration
}

// ticksRoundUp rounds a duration up to the nearest tick (or up to 1
// tick if it would otherwise round to 0): better to fire one tick late
// than one tick early.
func (tb *TimerBase) ticksRoundUp(d time.Duration) Ticks {
	dticks, rest := tb.Ticks(d)
	if dticks.Val() == 0 || rest >= 50*tb.tickDuration/100 {
		return dticks.AddUint64(1)
	}
	return dticks
}

func (tb *TimerBase) appendTimer(t *Timer, w uint8, idx uint16) {
	if w < WheelsNo {
		tb.wheels[w].lsts[idx].append(t)
	} else if w == wheelExp {
		tb.expired.append(t)
	} else {
		BUG("invalid wheel no: %d idx %d for %p\n", w, idx, t)
	}
}

// InitTimer prepares t for use, binding it to this base, an owning
// clock/thread/run queue and a handler.
func (tb *TimerBase) InitTimer(t *Timer, clock *Clock, handler TimerHandlerF, rq *RunQueue, thread *Thread) {
	*t = Timer{}
	t.info.setWheel(wheelNone, wheelNoIdx)
	t.clock = clock
	t.handler = handler
	t.rq = rq
	t.thread = thread
}

// Start arms t to fire at the absolute date "value"; if interval > 0
// the timer is periodic and re-arms itself after each fire. Starting
// on a clock that is Dead returns a Dead error.
func (tb *TimerBase) Start(t *Timer, value Ticks, interval time.Duration) error {
	if tb.clock != nil && tb.clock.dead {
		return newErr("TimerBase.Start", Dead, nil)
	}
	tb.lock()
	defer tb.unlock()

	if interval == Periodic {
		interval = t.intvl
	}
	t.expire = value
	t.startDate = value
	t.intvl = interval
	t.period = interval
	t.periodicTicks = 0
	t.pexpectTicks = 0

	flags := TimerRUNNING
	if interval > 0 {
		flags |= TimerPERIODIC
	}
	t.info.chgFlags(flags, timerInternalMask)

	now := tb.Now()
	w, idx := getWheelPos(t.expire, now)
	if w == wheelExp && DBGon() {
		DBG("timer %p started with 0 expire, now %s\n", t, now)
	}
	tb.appendTimer(t, w, idx)
	return nil
}

// StartRelative is a convenience wrapper around Start that computes an
// absolute expiry date "delay" ticks from now, rounding up to the
// nearest tick.
func (tb *TimerBase) StartRelative(t *Timer, delay time.Duration, interval time.Duration) error {
	ticks := tb.ticksRoundUp(delay)
	value := tb.Now().Add(ticks)
	return tb.Start(t, value, interval)
}

// Stop removes t from its wheel list if queued. It is a no-op (not an
// error) if t was already stopped. Idempotent.
func (tb *TimerBase) Stop(t *Timer) {
	tb.lock()
	defer tb.unlock()
	tb.stopLocked(t)
}

func (tb *TimerBase) stopLocked(t *Timer) {
	if t.info.flags()&TimerRUNNING == 0 {
		return
	}
	w, idx := t.info.wheelPos()
	if w != wheelNone {
		if w < WheelsNo {
			tb.wheels[w].lsts[idx].rm(t)
		} else if w == wheelExp {
			tb.expired.rm(t)
		}
	}
	t.info.chgFlags(TimerKILLED, TimerRUNNING|TimerPERIODIC|TimerDEQUEUED|TimerFIRED)
}

// Destroy stops t and marks it unusable. Idempotent.
func (tb *TimerBase) Destroy(t *Timer) {
	tb.Stop(t)
}

// GetOverruns returns the number of missed periods since the last
// call, masking overruns for threads whose local_info has IGNOVR set
// (ptrace asked to not be bothered with overrun bookkeeping).
func (tb *TimerBase) GetOverruns(t *Timer) uint64 {
	if t.period <= 0 {
		return 0
	}
	if t.thread != nil && t.thread.localInfo&ThreadIGNOVR != 0 {
		return 0
	}
	periodTicks, _ := tb.Ticks(t.period)
	if periodTicks.Val() == 0 {
		return 0
	}
	now := tb.Now()
	if now.LT(t.expire) {
		return 0 // not due yet: a period that matches current time
		// exactly counts as 0 overruns
	}
	delta := now.Sub(t.expire)
	overruns := delta.Val() / periodTicks.Val()
	if overruns > 0 && t.info.flags()&(TimerRUNNING|TimerDEQUEUED) == TimerRUNNING|TimerDEQUEUED {
		// the in-flight fire is not itself an overrun
		overruns--
	}
	if overruns > 0 {
		t.periodicTicks += overruns
		t.expire = t.expire.AddUint64(overruns * periodTicks.Val())
	}
	t.pexpectTicks = t.periodicTicks
	if tb.clock != nil {
		observeOverrun(tb.clock.Name(), overruns)
	}
	return overruns
}

// redistTimer moves t to the wheel list matching its (possibly adjusted)
// expire date relative to now.
func (tb *TimerBase) redistTimer(lst *wheelList, t *Timer, now Ticks) {
	expire := t.expire
	if expire.LT(now) {
		expire = now
	}
	w, idx := getWheelPos(expire, now)
	if w == lst.wheelNo && idx == lst.wheelIdx {
		return
	}
	lst.rm(t)
	tb.appendTimer(t, w, idx)
}

func (tb *TimerBase) redistLst(lst *wheelList, now Ticks) {
	s := lst.head.next
	for v, nxt := s, s.next; v != &lst.head; v, nxt = nxt, nxt.next {
		tb.redistTimer(lst, v, now)
	}
}

// redistTimers re-buckets cascaded wheels when a higher wheel's slot
// boundary is crossed.
func (tb *TimerBase) redistTimers(now Ticks) {
	t := now.Val()
	idx0 := wheel0Pos(t)
	if idx0 == 0 {
		idx1 := wheel1Pos(t)
		if idx1 == 0 {
			idx2 := wheel2Pos(t)
			if idx2 == 0 {
				idx3 := wheel3Pos(t)
				tb.redistLst(&tb.wheels[3].lsts[idx3], now)
			}
			tb.redistLst(&tb.wheels[2].lsts[idx2], now)
		}
		tb.redistLst(&tb.wheels[1].lsts[idx1], now)
	}
	tb.wheels[0].lsts[idx0].mv(&tb.expired)
}

// fireAllExpired pops and fires every timer currently in the expired
// list. It must be called with tb.mu held; it releases and re-acquires
// the lock around each handler invocation, since timer_base.lock nests
// inside thread.rq.lock and a handler that needs the run queue lock
// must not be called while still holding ours.
func (tb *TimerBase) fireAllExpired(now Ticks) {
	for !tb.expired.isEmpty() {
		t := tb.expired.head.next
		tb.expired.rm(t)

		if t.isProxy && t.rq != nil {
			// Defer to the in-band proxy tick rather than invoking the
			// handler directly.
			t.rq.setLocalFlag(rqTPROXY)
			t.rq.clearLocalFlag(rqTDEFER)
			t.info.chgFlags(TimerFIRED|TimerDEQUEUED, 0)
			continue
		}

		t.info.chgFlags(TimerFIRED|TimerDEQUEUED, 0)
		t.rctx.assignFlags(TimerRUNNING)

		handler := t.handler
		tb.unlock()
		if handler != nil {
			handler(tb, t)
		}
		tb.lock()

		t.rctx.assignFlags(0)

		flags := t.info.flags()
		if flags&TimerKILLED != 0 {
			continue
		}
		if flags&(TimerRUNNING|TimerPERIODIC) == TimerRUNNING|TimerPERIODIC {
			periodTicks, _ := tb.Ticks(t.period)
			if periodTicks.Val() == 0 {
				periodTicks = NewTicks(1)
			}
			t.periodicTicks++
			t.pexpectTicks = t.periodicTicks
			next := t.startDate.AddUint64(t.periodicTicks * periodTicks.Val())
			for next.LE(now) {
				t.periodicTicks++
				next = t.startDate.AddUint64(t.periodicTicks * periodTicks.Val())
			}
			t.expire = next
			t.info.chgFlags(0, TimerDEQUEUED|TimerFIRED)
			w, idx := getWheelPos(t.expire, tb.Now())
			tb.appendTimer(t, w, idx)
		} else {
			t.info.chgFlags(0, TimerRUNNING)
		}
	}
}

// advanceTimeTo moves the base's notion of "now" forward tick by tick,
// firing everything due along the way. Must never run concurrently with
// itself on the same TimerBase.
func (tb *TimerBase) advanceTimeTo(target Ticks) {
	tb.lock()
	for tb.Now().NE(target) {
		tb.incTime()
		now := tb.Now()
		tb.redistTimers(now)
		tb.fireAllExpired(now)
	}
	tb.unlock()
}

// Tick advances time by exactly one tick, for callers that need
// deterministic single-step time (tests); RunQueue.Tick drives the
// wall-clock based Ticker instead.
func (tb *TimerBase) Tick() {
	tb.advanceTimeTo(tb.Now().AddUint64(1))
}

// Ticker should be called periodically off the wall clock (ideally once
// per tick duration); it advances time by however many ticks have
// actually elapsed since the last call, correcting for scheduler jitter
// and the occasional backward clock step. Must never be called
// concurrently with itself on the same TimerBase.
func (tb *TimerBase) Ticker() uint64 {
	now := timestamp.Now()
	if now.Before(tb.lastTickT) {
		tb.badTime++
		if tb.badTime > 10 {
			if ERRon() {
				ERR("trying to recover after time going backward %d times"+
					" with %s\n", tb.badTime, tb.lastTickT.Sub(now))
			}
			tb.lastTickT = now
			tb.refTS = tb.lastTickT
			tb.refTicks = tb.Now()
		} else if DBGon() {
			DBG("ticker: time going backward with %s (%d times)\n",
				tb.lastTickT.Sub(now), tb.badTime)
		}
		return 0
	}
	tb.badTime = 0
	if now.Sub(tb.refTS)/tb.tickDuration > (MaxTicksDiff - 2) {
		if DBGon() {
			DBG("ticker: ticks ref value overflowing after %s"+
				" (max ticks %d) -> re-adjusting\n",
				now.Sub(tb.refTS), MaxTicksDiff)
		}
		diff, _ := tb.Ticks(now.Sub(tb.lastTickT))
		tb.refTS = tb.lastTickT
		tb.refTicks = tb.Now().Sub(diff)
	}

	runTime := now.Sub(tb.refTS)
	runTicks := tb.Now().Sub(tb.refTicks)
	if runTime > tb.Duration(runTicks.AddUint64(1+20)) {
		if DBGon() {
			lost, _ := tb.Ticks(runTime - tb.Duration(runTicks))
			DBG("ticker: lost ticks since start-up: too slow:"+
				" ticks diff %d = %s, but time diff %s => lost %d ticks\n",
				runTicks.Val(), tb.Duration(runTicks), runTime, lost.Val())
		}
	} else if runTicks.Val() > 1 &&
		runTime < tb.Duration(runTicks.SubUint64(1)) {
		if DBGon() {
			faster, _ := tb.Ticks(tb.Duration(runTicks) - runTime)
			DBG("ticker: lost ticks since start-up: too fast:"+
				" ticks diff %d = %s time  diff %s => faster with %d ticks\n",
				runTicks.Val(), tb.Duration(runTicks), runTime, faster.Val())
		}
	}

	diff := now.Sub(tb.lastTickT)
	if diff < tb.tickDuration {
		return 0
	}
	ticks, rest := tb.Ticks(diff)

	tb.lastTickT = now.Add(-rest)
	tb.advanceTimeTo(tb.Now().Add(ticks))
	return ticks.Val()
}
