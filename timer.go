// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import (
	"time"
)

// Periodic is a special interval value: when passed to Start for a
// re-arm, the timer keeps its previously configured interval. A DEQUEUED
// PERIODIC timer must be re-enqueued by its handler if it remains
// RUNNING.
const Periodic time.Duration = time.Duration(^int64(0))

// TimerHandlerF is invoked, out of the timer base's lock, when a Timer
// fires. The handler decides whether the timer remains RUNNING
// (periodic re-arm) by leaving the PERIODIC flag set on t, or stops it
// by clearing RUNNING/calling Stop().
type TimerHandlerF func(tb *TimerBase, t *Timer)

const (
	wheelNone  uint8  = 255   // sentinel value for no wheel
	wheelExp   uint8  = 254   // no wheel, expired list
	wheelRQ    uint8  = 253   // no wheel, proxy/deferred list
	wheelNoIdx uint16 = 65535 // sentinel debug value for no index
)

// Timer status bits, packed into the low byte of a u32 bitfield: tInfo
// packs flags into 8 bits, the same layout used for the wheel's
// internal timer flags.
const (
	TimerRUNNING  uint8 = 1 << 0
	TimerPERIODIC uint8 = 1 << 1
	TimerDEQUEUED uint8 = 1 << 2
	TimerFIRED    uint8 = 1 << 3
	TimerKILLED   uint8 = 1 << 4
	TimerIGRAVITY uint8 = 1 << 5

	// fHead is internal-only bookkeeping (list head sentinel marker),
	// outside of the status bitfield proper.
	fHead uint8 = 1 << 6

	timerInternalMask = TimerRUNNING | TimerPERIODIC | TimerDEQUEUED |
		TimerFIRED | TimerKILLED | TimerIGRAVITY | fHead
)

// Timer is the per-handle structure used for registering a timer on a
// TimerBase. It doubles as the wheel-list link node (next/prev/info).
type Timer struct {
	next, prev *Timer

	expire    Ticks // absolute expire date, in the owning clock's ticks
	startDate Ticks // tick value at Start() time
	intvl     time.Duration
	period    time.Duration // 0 => one-shot

	info tInfo // status bits + current wheel position (atomic)
	rctx tInfo // running-context snapshot, for safe concurrent Stop()

	handler TimerHandlerF
	thread  *Thread  // owning thread, optional
	clock   *Clock   // owning clock
	rq      *RunQueue // owning run queue, optional

	periodicTicks uint64 // periods elapsed since startDate: expire = startDate + periodicTicks*period
	pexpectTicks  uint64 // copy of periodicTicks, refreshed on each re-arm and GetOverruns call

	isProxy bool // true if this Timer drives the in-band proxy
}

// Detached reports whether the Timer is not currently linked into any
// wheel list.
func (t *Timer) Detached() bool {
	return t == t.next || (t.next == nil && t.prev == nil)
}

// Expire returns the absolute expire date, in ticks.
func (t *Timer) Expire() Ticks { return t.expire }

// Interval returns the configured interval (0 for one-shot timers).
func (t *Timer) Interval() time.Duration { return t.intvl }

// Running reports whether the RUNNING status bit is set.
func (t *Timer) Running() bool { return t.info.flags()&TimerRUNNING != 0 }

// Periodic reports whether the PERIODIC status bit is set.
func (t *Timer) Periodic() bool { return t.info.flags()&TimerPERIODIC != 0 }

// Thread returns the owning thread, if any.
func (t *Timer) Thread() *Thread { return t.thread }
