// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Thread state bits, stored in Thread.state and manipulated only while
// holding the owning RunQueue's lock.
type ThreadState uint32

const (
	ThreadSUSP ThreadState = 1 << iota
	ThreadPEND
	ThreadDELAY
	ThreadWAIT
	ThreadREADY
	ThreadDORMANT
	ThreadZOMBIE
	ThreadINBAND
	ThreadHALT
	ThreadBOOST
	ThreadRRB
	ThreadROOT
	ThreadWEAK
	ThreadUSER
)

// Thread info bits, sticky until explicitly cleared, reporting what
// happened to a thread since the caller last looked.
type ThreadInfo uint32

const (
	ThreadTIMEO ThreadInfo = 1 << iota
	ThreadRMID
	ThreadBREAK
	ThreadKICKED
	ThreadWAKEN
	ThreadROBBED
	ThreadCANCELD
	ThreadSCHEDP
	ThreadBCAST
	ThreadPTSIG
	ThreadPTSTOP
	ThreadNOMEM
)

// Thread local-info bits: never cleared automatically, private
// bookkeeping that survives across the sticky-info reset points.
type ThreadLocalInfo uint32

const (
	ThreadSYSRST ThreadLocalInfo = 1 << iota
	ThreadIGNOVR
	ThreadINFAULT
)

// maxRobberyRetries bounds how many times a boosted thread may retry a
// lock acquisition after being ROBBED by a higher-priority waiter
// before giving up and returning Deadlock: an unbounded retry loop
// under adversarial priority churn would never terminate.
const maxRobberyRetries = 16

// Thread is one schedulable context. Its sched_class-visible priority
// fields and state/info bitfields are only ever touched while rq.lock
// is held.
type Thread struct {
	ID   uuid.UUID
	Name string

	rq       *RunQueue
	affinity []int // allowed CPUs, empty = any

	baseClass    *SchedClass
	currentClass *SchedClass

	basePrio     int
	currentPrio  int
	weightedPrio int

	state     ThreadState
	info      ThreadInfo
	localInfo ThreadLocalInfo

	waitChannel interface{} // the object this thread is blocked on, if any
	wwake       chan struct{}

	rtimer *Timer // timeout / watchdog timer (armed by Delay)
	ptimer *Timer // periodic wake timer (for periodic threads)

	boosters []*Mutex // mutexes currently boosting this thread's priority
	trackers []*Mutex // mutexes this thread currently owns

	inbandDisableCount int // nesting depth of "stay in-band" sections;
	// > 0 inhibits OOB migration requests.

	exitOnce sync.Once
	exitCh   chan struct{}

	sliceRemain time.Duration // round-robin time slice remaining

	fastHandle uint32 // non-zero identity packed into a mutex's fastlock word while owning it
}

// nextFastHandle hands out the low-30-bit fastlock owner handles,
// never reusing 0 (which means "unowned").
var nextFastHandle uint32

func newFastHandle() uint32 {
	h := atomic.AddUint32(&nextFastHandle, 1) & flOwnerMask
	if h == 0 {
		h = atomic.AddUint32(&nextFastHandle, 1) & flOwnerMask
	}
	return h
}

// NewThread allocates and minimally initializes a Thread bound to rq,
// at the given base class/priority.
func NewThread(name string, rq *RunQueue, class *SchedClass, prio int) *Thread {
	t := &Thread{
		ID:           uuid.New(),
		Name:         name,
		rq:           rq,
		baseClass:    class,
		currentClass: class,
		basePrio:     prio,
		currentPrio:  prio,
		weightedPrio: class.weight + prio,
		state:        ThreadDORMANT,
		wwake:        make(chan struct{}, 1),
		exitCh:       make(chan struct{}),
		fastHandle:   newFastHandle(),
	}
	return t
}

// DisableInbandMigration enters a "stay in-band" section (e.g. a
// syscall implementation that must not be yanked out to the OOB stage
// mid-way). Pairs with EnableInbandMigration.
func (t *Thread) DisableInbandMigration() {
	t.rq.lock()
	t.inbandDisableCount++
	t.rq.unlock()
}

// EnableInbandMigration leaves a "stay in-band" section.
func (t *Thread) EnableInbandMigration() {
	t.rq.lock()
	if t.inbandDisableCount > 0 {
		t.inbandDisableCount--
	}
	t.rq.unlock()
}

func (t *Thread) migratable() bool {
	return t.inbandDisableCount == 0
}

// setInfo ORs bits into the sticky info word. Caller must hold rq.lock.
func (t *Thread) setInfo(bits ThreadInfo) { t.info |= bits }

// clearInfo clears bits from the sticky info word. Caller must hold
// rq.lock.
func (t *Thread) clearInfo(bits ThreadInfo) { t.info &^= bits }

// testState reports whether all of bits are set in the thread's state.
func (t *Thread) testState(bits ThreadState) bool { return t.state&bits == bits }

// Cancelled reports whether t has been marked CANCELD by a prior
// Gate.SwitchInband(MaydayCancel): once set, Mutex.Lock on t fails fast
// with Interrupted instead of retrying.
func (t *Thread) Cancelled() bool {
	t.rq.lock()
	defer t.rq.unlock()
	return t.info&ThreadCANCELD != 0
}

// enterWait marks t blocked in mode (ThreadWAIT/ThreadDELAY/ThreadPEND,
// possibly combined with ThreadSUSP) on waitChannel and drops it from
// its run queue's ready sub-queue. Must be called from t's own driving
// goroutine, which then blocks on t.wwake; a later wake call resumes
// it.
func (t *Thread) enterWait(mode ThreadState, waitChannel interface{}) {
	t.rq.lock()
	t.state |= mode
	t.waitChannel = waitChannel
	t.rq.dequeueLocked(t)
	t.rq.unlock()
}

// wake delivers a wakeup to a thread blocked in enterWait, clearing
// whichever of the WAIT/DELAY/PEND bits are set and setting READY, then
// requests a reschedule on its owning CPU. A thread with none of those
// bits set is not actually suspended and is left alone.
func (t *Thread) wake(setInfo ThreadInfo) {
	t.rq.lock()
	defer t.rq.unlock()
	if t.state&(ThreadWAIT|ThreadDELAY|ThreadPEND) == 0 {
		return
	}
	t.state &^= ThreadSUSP | ThreadPEND | ThreadDELAY | ThreadWAIT
	t.state |= ThreadREADY
	t.info |= setInfo
	t.waitChannel = nil
	select {
	case t.wwake <- struct{}{}:
	default:
	}
	t.rq.enqueueLocked(t)
	t.rq.setResched()
}

// Delay suspends the calling goroutine for d, arming t's per-thread
// watchdog timer and blocking until it fires or another caller wakes t
// early via wake. Returns the info bits set by whichever wake resumed
// it (ThreadTIMEO on ordinary expiry).
func (t *Thread) Delay(d time.Duration) ThreadInfo {
	base := t.rq.clock.Base(t.rq.cpu)
	if t.rtimer == nil {
		t.rtimer = &Timer{}
		base.InitTimer(t.rtimer, t.rq.clock, delayTimerHandler, t.rq, t)
	}
	t.enterWait(ThreadDELAY, nil)
	base.StartRelative(t.rtimer, d, 0)

	<-t.wwake

	t.rq.lock()
	info := t.info
	t.clearInfo(ThreadTIMEO | ThreadWAKEN)
	t.rq.unlock()
	return info
}

func delayTimerHandler(tb *TimerBase, tm *Timer) {
	if tm.thread != nil {
		tm.thread.wake(ThreadTIMEO)
	}
}

// Kill terminates the thread: marks it ZOMBIE, drops it from any wait
// channel and its run queue, and wakes any joiner.
func (t *Thread) Kill() {
	t.rq.lock()
	wc := t.waitChannel
	t.waitChannel = nil
	t.state = (t.state &^ (ThreadREADY | ThreadPEND | ThreadWAIT | ThreadDELAY)) | ThreadZOMBIE
	t.rq.dequeueLocked(t)
	t.rq.unlock()
	if m, ok := wc.(*Mutex); ok && m != nil {
		m.mu.Lock()
		m.removeWaiterLocked(t)
		owner := m.owner
		m.mu.Unlock()
		if owner != nil {
			owner.rq.lock()
			m.boostOwnerLocked(owner)
			owner.rq.unlock()
		}
	}
	t.exitOnce.Do(func() { close(t.exitCh) })
}

// Join blocks until the thread has terminated.
func (t *Thread) Join() { <-t.exitCh }
