// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunQueue flags, set/cleared under rq.lock.
type rqFlags uint32

const (
	rqRESCHED rqFlags = 1 << iota
	rqHAVETHREAD
	rqIDLE
)

// RunQueue local flags: CPU-private bookkeeping not subject to the
// cross-CPU IPI-coalescing rules that rqFlags are.
type rqLocalFlags uint32

const (
	rqTDEFER rqLocalFlags = 1 << iota // in-band proxy tick still pending
	rqTPROXY                          // in-band proxy timer just fired
)

// RunQueue is the per-CPU scheduling unit: one ordered set of ready
// threads per scheduling class, a "hard spinlock" and a pointer to the
// thread currently running. One instance exists per simulated CPU.
type RunQueue struct {
	cpu   int
	clock *Clock

	mu          sync.Mutex
	flags       rqFlags
	localFlags  rqLocalFlags
	current     *Thread
	root        *Thread // idle/in-band placeholder, always runnable
	threadCount int

	fifoQ *fifoQueue
	tp    *tpState

	inbandProxy *Timer
	rrTimer     *Timer

	sys *System
}

func newRunQueue(cpu int, clock *Clock, sys *System) *RunQueue {
	rq := &RunQueue{cpu: cpu, clock: clock, sys: sys}
	for c := classChain; c != nil; c = c.next {
		if c.init != nil {
			c.init(rq)
		}
	}
	rq.root = NewThread("ROOT", rq, IdleClass, 0)
	rq.root.state = ThreadREADY | ThreadROOT | ThreadINBAND
	rq.current = rq.root

	rq.inbandProxy = &Timer{}
	base := clock.Base(cpu)
	base.InitTimer(rq.inbandProxy, clock, inbandProxyHandler, rq, nil)
	rq.inbandProxy.isProxy = true

	rq.rrTimer = &Timer{}
	base.InitTimer(rq.rrTimer, clock, roundRobinTickHandler, rq, nil)
	return rq
}

func (rq *RunQueue) lock()   { rq.mu.Lock() }
func (rq *RunQueue) unlock() { rq.mu.Unlock() }

func (rq *RunQueue) setLocalFlag(f rqLocalFlags)   { rq.localFlags |= f }
func (rq *RunQueue) clearLocalFlag(f rqLocalFlags) { rq.localFlags &^= f }
func (rq *RunQueue) testLocalFlag(f rqLocalFlags) bool {
	return rq.localFlags&f != 0
}

// setResched flags this run queue as needing a reschedule at the next
// safe point. Safe to call with rq.lock held or not.
func (rq *RunQueue) setResched() {
	rq.clock.ProgramLocalShot(rq)
	if rq.sys != nil {
		rq.sys.noteResched(rq.cpu)
	}
}

func (rq *RunQueue) needResched() bool { return rq.flags&rqRESCHED != 0 }

func (rq *RunQueue) enqueueLocked(t *Thread) {
	t.currentClass.Enqueue(rq, t)
	rq.threadCount++
	observeRunQueueDepth(rq.cpu, rq.threadCount)
}

func (rq *RunQueue) dequeueLocked(t *Thread) {
	t.currentClass.Dequeue(rq, t)
	if rq.threadCount > 0 {
		rq.threadCount--
	}
	observeRunQueueDepth(rq.cpu, rq.threadCount)
}

// pickNextLocked walks the class chain heaviest-first, returning the
// first class's candidate thread.
func (rq *RunQueue) pickNextLocked() *Thread {
	for c := classChain; c != nil; c = c.next {
		if t := c.Pick(rq); t != nil {
			return t
		}
	}
	return rq.root
}

// Schedule runs the reschedule algorithm: pick the highest
// weighted-priority runnable thread and, if it differs from current,
// context-switch to it. In this simulation a "context switch" means
// making next current and posting a non-blocking wakeup on next.wwake;
// Schedule does not block the caller and returns right after the
// hand-off.
func (rq *RunQueue) Schedule() {
	rq.lock()
	rq.flags &^= rqRESCHED
	next := rq.pickNextLocked()
	prev := rq.current
	if next == prev {
		rq.unlock()
		return
	}
	if next != rq.root {
		rq.dequeueLocked(next)
	}
	if prev != nil && prev != rq.root && prev.testState(ThreadREADY) {
		rq.enqueueLocked(prev)
	}
	rq.current = next
	rq.unlock()

	if prev != nil && prev != next {
		// cooperative hand-off: wake next's driving goroutine; it resumes
		// running once Schedule returns on this CPU. prev's goroutine
		// parks on its own wwake the next time it calls Schedule and
		// finds itself no longer current.
		select {
		case next.wwake <- struct{}{}:
		default:
		}
	}
}

// Tick drives one clock tick of scheduling bookkeeping for this CPU:
// advances the timer base (firing due timers), then lets the current
// thread's class account for elapsed time (round-robin slice, TP window
// advance), reschedules if anything requested it locally, and finally
// flushes any cross-CPU resched requests coalesced since the last tick
// (this CPU's own request included).
func (rq *RunQueue) Tick() {
	rq.clock.Base(rq.cpu).Ticker()

	rq.lock()
	cur := rq.current
	class := cur.currentClass
	rq.unlock()
	if class != nil {
		class.Tick(rq, cur)
	}

	rq.lock()
	resched := rq.needResched()
	rq.unlock()
	if resched {
		rq.Schedule()
	}

	if rq.sys != nil {
		rq.sys.FlushResched()
	}
}

func inbandProxyHandler(tb *TimerBase, t *Timer) {
	if t.rq != nil {
		t.rq.setResched()
	}
}

func roundRobinTickHandler(tb *TimerBase, t *Timer) {
	if t.rq != nil {
		t.rq.setResched()
	}
}

// System owns every per-CPU RunQueue and the cross-CPU resched mask,
// and supervises each CPU's tick goroutine with an errgroup so the
// first loop to return an error cancels the others. A panic in a tick
// loop is not recovered.
type System struct {
	clock *Clock
	rqs   []*RunQueue

	mu         sync.Mutex
	reschedMap map[int]bool
}

// NewSystem builds an ncpu-CPU system driven by clock, with one
// RunQueue (and therefore one per-CPU TimerBase) per CPU.
func NewSystem(clock *Clock, ncpu int) *System {
	sys := &System{clock: clock, reschedMap: make(map[int]bool)}
	sys.rqs = make([]*RunQueue, ncpu)
	for i := 0; i < ncpu; i++ {
		sys.rqs[i] = newRunQueue(i, clock, sys)
	}
	return sys
}

func (s *System) RunQueue(cpu int) *RunQueue {
	if cpu < 0 || cpu >= len(s.rqs) {
		return nil
	}
	return s.rqs[cpu]
}

func (s *System) noteResched(cpu int) {
	s.mu.Lock()
	s.reschedMap[cpu] = true
	s.mu.Unlock()
}

// FlushResched drains every CPU coalesced into the cross-CPU resched
// mask since the last flush and runs Schedule once on each one's run
// queue -- the userspace analogue of a remote CPU finally taking the
// single coalesced OOB-reschedule IPI it was sent. Safe to call from
// any CPU's tick loop: draining the map is done under s.mu, and each
// RunQueue serializes access via its own lock.
func (s *System) FlushResched() {
	s.mu.Lock()
	var cpus []int
	for cpu, pending := range s.reschedMap {
		if pending {
			cpus = append(cpus, cpu)
		}
	}
	s.reschedMap = make(map[int]bool)
	s.mu.Unlock()

	for _, cpu := range cpus {
		if rq := s.RunQueue(cpu); rq != nil {
			rq.Schedule()
		}
	}
}

// Run drives every CPU's tick loop at tickDuration until ctx is
// cancelled, returning the first error encountered by any CPU's loop.
// Tick returns no error, so the only error a loop returns is the
// context's own (context.Canceled or context.DeadlineExceeded).
func (s *System) Run(ctx context.Context, tickDuration time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rq := range s.rqs {
		rq := rq
		g.Go(func() error {
			ticker := time.NewTicker(tickDuration)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					rq.Tick()
				}
			}
		})
	}
	return g.Wait()
}

// MigrateThread moves t from its current run queue to dst, provided t
// allows OOB migration right now (inbandDisableCount == 0).
func MigrateThread(t *Thread, dst *RunQueue) error {
	if !t.migratable() {
		return newErr("MigrateThread", Busy, nil)
	}
	src := t.rq
	if src == dst {
		return nil
	}
	src.lock()
	src.dequeueLocked(t)
	src.unlock()

	dst.lock()
	t.rq = dst
	dst.enqueueLocked(t)
	dst.unlock()
	dst.clock.ProgramRemoteShot(dst.sys, dst.cpu)
	return nil
}
