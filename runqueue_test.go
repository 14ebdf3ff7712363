package rros

import (
	"testing"
	"time"
)

func newTestSystem(ncpu int) (*System, *Clock) {
	clock := NewClock("test", time.Millisecond, ncpu, true)
	return NewSystem(clock, ncpu), clock
}

func TestRunQueuePickPrefersHigherPriority(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)

	low := NewThread("low", rq, FIFOClass, 10)
	high := NewThread("high", rq, FIFOClass, 50)

	rq.lock()
	rq.enqueueLocked(low)
	rq.enqueueLocked(high)
	next := rq.pickNextLocked()
	rq.unlock()

	if next != high {
		t.Fatalf("expected high-priority thread picked, got %s", next.Name)
	}
}

func TestRunQueueIdleFallback(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)

	rq.lock()
	next := rq.pickNextLocked()
	rq.unlock()
	if next != rq.root {
		t.Fatalf("expected root/idle thread when nothing else runnable")
	}
}

func TestMigrateThreadCoalescesRemoteResched(t *testing.T) {
	sys, _ := newTestSystem(2)
	src := sys.RunQueue(0)
	dst := sys.RunQueue(1)

	th := NewThread("migrant", src, FIFOClass, 50)
	if err := MigrateThread(th, dst); err != nil {
		t.Fatalf("MigrateThread: %v", err)
	}

	sys.mu.Lock()
	pending := sys.reschedMap[dst.cpu]
	sys.mu.Unlock()
	if !pending {
		t.Fatalf("expected dst CPU coalesced into the resched mask after a cross-CPU migration")
	}

	sys.FlushResched()

	dst.lock()
	cur := dst.current
	dst.unlock()
	if cur != th {
		t.Fatalf("expected FlushResched to schedule the migrated thread on dst, got %s", cur.Name)
	}

	sys.mu.Lock()
	_, stillPending := sys.reschedMap[dst.cpu]
	sys.mu.Unlock()
	if stillPending {
		t.Fatalf("FlushResched should have drained the mask")
	}
}

func TestMigrateThreadRespectsInbandDisable(t *testing.T) {
	sys, clock := newTestSystem(2)
	src := sys.RunQueue(0)
	dst := sys.RunQueue(1)
	_ = clock

	th := NewThread("migrant", src, FIFOClass, 10)
	th.DisableInbandMigration()
	if err := MigrateThread(th, dst); err == nil {
		t.Fatalf("expected migration to be rejected while disabled")
	}
	th.EnableInbandMigration()
	if err := MigrateThread(th, dst); err != nil {
		t.Fatalf("MigrateThread: %v", err)
	}
	if th.rq != dst {
		t.Fatalf("thread did not move to dst run queue")
	}
}
