package rros

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMutexUncontended(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	th := NewThread("solo", rq, FIFOClass, 10)

	m := NewMutex("m")
	if err := m.Lock(th); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := m.Unlock(th); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestMutexBoostsOwnerPriority(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	low := NewThread("low", rq, FIFOClass, 10)
	high := NewThread("high", rq, FIFOClass, 50)

	m := NewMutex("pi")
	if err := m.Lock(low); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Lock(high); err != nil {
			t.Errorf("high Lock: %v", err)
			return
		}
		m.Unlock(high)
	}()

	// give the contending goroutine time to register as a waiter and
	// boost low's priority
	time.Sleep(20 * time.Millisecond)

	low.rq.lock()
	boosted := low.currentPrio
	low.rq.unlock()
	if boosted < high.basePrio {
		t.Fatalf("owner not boosted: currentPrio=%d, want >= %d", boosted, high.basePrio)
	}

	m.Unlock(low)
	wg.Wait()
}

func TestMutexDestroyWakesWaitersWithOwnerDead(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	owner := NewThread("owner", rq, FIFOClass, 10)
	waiter := NewThread("waiter", rq, FIFOClass, 20)

	m := NewMutex("doomed")
	m.Lock(owner)

	done := make(chan error, 1)
	go func() {
		done <- m.Lock(waiter)
	}()
	time.Sleep(20 * time.Millisecond)

	m.Destroy()

	err := <-done
	if !errors.Is(err, ErrOwnerDead) {
		t.Fatalf("expected OwnerDead error after Destroy, got %v", err)
	}
}

func TestMutexLockFailsFastOnCancelledThread(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	owner := NewThread("owner", rq, FIFOClass, 10)
	waiter := NewThread("waiter", rq, FIFOClass, 20)

	m := NewMutex("cancellable")
	if err := m.Lock(owner); err != nil {
		t.Fatalf("owner Lock: %v", err)
	}

	g := NewGate(waiter)
	if err := g.SwitchOOB(); err != nil {
		t.Fatalf("SwitchOOB: %v", err)
	}
	g.SwitchInband(MaydayCancel)

	if err := m.Lock(waiter); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected Interrupted for a cancelled waiter, got %v", err)
	}
	if m.owner != owner {
		t.Fatalf("cancelled lock attempt must not have changed ownership")
	}
}

func TestCeilingMutexHoldsFloorPriority(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	th := NewThread("t", rq, FIFOClass, 5)

	m := NewCeilingMutex("pp", 80)
	if err := m.Lock(th); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	th.rq.lock()
	p := th.currentPrio
	th.rq.unlock()
	if p != 80 {
		t.Fatalf("expected ceiling priority 80, got %d", p)
	}
	m.Unlock(th)
	th.rq.lock()
	p = th.currentPrio
	th.rq.unlock()
	if p != th.basePrio {
		t.Fatalf("expected de-boost to base priority %d, got %d", th.basePrio, p)
	}
}
