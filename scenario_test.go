package rros

import (
	"sync"
	"testing"
	"time"
)

// PI chain: L@10 holds X; M@20 locks X (L boosts to 20); H@30 locks X
// (L boosts to 30); L unlocks, ownership transfers to H, L restores to
// 10, M remains blocked until H releases.
func TestScenarioPIChain(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	l := NewThread("L", rq, FIFOClass, 10)
	m := NewThread("M", rq, FIFOClass, 20)
	h := NewThread("H", rq, FIFOClass, 30)

	x := NewMutex("X")
	if err := x.Lock(l); err != nil {
		t.Fatalf("L lock: %v", err)
	}

	var wg sync.WaitGroup
	mDone := make(chan struct{})
	hDone := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		x.Lock(m)
		close(mDone)
		x.Unlock(m)
	}()
	time.Sleep(10 * time.Millisecond)
	l.rq.lock()
	if l.currentPrio != 20 {
		t.Errorf("after M contends, L should boost to 20, got %d", l.currentPrio)
	}
	l.rq.unlock()

	go func() {
		defer wg.Done()
		x.Lock(h)
		close(hDone)
		x.Unlock(h)
	}()
	time.Sleep(10 * time.Millisecond)
	l.rq.lock()
	if l.currentPrio != 30 {
		t.Errorf("after H contends, L should boost to 30, got %d", l.currentPrio)
	}
	l.rq.unlock()

	x.Unlock(l)
	l.rq.lock()
	if l.currentPrio != l.basePrio {
		t.Errorf("L should restore to base priority %d, got %d", l.basePrio, l.currentPrio)
	}
	l.rq.unlock()

	<-hDone
	wg.Wait()
	<-mDone
}

// Two FIFO threads at the same priority with a round-robin slice share
// a CPU; each accumulates roughly even slices.
func TestScenarioRoundRobinSlice(t *testing.T) {
	q := &fifoQueue{top: -1}
	a := &Thread{currentPrio: 50, Name: "a", state: ThreadRRB}
	b := &Thread{currentPrio: 50, Name: "b", state: ThreadRRB}
	q.push(a)
	q.push(b)

	picks := map[string]int{}
	for i := 0; i < 6; i++ {
		top := q.pickTop()
		picks[top.Name]++
		q.rotate(top)
	}
	if picks["a"] != 3 || picks["b"] != 3 {
		t.Fatalf("expected even rotation, got %v", picks)
	}
}

// T1 holds M1, blocks on M2 held by T2; T2 attempts to lock M1 and must
// observe Deadlock, leaving M1's wait list and T1's state untouched.
func TestScenarioDeadlockDetection(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	t1 := NewThread("T1", rq, FIFOClass, 10)
	t2 := NewThread("T2", rq, FIFOClass, 10)

	m1 := NewMutex("M1")
	m2 := NewMutex("M2")

	if err := m1.Lock(t1); err != nil {
		t.Fatalf("T1 lock M1: %v", err)
	}
	if err := m2.Lock(t2); err != nil {
		t.Fatalf("T2 lock M2: %v", err)
	}

	go func() {
		t1.rq.lock()
		t1.state |= ThreadWAIT
		t1.waitChannel = m2
		t1.rq.unlock()
		m2.mu.Lock()
		m2.insertWaiterLocked(t1)
		m2.mu.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)

	waitersBefore := len(m1.waiters)
	err := m1.Lock(t2)
	if err == nil {
		t.Fatalf("expected Deadlock error")
	}
	e, ok := err.(*Error)
	if !ok || e.Kind != Deadlock {
		t.Fatalf("expected Deadlock kind, got %v", err)
	}
	if len(m1.waiters) != waitersBefore {
		t.Fatalf("M1 wait list should be unchanged after a rejected deadlocking attempt")
	}
}

// Adjusting the realtime clock forward suppresses the resulting
// overrun.
func TestScenarioRealtimeClockAdjustSuppressesOverrun(t *testing.T) {
	c := NewClock("rt", time.Millisecond, 1, false)
	tb := c.Base(0)
	tm := &Timer{}
	tb.InitTimer(tm, c, func(tb *TimerBase, t *Timer) {}, nil, nil)
	tb.Start(tm, tb.Now().AddUint64(10), 10*time.Millisecond)

	c.Adjust(10 * time.Second)

	if n := tb.GetOverruns(tm); n != 0 {
		t.Fatalf("clock adjustment should not itself be reported as an overrun, got %d", n)
	}
}
