// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TimeoutMode selects how LockTimeout interprets its timeout argument.
type TimeoutMode uint8

const (
	RelativeTimeout TimeoutMode = iota
	AbsoluteTimeout
)

// Mutex flags.
type mutexFlags uint32

const (
	mxPI mutexFlags = 1 << iota
	mxPP
	mxCLAIMED
	mxCEILING
)

// fastlock word bits: the low 30 bits hold the owner's handle, 0
// meaning "unowned"; bit 31 (FLCLAIM) marks a waiter queued on the slow
// path and bit 30 (FLCEIL) marks a ceiling boost in effect, mirroring
// the kernel's packed fastlock encoding closely enough to exercise the
// same CAS retry shape as the status word's.
const (
	flOwnerMask uint32 = 0x3fffffff
	flCeil      uint32 = 1 << 30
	flClaim     uint32 = 1 << 31
)

// Mutex is a priority-inheritance (PI) or priority-protection/ceiling
// (PP) lock. Contended acquisition enqueues the waiter in wait-priority
// order and boosts the owner's effective priority; on unlock the lock
// is handed directly to the highest-priority waiter.
type Mutex struct {
	name  string
	flags mutexFlags

	fastlock uint32 // atomic: owner slot | FLCLAIM | FLCEIL

	ceilingPrio int // for PP mutexes

	mu      sync.Mutex // protects waiters/owner below (the "slow path")
	owner   *Thread
	waiters []*Thread // sorted by descending weightedPrio

	destroyed bool
}

// NewMutex creates a PI mutex. Use NewCeilingMutex for a PP one.
func NewMutex(name string) *Mutex {
	return &Mutex{name: name, flags: mxPI}
}

// NewCeilingMutex creates a priority-ceiling mutex that boosts its
// owner to at least ceiling for the duration it is held.
func NewCeilingMutex(name string, ceiling int) *Mutex {
	return &Mutex{name: name, flags: mxPP, ceilingPrio: ceiling}
}

func (m *Mutex) insertWaiterLocked(t *Thread) {
	i := sort.Search(len(m.waiters), func(i int) bool {
		return m.waiters[i].weightedPrio < t.weightedPrio
	})
	m.waiters = append(m.waiters, nil)
	copy(m.waiters[i+1:], m.waiters[i:])
	m.waiters[i] = t
}

func (m *Mutex) removeWaiterLocked(t *Thread) {
	for i, w := range m.waiters {
		if w == t {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// insertBoosterSorted inserts m into a booster list, keeping it sorted
// by prio(m) (the top waiter's current priority for topWaiterPrio),
// highest first.
func insertBoosterSorted(list []*Mutex, m *Mutex, prio func(*Mutex) int) []*Mutex {
	p := prio(m)
	i := sort.Search(len(list), func(i int) bool { return prio(list[i]) < p })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}

func topWaiterPrio(m *Mutex) int {
	if len(m.waiters) == 0 {
		return -1
	}
	return m.waiters[0].currentPrio
}

// boost recomputes owner's currentPrio/weightedPrio as the max of its
// base priority and every booster mutex's top waiter (PI) or ceiling
// (PP). Caller must hold owner.rq.lock.
func (m *Mutex) boostOwnerLocked(owner *Thread) {
	best := owner.basePrio
	for _, b := range owner.boosters {
		if b.flags&mxPP != 0 {
			if b.ceilingPrio > best {
				best = b.ceilingPrio
			}
			continue
		}
		if p := topWaiterPrio(b); p > best {
			best = p
		}
	}
	owner.currentClass.SetParam(owner, best)
	if best > owner.basePrio {
		owner.state |= ThreadBOOST
	} else {
		owner.state &^= ThreadBOOST
	}
	observeBoostChainDepth(len(owner.boosters))
}

// checkLockChain walks the "blocked on" edges starting at owner (each
// thread's waitChannel, when it is itself blocked on a mutex, points at
// that mutex) looking for self. Finding it means granting self's lock
// request would close a cycle. Performed without taking any lock beyond
// m.mu (already held by the caller), so it is best-effort under heavy
// concurrent churn elsewhere in the chain -- acceptable since a real
// cycle is stable for as long as every thread in it remains blocked.
func checkLockChain(self *Thread, owner *Thread) bool {
	cur := owner
	for cur != nil {
		if cur == self {
			return true
		}
		held, ok := cur.waitChannel.(*Mutex)
		if !ok || held == nil {
			return false
		}
		cur = held.owner
	}
	return false
}

// LockTimeout acquires m, failing with Timeout if it cannot be acquired
// before the deadline. With a zero relative timeout, or an absolute
// timeout already in the past, it makes one non-blocking attempt: it
// returns nil if m was free and Timeout otherwise.
func (m *Mutex) LockTimeout(self *Thread, timeout time.Duration, mode TimeoutMode) error {
	var deadline time.Time
	switch mode {
	case AbsoluteTimeout:
		deadline = time.Unix(0, int64(timeout))
		if !deadline.After(time.Now()) {
			if m.tryFastLock(self) {
				return nil
			}
			return newErr("Mutex.LockTimeout", Timeout, nil)
		}
	default:
		if timeout <= 0 {
			if m.tryFastLock(self) {
				return nil
			}
			return newErr("Mutex.LockTimeout", Timeout, nil)
		}
		deadline = time.Now().Add(timeout)
	}

	// TODO: Lock has no cancellation path, so a timed-out attempt's
	// goroutine keeps trying and can still win the mutex after
	// LockTimeout has already returned Timeout to the caller.
	done := make(chan error, 1)
	go func() { done <- m.Lock(self) }()

	select {
	case err := <-done:
		return err
	case <-time.After(time.Until(deadline)):
		self.rq.lock()
		self.setInfo(ThreadTIMEO)
		self.clearInfo(ThreadWAKEN)
		self.rq.unlock()
		return newErr("Mutex.LockTimeout", Timeout, nil)
	}
}

// Lock acquires m, blocking until it is available. Returns ErrOwnerDead
// if the current owner terminated while holding it, Deadlock if
// maxRobberyRetries is exceeded while being repeatedly ROBBED by
// higher-priority contenders, and Interrupted if self has been marked
// CANCELD (see Thread.Cancelled) before or during the attempt.
func (m *Mutex) Lock(self *Thread) error {
	for attempt := 0; ; attempt++ {
		if self.Cancelled() {
			return newErr("Mutex.Lock", Interrupted, nil)
		}
		if attempt > maxRobberyRetries {
			return newErr("Mutex.Lock", Deadlock, nil)
		}
		if m.tryFastLock(self) {
			return nil
		}

		m.mu.Lock()
		if m.destroyed {
			m.mu.Unlock()
			return newErr("Mutex.Lock", Dead, nil)
		}
		if m.owner == nil {
			m.owner = self
			m.mu.Unlock()
			m.storeOwner(self)
			self.trackers = append(self.trackers, m)
			return nil
		}
		if m.owner == self {
			m.mu.Unlock()
			return newErr("Mutex.Lock", Busy, nil)
		}

		owner := m.owner
		if checkLockChain(self, owner) {
			m.mu.Unlock()
			return newErr("Mutex.Lock", Deadlock, nil)
		}
		m.insertWaiterLocked(self)
		atomic.StoreUint32(&m.fastlock, atomic.LoadUint32(&m.fastlock)|flClaim)
		m.flags |= mxCLAIMED
		m.mu.Unlock()

		self.enterWait(ThreadWAIT, m)

		owner.rq.lock()
		removeBooster(owner, m)
		owner.boosters = insertBoosterSorted(owner.boosters, m, topWaiterPrio)
		m.boostOwnerLocked(owner)
		owner.rq.unlock()

		<-self.wwake

		self.rq.lock()
		robbed := self.info&ThreadROBBED != 0
		self.clearInfo(ThreadROBBED)
		ownerDead := self.info&ThreadRMID != 0
		self.clearInfo(ThreadRMID)
		self.rq.unlock()

		if ownerDead {
			return newErr("Mutex.Lock", OwnerDead, nil)
		}
		if robbed {
			continue // retry acquisition, bounded by maxRobberyRetries
		}
		// woken as the new owner by Unlock's direct handoff
		return nil
	}
}

// TryLock attempts to acquire m without blocking.
func (m *Mutex) TryLock(self *Thread) error {
	if m.tryFastLock(self) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return newErr("Mutex.TryLock", Dead, nil)
	}
	if m.owner != nil {
		return newErr("Mutex.TryLock", Busy, nil)
	}
	m.owner = self
	self.trackers = append(self.trackers, m)
	m.storeOwner(self)
	return nil
}

func (m *Mutex) tryFastLock(self *Thread) bool {
	return atomic.CompareAndSwapUint32(&m.fastlock, 0, self.fastHandle&flOwnerMask) && m.claimOwner(self)
}

func (m *Mutex) claimOwner(self *Thread) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != nil {
		atomic.StoreUint32(&m.fastlock, 0)
		return false
	}
	m.owner = self
	self.trackers = append(self.trackers, m)
	if m.flags&mxPP != 0 {
		self.rq.lock()
		self.boosters = insertBoosterSorted(self.boosters, m, topWaiterPrio)
		m.boostOwnerLocked(self)
		self.rq.unlock()
	}
	return true
}

func (m *Mutex) storeOwner(self *Thread) {
	atomic.StoreUint32(&m.fastlock, self.fastHandle&flOwnerMask)
}

// Unlock releases m, handing it directly to the highest-priority
// waiter (if any) and de-boosting self.
func (m *Mutex) Unlock(self *Thread) error {
	m.mu.Lock()
	if m.owner != self {
		m.mu.Unlock()
		return newErr("Mutex.Unlock", Permission, nil)
	}
	removeTracker(self, m)

	self.rq.lock()
	removeBooster(self, m)
	m.boostOwnerLocked(self)
	self.rq.unlock()

	if len(m.waiters) == 0 {
		m.owner = nil
		atomic.StoreUint32(&m.fastlock, 0)
		m.mu.Unlock()
		return nil
	}

	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	m.owner = next
	remaining := len(m.waiters) > 0
	claim := uint32(0)
	if remaining {
		claim = flClaim
	}
	atomic.StoreUint32(&m.fastlock, (next.fastHandle&flOwnerMask)|claim)
	m.mu.Unlock()

	next.rq.lock()
	next.trackers = append(next.trackers, m)
	if remaining || m.flags&mxPP != 0 {
		next.boosters = insertBoosterSorted(next.boosters, m, topWaiterPrio)
		m.boostOwnerLocked(next)
	}
	next.rq.unlock()
	next.wake(0)
	return nil
}

func removeTracker(t *Thread, m *Mutex) {
	for i, mm := range t.trackers {
		if mm == m {
			t.trackers = append(t.trackers[:i], t.trackers[i+1:]...)
			return
		}
	}
}

func removeBooster(t *Thread, m *Mutex) {
	for i, mm := range t.boosters {
		if mm == m {
			t.boosters = append(t.boosters[:i], t.boosters[i+1:]...)
			return
		}
	}
}

// Destroy marks m unusable; any thread still waiting on it wakes with
// ErrOwnerDead, the robust-mutex semantics for an owner that dies while
// holding the lock.
func (m *Mutex) Destroy() {
	m.mu.Lock()
	m.destroyed = true
	waiters := m.waiters
	m.waiters = nil
	owner := m.owner
	m.owner = nil
	m.mu.Unlock()

	if owner != nil {
		owner.rq.lock()
		removeTracker(owner, m)
		owner.rq.unlock()
	}
	for _, w := range waiters {
		w.wake(ThreadRMID)
	}
}
