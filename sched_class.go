// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

// SchedClass is a pluggable scheduling policy: FIFO, TP and idle are
// chained together by weight, heaviest first, and RunQueue.pickNextLocked
// walks the chain asking each class in turn whether it has a thread
// ready to run.
type SchedClass struct {
	Name   string
	weight int
	next   *SchedClass // next-lighter class in the global chain

	init     func(rq *RunQueue)
	enqueue  func(rq *RunQueue, t *Thread)
	dequeue  func(rq *RunQueue, t *Thread)
	requeue  func(rq *RunQueue, t *Thread)
	pick     func(rq *RunQueue) *Thread
	tick     func(rq *RunQueue, t *Thread)
	setparam func(t *Thread, prio int)
	getparam func(t *Thread) int
}

// classChain is the global, weight-ordered list of registered scheduling
// classes, heaviest (highest priority class) first.
var classChain *SchedClass

// registerClass inserts c into classChain keeping weight order, heaviest
// first (ties broken by registration order).
func registerClass(c *SchedClass) {
	if classChain == nil || classChain.weight < c.weight {
		c.next = classChain
		classChain = c
		return
	}
	p := classChain
	for p.next != nil && p.next.weight >= c.weight {
		p = p.next
	}
	c.next = p.next
	p.next = c
}

func (c *SchedClass) Enqueue(rq *RunQueue, t *Thread) {
	if c.enqueue != nil {
		c.enqueue(rq, t)
	}
}

func (c *SchedClass) Dequeue(rq *RunQueue, t *Thread) {
	if c.dequeue != nil {
		c.dequeue(rq, t)
	}
}

func (c *SchedClass) Requeue(rq *RunQueue, t *Thread) {
	if c.requeue != nil {
		c.requeue(rq, t)
	}
}

func (c *SchedClass) Pick(rq *RunQueue) *Thread {
	if c.pick == nil {
		return nil
	}
	return c.pick(rq)
}

func (c *SchedClass) Tick(rq *RunQueue, t *Thread) {
	if c.tick != nil {
		c.tick(rq, t)
	}
}

func (c *SchedClass) SetParam(t *Thread, prio int) {
	t.currentPrio = prio
	t.weightedPrio = c.weight + prio
	if c.setparam != nil {
		c.setparam(t, prio)
	}
}
