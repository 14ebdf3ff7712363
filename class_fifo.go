// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import "time"

// MaxFIFOPrio is the highest priority level the FIFO class supports.
const MaxFIFOPrio = 99

// RRSlice is the default round-robin time slice, applied to a thread
// whose RRB state bit is set.
var RRSlice = 100 * time.Millisecond

type fifoQueue struct {
	levels [MaxFIFOPrio + 1][]*Thread
	top    int // highest non-empty level, -1 if none
}

func (q *fifoQueue) push(t *Thread) {
	p := t.currentPrio
	if p < 0 {
		p = 0
	}
	if p > MaxFIFOPrio {
		p = MaxFIFOPrio
	}
	q.levels[p] = append(q.levels[p], t)
	if p > q.top {
		q.top = p
	}
}

func (q *fifoQueue) remove(t *Thread) {
	p := t.currentPrio
	if p < 0 || p > MaxFIFOPrio {
		return
	}
	lvl := q.levels[p]
	for i, v := range lvl {
		if v == t {
			q.levels[p] = append(lvl[:i], lvl[i+1:]...)
			break
		}
	}
	q.recomputeTop()
}

func (q *fifoQueue) recomputeTop() {
	for p := len(q.levels) - 1; p >= 0; p-- {
		if len(q.levels[p]) > 0 {
			q.top = p
			return
		}
	}
	q.top = -1
}

func (q *fifoQueue) pickTop() *Thread {
	if q.top < 0 {
		return nil
	}
	lvl := q.levels[q.top]
	if len(lvl) == 0 {
		return nil
	}
	return lvl[0]
}

// rotate moves the current head of its priority level to the back
// (round-robin slice expiry within the same level).
func (q *fifoQueue) rotate(t *Thread) {
	p := t.currentPrio
	if p < 0 || p > MaxFIFOPrio {
		return
	}
	lvl := q.levels[p]
	if len(lvl) < 2 || lvl[0] != t {
		return
	}
	q.levels[p] = append(lvl[1:], lvl[0])
}

// FIFOClass implements strict fixed-priority round-robin-within-level
// scheduling.
var FIFOClass = &SchedClass{
	Name:   "fifo",
	weight: 100,
	init: func(rq *RunQueue) {
		rq.fifoQ = &fifoQueue{top: -1}
	},
	enqueue: func(rq *RunQueue, t *Thread) {
		rq.fifoQ.push(t)
		if t.testState(ThreadRRB) {
			t.sliceRemain = RRSlice
		}
	},
	dequeue: func(rq *RunQueue, t *Thread) {
		rq.fifoQ.remove(t)
	},
	requeue: func(rq *RunQueue, t *Thread) {
		rq.fifoQ.remove(t)
		rq.fifoQ.push(t)
	},
	pick: func(rq *RunQueue) *Thread {
		return rq.fifoQ.pickTop()
	},
	tick: func(rq *RunQueue, t *Thread) {
		if !t.testState(ThreadRRB) {
			return
		}
		t.sliceRemain -= rq.clock.Resolution()
		if t.sliceRemain <= 0 {
			t.sliceRemain = RRSlice
			rq.fifoQ.rotate(t)
			rq.setResched()
		}
	},
}

func init() {
	registerClass(FIFOClass)
}
