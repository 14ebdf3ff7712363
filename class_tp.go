// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import (
	"sync"
	"time"
)

// TPWindow is one slot of a CPU's time-partitioned (TP) global schedule:
// while it is active only threads whose partition id equals PTID are
// eligible to run on that CPU. Windows run back to back in slice order,
// each starting where the previous one ends; Offset is not read when
// the schedule advances.
type TPWindow struct {
	Offset   time.Duration
	Duration time.Duration
	PTID     int // -1 selects the "idle window" (nothing from TP runs)
}

type tpState struct {
	mu       sync.Mutex
	schedule []TPWindow
	cycle    time.Duration // sum of all window durations
	elapsed  time.Duration // position within the current cycle
	cur      int           // index of the active window

	queues map[int][]*Thread // threads grouped by partition id

	// slack tracks, per diagnostic purposes, time windows where no
	// thread of the active partition was runnable (SUPPLEMENTED
	// FEATURES #6): a high slack count flags a misconfigured schedule.
	slackTicks uint64
}

func newTPState(schedule []TPWindow) *tpState {
	tp := &tpState{schedule: schedule, queues: make(map[int][]*Thread)}
	for _, w := range schedule {
		tp.cycle += w.Duration
	}
	return tp
}

func (tp *tpState) advance(d time.Duration) {
	if tp.cycle == 0 {
		return
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.elapsed += d
	for tp.elapsed >= tp.cycle {
		tp.elapsed -= tp.cycle
	}
	acc := time.Duration(0)
	for i, w := range tp.schedule {
		acc += w.Duration
		if tp.elapsed < acc {
			tp.cur = i
			return
		}
	}
}

func (tp *tpState) activePartition() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.cur < 0 || tp.cur >= len(tp.schedule) {
		return -1
	}
	return tp.schedule[tp.cur].PTID
}

// SetTPSchedule installs a time-partitioned global schedule on rq,
// enabling TPClass for that CPU. A nil or empty schedule disables TP
// scheduling on rq again (TPClass.pick then always returns nil).
func (rq *RunQueue) SetTPSchedule(schedule []TPWindow) {
	rq.lock()
	defer rq.unlock()
	if len(schedule) == 0 {
		rq.tp = nil
		return
	}
	rq.tp = newTPState(schedule)
}

// TPClass implements windowed global partitioning on top of FIFO
// ordering within a partition. It sits above FIFOClass in the chain:
// while a TP schedule is installed on a CPU, TP threads preempt plain
// FIFO ones during their window.
var TPClass = &SchedClass{
	Name:   "tp",
	weight: 150,
	enqueue: func(rq *RunQueue, t *Thread) {
		if rq.tp == nil {
			return
		}
		ptid := t.currentPrio // repurposed as partition id for TP threads
		rq.tp.mu.Lock()
		rq.tp.queues[ptid] = append(rq.tp.queues[ptid], t)
		rq.tp.mu.Unlock()
	},
	dequeue: func(rq *RunQueue, t *Thread) {
		if rq.tp == nil {
			return
		}
		ptid := t.currentPrio
		rq.tp.mu.Lock()
		q := rq.tp.queues[ptid]
		for i, v := range q {
			if v == t {
				rq.tp.queues[ptid] = append(q[:i], q[i+1:]...)
				break
			}
		}
		rq.tp.mu.Unlock()
	},
	pick: func(rq *RunQueue) *Thread {
		if rq.tp == nil {
			return nil
		}
		ptid := rq.tp.activePartition()
		if ptid < 0 {
			return nil
		}
		rq.tp.mu.Lock()
		defer rq.tp.mu.Unlock()
		q := rq.tp.queues[ptid]
		if len(q) == 0 {
			rq.tp.slackTicks++
			return nil
		}
		return q[0]
	},
	tick: func(rq *RunQueue, t *Thread) {
		if rq.tp != nil {
			rq.tp.advance(rq.clock.Resolution())
		}
	},
}

func init() {
	registerClass(TPClass)
}
