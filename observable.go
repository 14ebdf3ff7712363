// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import "sync"

// Event identifies a notifiable condition on an Observable: thread
// state transitions that external watchers (a debugger, a monitoring
// proxy) may want to poll for.
type Event uint32

const (
	EventThreadRunning Event = 1 << iota
	EventThreadSuspended
	EventThreadKilled
	EventThreadSignaled
)

// Observable fans a thread's lifecycle events out to any number of
// subscribed pollers, matching the kernel's xnsynch-observable /
// poll-wakeup split.
type Observable struct {
	mu          sync.Mutex
	subscribers map[chan Event]Event // channel -> subscribed mask
}

// NewObservable creates an empty Observable.
func NewObservable() *Observable {
	return &Observable{subscribers: make(map[chan Event]Event)}
}

// Subscribe registers ch to receive events in mask. ch must be read by
// the caller; Notify drops an event rather than blocking on a full
// channel, matching the "never let a thread fire synchronously wait on
// a slow watcher" rule.
func (o *Observable) Subscribe(ch chan Event, mask Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers[ch] = mask
}

// Unsubscribe removes ch.
func (o *Observable) Unsubscribe(ch chan Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subscribers, ch)
}

// Notify delivers ev to every subscriber whose mask matches.
func (o *Observable) Notify(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for ch, mask := range o.subscribers {
		if mask&ev == 0 {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// NotifyThread publishes a thread lifecycle event on its Observable, if
// it has one, and records the transition via the package logger (a
// stand-in for xnthread_notify, the kernel hook ptrace and the
// monitoring proxy both attach to).
func NotifyThread(t *Thread, ev Event, obs *Observable) {
	if DBGon() {
		DBG("thread %s: event 0x%x\n", t.Name, ev)
	}
	if obs != nil {
		obs.Notify(ev)
	}
}
