// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

// IdleClass is the lightest scheduling class: every CPU's root thread
// belongs to it and it always has exactly one runnable thread (the
// per-CPU idle/root placeholder), so pickNextLocked never returns nil.
var IdleClass = &SchedClass{
	Name:   "idle",
	weight: 0,
	pick: func(rq *RunQueue) *Thread {
		return rq.root
	},
}

func init() {
	registerClass(IdleClass)
}
