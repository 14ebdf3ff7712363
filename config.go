// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import "time"

// Config carries the process-wide tunables that, in a real dual-kernel
// core, would be boot parameters or Kconfig options. It is meant to be
// populated programmatically by an embedder; cmd/rrosdemo is the one
// place that loads a schedule file from disk.
type Config struct {
	// NumCPUs is the number of per-CPU run queues to model.
	NumCPUs int

	// TickDuration is the hierarchical timer wheel's tick granularity
	// (the wheel's bit layout itself is fixed by ticks.go's
	// WheelsNo/W*Bits).
	TickDuration time.Duration

	// RRSlice is the default round-robin quantum for FIFO-class threads
	// that opted into RRB (round-robin behavior).
	RRSlice time.Duration

	// Gravity is installed by Apply on both canonical clocks (Monotonic
	// and Realtime).
	Gravity Gravity

	// TPSchedule is the optional global partitioned schedule (GPS) for
	// the TP class. A nil/empty schedule means the TP class never picks
	// a candidate (picking falls through to the lighter FIFO and idle
	// classes).
	TPSchedule []TPWindow
}

// DefaultConfig returns sane defaults: a 1ms tick is a reasonable
// middle ground between scheduling latency and timer-processing
// overhead for a simulated system.
func DefaultConfig() Config {
	return Config{
		NumCPUs:      1,
		TickDuration: time.Millisecond,
		RRSlice:      100 * time.Millisecond,
		Gravity:      Gravity{IRQ: 0, Kernel: 0, User: 0},
	}
}

// Apply installs cfg's process-wide tunables: the FIFO class's default
// round-robin quantum and, once clocks exist, their gravity values.
// Call after InitClocks but before any RunQueue is created so every
// thread enqueued afterwards sees the configured slice.
func (cfg Config) Apply() {
	if cfg.RRSlice > 0 {
		RRSlice = cfg.RRSlice
	}
	if Monotonic != nil {
		Monotonic.SetGravity(cfg.Gravity)
	}
	if Realtime != nil {
		Realtime.SetGravity(cfg.Gravity)
	}
}
