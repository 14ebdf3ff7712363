// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package rros implements the real-time scheduling and timing substrate
// of a dual-kernel core: per-CPU run queues, a pluggable scheduling-class
// framework (idle, FIFO, time-partitioned), a hierarchical timer wheel
// with clock abstractions, the thread state machine that governs
// transitions between the in-band and out-of-band (OOB) execution
// stages, and the priority-inheritance mutex that couples scheduling
// with blocking synchronization.
//
// The package does not implement the adjacent subsystems a real
// dual-kernel core would sit beside (character devices, observables,
// proxy/xbuf IPC rings, a binder-style driver, syscall marshalling, the
// memory allocator): it exports only the contracts those collaborators
// would consume (thread creation, wakeup, sleep, timer start/stop, mutex
// lock/unlock), plus the Observable/notify hooks in observable.go for
// thread lifecycle events.
package rros

const NAME = "rros"

var BuildTags []string
