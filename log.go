// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

import (
	"os"

	"github.com/intuitivelabs/slog"
	"golang.org/x/time/rate"
)

// Log is the package-wide logger: a package-level slog.Log configured
// once at start-up and checked with the On() guards before any
// expensive formatting is done on a hot scheduling or timer path.
var Log slog.Log

// bugLimiter throttles BUG/PANIC-path logging so a cascading invariant
// violation (e.g. a double-wakeup storm) cannot itself become the
// bottleneck that keeps the OOB stage from recovering.
var bugLimiter = rate.NewLimiter(rate.Limit(50), 100)

func init() {
	Log.Init(NAME, slog.LNOTICE)
	if lvl := os.Getenv("RROS_LOGLEVEL"); lvl != "" {
		if l, ok := slog.LevelByName(lvl); ok {
			slog.SetLevel(&Log, l)
		}
	}
}

func DBGon() bool    { return Log.On(slog.LDBG) }
func INFOon() bool   { return Log.On(slog.LINFO) }
func NOTICEon() bool { return Log.On(slog.LNOTICE) }
func WARNon() bool   { return Log.On(slog.LWARN) }
func ERRon() bool    { return Log.On(slog.LERR) }

func DBG(f string, a ...interface{}) {
	Log.Log(slog.LDBG, 1, f, a...)
}

func INFO(f string, a ...interface{}) {
	Log.Log(slog.LINFO, 1, f, a...)
}

func NOTICE(f string, a ...interface{}) {
	Log.Log(slog.LNOTICE, 1, f, a...)
}

func WARN(f string, a ...interface{}) {
	Log.Log(slog.LWARN, 1, f, a...)
}

func ERR(f string, a ...interface{}) {
	Log.Log(slog.LERR, 1, f, a...)
}

// BUG reports a violated internal invariant: fatal internal invariants
// are asserted and abort the OOB stage, while the in-band stage remains
// available for recovery. It never panics on its own -- callers that
// must abort the OOB stage call PANIC instead.
func BUG(f string, a ...interface{}) {
	if bugLimiter.Allow() {
		Log.Log(slog.LERR, 1, "BUG: "+f, a...)
	}
}

// PANIC reports and aborts the current OOB-stage goroutine on a
// non-recoverable invariant violation. The in-band stage is unaffected.
func PANIC(f string, a ...interface{}) {
	if bugLimiter.Allow() {
		Log.Log(slog.LERR, 1, "PANIC: "+f, a...)
	}
	panic(sprintfCompat(f, a...))
}

func sprintfCompat(f string, a ...interface{}) string {
	return Log.Sprintf(f, a...)
}
