// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rros

// Hierarchical timer wheel geometry: four cascaded wheels whose bit
// widths must sum to TicksBits, no wheel exceeding 2^15 entries.
const (
	WheelsNo = 4
	W0Bits   = 14
	W1Bits   = 14
	W2Bits   = 10
	W3Bits   = 10

	W0Entries = 1 << W0Bits
	W1Entries = 1 << W1Bits
	W2Entries = 1 << W2Bits
	W3Entries = 1 << W3Bits

	W0Mask = (1 << W0Bits) - 1
	W1Mask = (1 << W1Bits) - 1
	W2Mask = (1 << W2Bits) - 1
	W3Mask = (1 << W3Bits) - 1

	wTotalEntries = W0Entries + W1Entries + W2Entries + W3Entries
)

var wheelEntries = [WheelsNo]uint16{
	W0Entries,
	W1Entries,
	W2Entries,
	W3Entries,
}

func wheel0Pos(t uint64) uint64 { return t & W0Mask }
func wheel1Pos(t uint64) uint64 { return (t >> W0Bits) & W1Mask }
func wheel2Pos(t uint64) uint64 { return (t >> (W0Bits + W1Bits)) & W2Mask }
func wheel3Pos(t uint64) uint64 { return (t >> (W0Bits + W1Bits + W2Bits)) & W3Mask }

// getWheelPos returns the wheel number and index inside that wheel for a
// timer expiring at exp, given the current time now. If exp <= now it
// returns wheelExp/wheelNoIdx (already due).
func getWheelPos(exp, now Ticks) (uint8, uint16) {
	if exp.LE(now) {
		return wheelExp, wheelNoIdx
	}
	delta := exp.Sub(now).Val()
	expire := exp.Val()
	switch {
	case delta < W0Entries:
		if delta == 0 {
			return wheelExp, wheelNoIdx
		}
		return 0, uint16(wheel0Pos(expire))
	case delta < W0Entries*W1Entries:
		return 1, uint16(wheel1Pos(expire))
	case delta < W0Entries*W1Entries*W2Entries:
		return 2, uint16(wheel2Pos(expire))
	}
	return 3, uint16(wheel3Pos(expire))
}

type wheel struct {
	no   uint8
	lsts []wheelList
}

func (w *wheel) init(n uint8, lists []wheelList) {
	w.no = n
	w.lsts = lists
	for i := 0; i < len(w.lsts); i++ {
		w.lsts[i].init(w.no, uint16(i))
	}
}
