package rros

import (
	"testing"
	"time"
)

func TestTPStateAdvancesWindows(t *testing.T) {
	schedule := []TPWindow{
		{Duration: 3 * time.Millisecond, PTID: 0},
		{Duration: 2 * time.Millisecond, PTID: 1},
	}
	tp := newTPState(schedule)
	if tp.activePartition() != 0 {
		t.Fatalf("expected partition 0 active initially")
	}
	tp.advance(3 * time.Millisecond)
	if tp.activePartition() != 1 {
		t.Fatalf("expected partition 1 active after first window elapses")
	}
	tp.advance(2 * time.Millisecond)
	if tp.activePartition() != 0 {
		t.Fatalf("expected cycle to wrap back to partition 0")
	}
}

func TestTPStateSlackCounterOnEmptyPartition(t *testing.T) {
	schedule := []TPWindow{{Duration: time.Millisecond, PTID: 0}}
	tp := newTPState(schedule)
	rq := &RunQueue{tp: tp}
	if TPClass.Pick(rq) != nil {
		t.Fatalf("expected no thread when partition queue is empty")
	}
	if tp.slackTicks == 0 {
		t.Fatalf("expected slack counter to be incremented")
	}
}
