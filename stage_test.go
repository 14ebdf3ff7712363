package rros

import "testing"

func TestGateMaydayKickVsCancel(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	th := NewThread("oob", rq, FIFOClass, 10)
	g := NewGate(th)

	if err := g.SwitchOOB(); err != nil {
		t.Fatalf("SwitchOOB: %v", err)
	}
	if g.Stage() != StageOOB {
		t.Fatalf("expected StageOOB")
	}

	g.SwitchInband(MaydayKick)
	if g.Stage() != StageInband {
		t.Fatalf("expected StageInband")
	}
	th.rq.lock()
	kicked := th.info&ThreadKICKED != 0
	canceld := th.info&ThreadCANCELD != 0
	th.rq.unlock()
	if !kicked || canceld {
		t.Fatalf("kick should set KICKED only, got kicked=%v canceld=%v", kicked, canceld)
	}

	g2 := NewGate(th)
	g2.SwitchInband(MaydayCancel)
	th.rq.lock()
	canceld = th.info&ThreadCANCELD != 0
	th.rq.unlock()
	if !canceld {
		t.Fatalf("cancel should set CANCELD")
	}
}

func TestGateMaydayDeliveredWhileDisabled(t *testing.T) {
	sys, _ := newTestSystem(1)
	rq := sys.RunQueue(0)
	th := NewThread("busy", rq, FIFOClass, 10)
	g := NewGate(th)

	th.DisableInbandMigration()
	g.Mayday(MaydayCancel)

	select {
	case cause := <-g.mayday:
		if cause != MaydayCancel {
			t.Fatalf("expected MaydayCancel queued even while migration disabled")
		}
	default:
		t.Fatalf("expected a mayday to be queued")
	}
}
