package percpu

import "testing"

type fakeThread struct{ tid uint64 }

func (f *fakeThread) TID() uint64 { return f.tid }

func TestInitPLSAssignsIDs(t *testing.T) {
	InitPLS(4)
	for i := uint32(0); i < 4; i++ {
		if got := Get(i).ID(); got != i {
			t.Errorf("Get(%d).ID() = %d, want %d", i, got, i)
		}
	}
	if got := Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
}

func TestCurrentThreadRoundTrip(t *testing.T) {
	InitPLS(2)
	pls := Get(0)
	if pls.CurrentThread() != nil {
		t.Fatal("CurrentThread() non-nil before any SetCurrentThread")
	}
	th := &fakeThread{tid: 7}
	pls.SetCurrentThread(th)
	if got := pls.CurrentThread(); got != th {
		t.Errorf("CurrentThread() = %v, want %v", got, th)
	}
}

func TestIRQCauseTransitions(t *testing.T) {
	InitPLS(1)
	pls := Get(0)
	if got := pls.GetIRQCause(); got != CauseNone {
		t.Fatalf("initial GetIRQCause() = %v, want CauseNone", got)
	}
	pls.SetIRQCause(CauseSyscall)
	if got := pls.GetIRQCause(); got != CauseSyscall {
		t.Errorf("GetIRQCause() = %v, want CauseSyscall", got)
	}
	pls.ClearIRQCause()
	if got := pls.GetIRQCause(); got != CauseNone {
		t.Errorf("GetIRQCause() after clear = %v, want CauseNone", got)
	}
}

func TestPendingIRQBitmapSetAndTake(t *testing.T) {
	InitPLS(1)
	pls := Get(0)
	pls.SetPendingIRQ(3)
	pls.SetPendingIRQ(5)
	if got := pls.PendingIRQBitmap(); got != (1<<3)|(1<<5) {
		t.Errorf("PendingIRQBitmap() = %b, want bits 3 and 5 set", got)
	}
	bits := pls.TakePendingIRQs()
	if bits != (1<<3)|(1<<5) {
		t.Errorf("TakePendingIRQs() = %b, want bits 3 and 5", bits)
	}
	if got := pls.PendingIRQBitmap(); got != 0 {
		t.Errorf("PendingIRQBitmap() after take = %b, want 0", got)
	}
}

func TestFaultExpectationRoundTrip(t *testing.T) {
	InitPLS(1)
	pls := Get(0)
	if pls.FaultExpectation() != nil {
		t.Fatal("FaultExpectation() non-nil before install")
	}
	recovered := false
	exp := &FaultExpectation{Kind: "copy_from_user", Recover: func() { recovered = true }}
	pls.SetFaultExpectation(exp)
	got := pls.FaultExpectation()
	if got == nil {
		t.Fatal("FaultExpectation() = nil after install")
	}
	got.Recover()
	if !recovered {
		t.Error("Recover callback was not the one installed")
	}
	pls.SetFaultExpectation(nil)
	if pls.FaultExpectation() != nil {
		t.Error("FaultExpectation() non-nil after clearing")
	}
}
