package trap

import (
	"testing"

	"github.com/beehive-os/kernel/internal/kerrno"
	"github.com/beehive-os/kernel/pkg/intctrl"
	"github.com/beehive-os/kernel/pkg/kernel"
	"github.com/beehive-os/kernel/pkg/percpu"
	"github.com/beehive-os/kernel/pkg/vmspace"
)

func newVectors(t *testing.T, nPEs uint32) *Vectors {
	t.Helper()
	percpu.InitPLS(nPEs)
	return &Vectors{IC: intctrl.New(nPEs), MMU: vmspace.NewMMU()}
}

func TestEnterSavesForUserLevel(t *testing.T) {
	v := newVectors(t, 1)
	p := kernel.InitProcess("p")
	th := kernel.InitThread(p, "t")

	frame := &Frame{PC: 0x1000}
	e := v.Enter(0, SourceLowerEL, th, frame)
	if !e.didSave {
		t.Error("didSave = false, want true for lower-EL entry")
	}
	ctx, ok := th.Context.(Frame)
	if !ok || ctx.PC != 0x1000 {
		t.Errorf("thread.Context = %#v, want Frame with PC=0x1000", th.Context)
	}
}

func TestEnterDoesNotSaveForSameELNonKernelThread(t *testing.T) {
	v := newVectors(t, 1)
	p := kernel.InitProcess("p")
	th := kernel.InitThread(p, "t")

	e := v.Enter(0, SourceSameEL, th, &Frame{})
	if e.didSave {
		t.Error("didSave = true, want false for same-EL non-kernel-thread entry")
	}
}

func TestEnterSavesForSameELKernelThread(t *testing.T) {
	v := newVectors(t, 1)
	p := kernel.InitProcess("p")
	th := kernel.InitThread(p, "t")
	th.Flags |= kernel.FlagKernelThread

	e := v.Enter(0, SourceSameEL, th, &Frame{})
	if !e.didSave {
		t.Error("didSave = false, want true for same-EL kernel-thread entry")
	}
}

func TestExitSwitchesTableOnlyWhenThreadChangedAndSaved(t *testing.T) {
	v := newVectors(t, 1)
	p := kernel.InitProcess("p")
	a := kernel.InitThread(p, "a")
	b := kernel.InitThread(p, "b")
	b.Context = Frame{PC: 0x2000}

	e := v.Enter(0, SourceLowerEL, a, &Frame{PC: 0x1000})
	out := v.Exit(e, b, &Frame{PC: 0x1000})
	if out.PC != 0x2000 {
		t.Errorf("Exit PC = %#x, want 0x2000 (b's saved context)", out.PC)
	}
	if got := v.MMU.Installed(0); got != b.Process.VM {
		t.Error("MMU table not switched to the new thread's process table")
	}
}

func TestExitKeepsFrameWhenSameThread(t *testing.T) {
	v := newVectors(t, 1)
	p := kernel.InitProcess("p")
	a := kernel.InitThread(p, "a")

	e := v.Enter(0, SourceLowerEL, a, &Frame{PC: 0x1000})
	in := &Frame{PC: 0x1000}
	out := v.Exit(e, a, in)
	if out != in {
		t.Error("Exit returned a different frame pointer for an unchanged thread")
	}
}

func TestHandleSyscallSetsReturnValueAndCarryOnError(t *testing.T) {
	v := newVectors(t, 1)
	v.Syscall = func(th *kernel.Thread, no uint64, args [6]uint64) int64 {
		return kerrno.EFAULT.Value()
	}
	p := kernel.InitProcess("p")
	th := kernel.InitThread(p, "t")
	percpu.Get(0).SetCurrentThread(th)

	frame := &Frame{}
	ret := v.HandleSyscall(0, th, 0, frame)
	if ret != kerrno.EFAULT.Value() {
		t.Fatalf("HandleSyscall = %d, want EFAULT", ret)
	}
	if frame.Regs[0] != uint64(kerrno.EFAULT.Value()) {
		t.Errorf("frame.Regs[0] = %#x, want EFAULT value", frame.Regs[0])
	}
	if frame.PSTATE&carryBit == 0 {
		t.Error("carry bit not set for negative syscall return")
	}
	if percpu.Get(0).GetIRQCause() != percpu.CauseNone {
		t.Error("irq cause not cleared after syscall")
	}
}

func TestHandleSyscallBadImmediateReturnsENOSYSWithoutDispatch(t *testing.T) {
	v := newVectors(t, 1)
	called := false
	v.Syscall = func(th *kernel.Thread, no uint64, args [6]uint64) int64 {
		called = true
		return 0
	}
	p := kernel.InitProcess("p")
	th := kernel.InitThread(p, "t")
	ret := v.HandleSyscall(0, th, 1, &Frame{})
	if ret != kerrno.ENOSYS.Value() {
		t.Errorf("HandleSyscall(bad immediate) = %d, want ENOSYS", ret)
	}
	if called {
		t.Error("dispatch was invoked despite non-zero SVC immediate")
	}
}

func TestHandleIRQDefersDuringSyscall(t *testing.T) {
	v := newVectors(t, 1)
	fired := false
	v.AssignIRQHook(40, func(irq uint32) { fired = true })

	pls := percpu.Get(0)
	pls.SetIRQCause(percpu.CauseSyscall)
	v.HandleIRQ(0, 40)

	if fired {
		t.Error("handler fired immediately during a syscall, want deferral")
	}
	if pls.PendingIRQBitmap()&(1<<40) == 0 {
		t.Error("irq 40 not recorded in pending bitmap")
	}
}

func TestHandleIRQSGIRunsInlineEvenDuringSyscall(t *testing.T) {
	v := newVectors(t, 1)
	fired := false
	v.AssignIRQHook(intctrl.SGIReschedule, func(irq uint32) { fired = true })

	pls := percpu.Get(0)
	pls.SetIRQCause(percpu.CauseSyscall)
	v.HandleIRQ(0, uint32(intctrl.SGIReschedule))

	if !fired {
		t.Error("SGI was deferred instead of handled inline")
	}
}

func TestHandleSyncDataAbortLowerELInvokesHook(t *testing.T) {
	v := newVectors(t, 1)
	var gotVA uintptr
	v.DataAbort = func(va uintptr, write bool, elr uint64) error {
		gotVA = va
		return nil
	}
	p := kernel.InitProcess("p")
	th := kernel.InitThread(p, "t")
	if err := v.HandleSync(0, th, ClassDataAbortLowerEL, 0x5000, 0x1234, false); err != nil {
		t.Fatalf("HandleSync = %v, want nil", err)
	}
	if gotVA != 0x5000 {
		t.Errorf("DataAbort hook got va=%#x, want 0x5000", gotVA)
	}
}

func TestHandleSyncInstrAbortLowerELKillsThread(t *testing.T) {
	v := newVectors(t, 1)
	p := kernel.InitProcess("p")
	th := kernel.InitThread(p, "t")
	if err := v.HandleSync(0, th, ClassInstrAbortLowerEL, 0x9000, 0, false); err != nil {
		t.Fatalf("HandleSync = %v, want nil", err)
	}
	if th.State() != kernel.ThreadDead {
		t.Errorf("State() = %v, want ThreadDead", th.State())
	}
}

func TestHandleSyncSameELWithFaultExpectationRecovers(t *testing.T) {
	v := newVectors(t, 1)
	recovered := false
	percpu.Get(0).SetFaultExpectation(&percpu.FaultExpectation{
		Kind:    "copy_from_user",
		Recover: func() { recovered = true },
	})
	if err := v.HandleSync(0, nil, ClassDataAbortSameEL, 0x1000, 0, false); err != nil {
		t.Fatalf("HandleSync = %v, want nil", err)
	}
	if !recovered {
		t.Error("fault-expectation Recover was not invoked")
	}
}
