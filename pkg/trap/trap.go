// Package trap implements the exception vector and trap-frame save/restore
// protocol. Grounded on the original C sources.c's KEXP_TOP3/KEXP_BOT3
// macros and k_exphandler_swi_entry/_sync/_irq/_fiq/_serror_entry, and on
// k_sync_exphandler's ESR exception-class switch.
//
// The C source holds "did we save" and "which thread did we enter with" as
// two loose locals (didsave, thread) bridged across a handler body by
// macro expansion. Here they are one explicit struct, entry, threaded
// through as a value instead of recovered from hidden call-stack state —
// the natural Go shape for "a decision made at entry, consulted at exit."
package trap

import (
	"fmt"
	"sync"

	"github.com/beehive-os/kernel/internal/kerrno"
	"github.com/beehive-os/kernel/internal/klog"
	"github.com/beehive-os/kernel/pkg/intctrl"
	"github.com/beehive-os/kernel/pkg/kernel"
	"github.com/beehive-os/kernel/pkg/percpu"
	"github.com/beehive-os/kernel/pkg/vmspace"
)

// Kind is the vector a trap entered through.
type Kind uint8

const (
	KindSync Kind = iota
	KindIRQ
	KindFIQ
	KindSError
)

// Source is the exception level the trap interrupted.
type Source uint8

const (
	SourceSameEL Source = iota
	SourceLowerEL
)

// Class mirrors the ESR_EL1 exception-class field values k_sync_exphandler
// switches on.
type Class uint32

const (
	ClassSVC                 Class = 0x15
	ClassInstrAbortLowerEL   Class = 0x20
	ClassInstrAbortSameEL    Class = 0x21
	ClassDataAbortLowerEL    Class = 0x24
	ClassDataAbortSameEL     Class = 0x25
	ClassSoftwareStepLowerEL Class = 0x32
	ClassSoftwareStepSameEL  Class = 0x33
	ClassWatchpointLowerEL   Class = 0x34
	ClassWatchpointSameEL    Class = 0x35
)

// Frame is the fixed-layout trap frame: all GPRs, PC, SP of the
// interrupted level, the saved status word, and the fault-syndrome
// registers captured at vector entry.
type Frame struct {
	Regs   [31]uint64
	PC     uint64
	SP     uint64
	PSTATE uint64
	ESR    uint64
	FAR    uint64
}

// carryBit is PSTATE bit 29, set by the syscall exit path to mark a
// negative (error) return value.
const carryBit = 1 << 29

// SyscallFn dispatches a syscall number with up to six arguments and
// returns the signed result; wired by cmd/kctl so this package never
// imports pkg/syscall directly, keeping the syscall layer decoupled from
// the trap layer.
type SyscallFn func(th *kernel.Thread, no uint64, args [6]uint64) int64

// DataAbortHook handles a lower-EL data abort (lazy mapping / COW). If it
// returns nil, the faulting thread is resumed; a non-nil error is fatal
// for the thread.
type DataAbortHook func(faultVA uintptr, write bool, elr uint64) error

// Vectors is the per-kernel trap dispatcher wiring arch/percpu/intctrl/
// vmspace/scheduler collaborators together.
type Vectors struct {
	IC        *intctrl.Driver
	MMU       *vmspace.MMU
	Sched     kernel.SchedClass
	Syscall   SyscallFn
	DataAbort DataAbortHook

	handlersMu  sync.Mutex
	handlersMap map[uint32]IRQHandler
}

// entry captures the KEXP_TOP3 decision for one trap, threaded from Enter
// to Exit.
type entry struct {
	peID          uint32
	enteredThread *kernel.Thread
	didSave       bool
}

// Enter implements KEXP_TOP3: looks up the current thread, and if the
// interrupted context is user level or the thread is a kernel thread,
// copies frame into thread.Context and records didSave=1.
func (v *Vectors) Enter(peID uint32, source Source, th *kernel.Thread, frame *Frame) *entry {
	e := &entry{peID: peID, enteredThread: th}
	isKernelThread := th != nil && th.Flags&kernel.FlagKernelThread != 0
	if source == SourceLowerEL || isKernelThread {
		e.didSave = true
		if th != nil {
			th.Context = *frame
		}
	}
	return e
}

// Exit implements KEXP_BOT3 for the thread the caller passes as next; if
// it differs from the entered thread and didSave, installs its process table (ASID
// tagged by pid) before returning its saved context, otherwise returns the
// frame unchanged.
func (v *Vectors) Exit(e *entry, next *kernel.Thread, frame *Frame) *Frame {
	if next != e.enteredThread && e.didSave && next != nil {
		if v.MMU != nil {
			v.MMU.SetTable(e.peID, next.Process.VM)
		}
		restored, _ := next.Context.(Frame)
		return &restored
	}
	return frame
}

// HandleSyscall implements the syscall path.
// esrImmediate is the SVC immediate decoded from ESR; any value other than
// 0 returns -ENOSYS without invoking dispatch.
func (v *Vectors) HandleSyscall(peID uint32, th *kernel.Thread, esrImmediate uint8, frame *Frame) int64 {
	pls := percpu.Get(peID)

	if esrImmediate != 0 {
		return kerrno.ENOSYS.Value()
	}

	pls.SetIRQCause(percpu.CauseSyscall)

	no := frame.Regs[8]
	var args [6]uint64
	copy(args[:], frame.Regs[0:6])

	ret := v.Syscall(th, no, args)

	if pls.CurrentThread() == threadRef(th) {
		frame.Regs[0] = uint64(ret)
		if kerrno.IsError(ret) {
			frame.PSTATE |= carryBit
		} else {
			frame.PSTATE &^= carryBit
		}
	}

	pls.ClearIRQCause()
	v.runDeferredIRQs(peID, pls)
	return ret
}

// threadRef adapts a possibly-nil *kernel.Thread to percpu.ThreadRef for
// the identity comparison above (a nil *kernel.Thread and a nil
// percpu.ThreadRef interface value are not the same thing in Go).
func threadRef(th *kernel.Thread) percpu.ThreadRef {
	if th == nil {
		return nil
	}
	return th
}

// runDeferredIRQs implements the syscall-exit deferred dispatcher: if
// pending_irq_bitmap != 0, sets irq_cause=DEFERRED_IRQ, invokes the
// registered handler over each set bit, clears the bitmap and the cause.
func (v *Vectors) runDeferredIRQs(peID uint32, pls *percpu.PLS) {
	bits := pls.TakePendingIRQs()
	if bits == 0 {
		return
	}
	pls.SetIRQCause(percpu.CauseDeferredIRQ)
	for irq := uint(0); irq < 64; irq++ {
		if bits&(1<<irq) == 0 {
			continue
		}
		v.dispatchIRQ(peID, uint32(irq))
	}
	pls.ClearIRQCause()
}

// HandleIRQ implements the IRQ path. irq is the number read from icc_iar
// (intctrl.Driver models the acknowledge step separately via
// Raise/Acknowledge).
func (v *Vectors) HandleIRQ(peID uint32, irq uint32) {
	pls := percpu.Get(peID)

	if intctrl.IsSGI(irq) {
		v.dispatchIRQ(peID, irq)
		return
	}

	if pls.GetIRQCause() == percpu.CauseSyscall {
		pls.SetPendingIRQ(uint(irq))
		return
	}

	pls.SetIRQCause(percpu.CauseIRQ)
	v.dispatchIRQ(peID, irq)
	pls.ClearIRQCause()
}

// dispatchIRQ looks up irq's registered callback and invokes it, then
// acknowledges the interrupt on the controller. Kept on Vectors rather than
// as a package global so multiple simulated kernels can coexist in tests.
func (v *Vectors) dispatchIRQ(peID uint32, irq uint32) {
	h := v.handlerFor(irq)
	if h == nil {
		klog.PE(peID).Warnf("trap: no handler registered for irq %d", irq)
		return
	}
	h(irq)
	if v.IC != nil {
		v.IC.Acknowledge(peID, irq)
	}
}

func (v *Vectors) handlerFor(irq uint32) IRQHandler {
	v.handlersMu.Lock()
	defer v.handlersMu.Unlock()
	return v.handlersMap[irq]
}

// IRQHandler processes a raised IRQ number.
type IRQHandler func(irq uint32)

// AssignIRQHook registers h as irq's handler (assign_irq_hook).
func (v *Vectors) AssignIRQHook(irq uint32, h IRQHandler) {
	v.handlersMu.Lock()
	defer v.handlersMu.Unlock()
	if v.handlersMap == nil {
		v.handlersMap = map[uint32]IRQHandler{}
	}
	v.handlersMap[irq] = h
}

// HandleFIQ implements the FIQ path: every FIQ is treated as unhandled and
// panics. Vectors has no FIQ hook, so none can be registered.
func (v *Vectors) HandleFIQ(peID uint32) {
	klog.PE(peID).Panicf("unhandled FIQ")
}

// HandleSError logs and treats the current thread as fatal by default.
func (v *Vectors) HandleSError(peID uint32, th *kernel.Thread) {
	klog.PE(peID).Warnf("SError")
	if th != nil {
		kernel.MarkZombie(th)
	}
}

// HandleSync implements the sync-fault dispatch, decoding the ESR exception
// class. Unlike the source this is grounded on, each case here terminates
// explicitly: the original's missing `break` after ClassInstrAbortSameEL's
// panic call lets control fall into ClassDataAbortLowerEL's case body
// whenever the panic path does not actually halt execution, silently
// misrouting a same-EL instruction abort into the lower-EL data-abort
// handler.
func (v *Vectors) HandleSync(peID uint32, th *kernel.Thread, class Class, far uintptr, elr uint64, write bool) error {
	pls := percpu.Get(peID)

	switch class {
	case ClassInstrAbortLowerEL:
		klog.PE(peID).Warnf("instruction abort from EL0 addr %#x", far)
		if th != nil {
			kernel.MarkZombie(th)
		}
		return nil

	case ClassDataAbortLowerEL:
		if v.DataAbort == nil {
			return fmt.Errorf("trap: data abort from EL0 at %#x with no DataAbort hook installed", far)
		}
		return v.DataAbort(far, write, elr)

	case ClassSoftwareStepLowerEL:
		klog.PE(peID).Debugf("single-step from EL0 at elr=%#x", elr)
		return nil

	case ClassInstrAbortSameEL, ClassDataAbortSameEL:
		exp := pls.FaultExpectation()
		if exp != nil {
			exp.Recover()
			return nil
		}
		klog.PE(peID).Panicf("unhandled same-EL abort: far=%#x elr=%#x class=%#x", far, elr, class)
		return nil

	default:
		exp := pls.FaultExpectation()
		if exp != nil {
			exp.Recover()
			return nil
		}
		klog.PE(peID).Panicf("unhandled sync class=%#x far=%#x elr=%#x", class, far, elr)
		return nil
	}
}
