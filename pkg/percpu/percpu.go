// Package percpu implements per-PE local storage (PLS): a fixed array
// indexed by PE id holding each PE's current thread, deferred IRQ bitmap,
// interrupt-cause tag, and fault-expectation slot. Grounded on the
// original C sources' init_cls/get_cls and include/kernel/irq.h's cause
// tags, re-expressed without raw pointer arithmetic into pre-allocated,
// this-PE-only mutation.
//
// ThreadRef is defined here, not imported from pkg/kernel, so that percpu
// stays a leaf package: *kernel.Thread satisfies ThreadRef without either
// package importing the other.
package percpu

import (
	"sync"
)

// ThreadRef is the minimal view of a thread that percpu itself needs to
// hold a weak reference to "the thread currently executing on this PE"
// without importing pkg/kernel.
type ThreadRef interface {
	// TID returns the thread's unique identifier, used only for logging.
	TID() uint64
}

// Cause tags the reason the PE is currently inside a trap, mirroring
// irq_cause states.
type Cause uint8

const (
	CauseNone Cause = iota
	CauseSyscall
	CauseIRQ
	CauseDeferredIRQ
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseSyscall:
		return "syscall"
	case CauseIRQ:
		return "irq"
	case CauseDeferredIRQ:
		return "deferred_irq"
	default:
		return "unknown"
	}
}

// FaultExpectation is installed by kernel code about to touch a possibly
// bad address (copy_to_user/copy_from_user); the sync handler (pkg/trap)
// consults it instead of panicking when a same-level fault occurs.
type FaultExpectation struct {
	// Kind identifies the expected fault site, for diagnostics.
	Kind string
	// Recover is invoked by the trap layer on a matching fault. It returns
	// nothing; the installer records the fault itself (pkg/syscall's
	// uaccess turns it into an -EFAULT result).
	Recover func()
}

// PLS is one PE's local storage entry.
type PLS struct {
	id uint32

	mu               sync.Mutex
	currentThread    ThreadRef
	pendingIRQBitmap uint64
	cause            Cause
	faultExpectation *FaultExpectation
}

// ID returns the PE index this entry belongs to.
func (p *PLS) ID() uint32 { return p.id }

var (
	tableMu sync.RWMutex
	table   []*PLS
)

// InitPLS allocates the PLS array for n PEs, zeroed with id assigned, per
// init_pls. Must be called exactly once at boot before any PE calls Get
// or GetOf.
func InitPLS(n uint32) {
	tableMu.Lock()
	defer tableMu.Unlock()
	table = make([]*PLS, n)
	for i := range table {
		table[i] = &PLS{id: uint32(i)}
	}
}

// Get returns the PLS entry for the given PE id -- the host-process
// equivalent of get_pls, which on real hardware reads cpu_id rather than
// taking an explicit argument. Callers that know their own PE identity
// (pkg/arch.PE.ID) pass it in rather than this package recovering it via
// goroutine-local tricks.
func Get(peID uint32) *PLS {
	tableMu.RLock()
	defer tableMu.RUnlock()
	return table[peID]
}

// GetOf is identical to Get; the name is kept distinct from Get to mirror
// get_pls_of(core), documenting at call sites that the caller must hold
// the target PE's run-queue lock or have issued a stopping inter-PE
// signal first.
func GetOf(peID uint32) *PLS {
	return Get(peID)
}

// Count returns the number of PLS entries allocated by InitPLS.
func Count() int {
	tableMu.RLock()
	defer tableMu.RUnlock()
	return len(table)
}

// CurrentThread returns the thread currently executing on this PE, or nil
// if idle.
func (p *PLS) CurrentThread() ThreadRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentThread
}

// SetCurrentThread installs the thread currently executing on this PE.
// Neither pkg/trap nor pkg/sched calls it; whoever switches threads on a PE
// is responsible for keeping it current.
func (p *PLS) SetCurrentThread(t ThreadRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentThread = t
}

// SetIRQCause sets the cause tag; called only by the owning PE from trap
// context with interrupts masked.
func (p *PLS) SetIRQCause(c Cause) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cause = c
}

// ClearIRQCause resets the cause tag to CauseNone.
func (p *PLS) ClearIRQCause() {
	p.SetIRQCause(CauseNone)
}

// GetIRQCause reads the current cause tag.
func (p *PLS) GetIRQCause() Cause {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

// SetPendingIRQ stashes irq's bit in the deferred bitmap.
func (p *PLS) SetPendingIRQ(irq uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingIRQBitmap |= 1 << irq
}

// TakePendingIRQs returns the deferred bitmap and clears it atomically,
// used by the syscall-exit deferred dispatcher.
func (p *PLS) TakePendingIRQs() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	bits := p.pendingIRQBitmap
	p.pendingIRQBitmap = 0
	return bits
}

// PendingIRQBitmap reads the deferred bitmap without clearing it.
func (p *PLS) PendingIRQBitmap() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingIRQBitmap
}

// SetFaultExpectation installs exp as the recovery target for the next
// same-level fault (copy_to_user/copy_from_user). Pass nil to clear it.
func (p *PLS) SetFaultExpectation(exp *FaultExpectation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faultExpectation = exp
}

// FaultExpectation returns the currently installed expectation, or nil.
func (p *PLS) FaultExpectation() *FaultExpectation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faultExpectation
}
