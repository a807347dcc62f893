// Package kernel implements process/thread lifecycle: creating processes
// and threads, marking zombies, and final reap after a parent has
// collected exit status. Grounded on the original C sources.h's
// process_t/thread_t layout and kernel/main.c's init call order.
//
// SchedClass is declared here, not in pkg/sched, so that kernel never
// imports sched: sched imports kernel and implements SchedClass against
// *Thread, keeping the dependency arrow policy-on-core instead of
// core-on-policy.
package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/beehive-os/kernel/internal/kerrno"
	"github.com/beehive-os/kernel/internal/klog"
	"github.com/beehive-os/kernel/pkg/vmspace"
)

// ProcessState mirrors thread.h's enum Process_State.
type ProcessState uint8

const (
	ProcessRunning ProcessState = iota
	ProcessStopped
	ProcessZombie
)

// ThreadState mirrors thread.h's enum Thread_State.
type ThreadState uint8

const (
	ThreadRunning ThreadState = iota
	ThreadSleeping
	ThreadUninterruptibleSleeping
	ThreadStopped
	ThreadDead
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "running"
	case ThreadSleeping:
		return "sleeping"
	case ThreadUninterruptibleSleeping:
		return "uninterruptible_sleeping"
	case ThreadStopped:
		return "stopped"
	case ThreadDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Thread flags (flags field, thread.h).
const (
	FlagKernelThread uint64 = 1 << iota
)

// SchedClass is the polymorphic capability set a scheduler policy supplies.
// Declared on the core side so pkg/kernel can hold a thread's scheduler
// class without depending on any particular policy package.
type SchedClass interface {
	Enqueue(t *Thread)
	Dequeue(t *Thread)
	PickNext(peID uint32) *Thread
	Tick(peID uint32) (reschedule bool)
	YieldCurrent(peID uint32)
}

// SchedEntity mirrors sched_entity_t: the bookkeeping a deadline-style
// SchedClass needs per thread.
type SchedEntity struct {
	Deadline     int64
	LastDeadline uint64
	Priority     uint64
}

// Timing mirrors thread_timing_t.
type Timing struct {
	TotalExecution uint64
	TotalSystem    uint64
	TotalUser      uint64
	TotalWait      uint64
}

// Thread owns its saved context (trap-frame-shaped save area, carried
// opaquely as `Context any` so pkg/trap can store its own frame type
// without pkg/kernel importing pkg/trap).
type Thread struct {
	mu sync.Mutex

	Process *Process
	TID_    uint64
	Name    string

	Context     any
	Flags       uint64
	state       ThreadState
	Affinity    uint64
	RunningCore int64  // -1 if not currently running on any PE
	StackBytes  uint64 // kernel-thread stack budget; an external page allocator's concern to satisfy

	Timing      Timing
	SchedClass  SchedClass
	SchedEntity SchedEntity

	WaitCond WaitCond
}

// TID implements percpu.ThreadRef.
func (t *Thread) TID() uint64 { return t.TID_ }

// State returns the thread's current state.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState transitions state under the thread's own lock. Cross-PE callers
// (exit_group's sibling fan-out) must additionally hold the remote PE's
// run-queue lock before calling this; that lock lives in pkg/sched, not
// here.
func (t *Thread) setState(s ThreadState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// WaitCondKind mirrors enum Wait_Cond_Type.
type WaitCondKind uint8

const (
	WaitSleep WaitCondKind = iota
	WaitQueueIO
	WaitWait
)

// WaitCond is the wait-condition slot consulted by can_wake.
type WaitCond struct {
	Kind WaitCondKind
	// PC/SP are set by thread_preempt to redirect a sleeping thread,
	// mirroring thread_wait_cond's role as a rendezvous for signal
	// delivery.
	PC, SP uint64
}

// Process owns a VM container, thread list, children list, credentials and
// exit status.
type Process struct {
	mu sync.Mutex

	Parent  *Process
	PID     uint64
	nextTID uint64

	Cmd string

	state ProcessState

	VM *vmspace.Table

	Children []*Process
	Threads  []*Thread

	ExitCode    int32
	exitCodeSet bool
}

// State returns the process's current state.
func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

var (
	pidCounter uint64
	tidCounter uint64
)

// InitProcess zeroes proc's fields, assigns a pid, initializes its VM
// container, and copies cmd (init_process).
func InitProcess(cmd string) *Process {
	p := &Process{
		PID: atomic.AddUint64(&pidCounter, 1),
		Cmd: cmd,
	}
	p.VM = vmspace.NewTable(p.PID)
	klog.Thread(p.PID, 0).Infof("process created: %s", cmd)
	return p
}

// InitThread assigns a tid, zeroes context, and links thread into
// process.Threads (init_thread).
func InitThread(p *Process, name string) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextTID++
	t := &Thread{
		Process:     p,
		TID_:        atomic.AddUint64(&tidCounter, 1),
		Name:        name,
		RunningCore: -1,
	}
	p.Threads = append(p.Threads, t)
	return t
}

// defaultKthreadStackBytes matches bootcfg.Default's KernelThreadStackBytes,
// used when a caller passes stackBytes==0.
const defaultKthreadStackBytes = 1024 * 1024

// CreateKernelThread allocates a thread flagged FlagKernelThread with the
// given kernel stack budget (create_kthread), 0 meaning
// defaultKthreadStackBytes. entry/arg are opaque to this package: the
// caller (cmd/kctl, or a test) is responsible for seeding Context with an
// arch-appropriate frame that resumes at entry with arg in its first
// argument register. Actually carving out stackBytes of memory is an
// external page-allocator's concern; this just records the budget on the
// thread for that allocator to honor.
func CreateKernelThread(p *Process, name string, entry uintptr, arg uintptr, stackBytes uint64, sc SchedClass) *Thread {
	if stackBytes == 0 {
		stackBytes = defaultKthreadStackBytes
	}

	t := InitThread(p, name)
	t.Flags |= FlagKernelThread
	t.SchedClass = sc
	t.state = ThreadRunning
	t.StackBytes = stackBytes

	if sc != nil {
		sc.Enqueue(t)
	}
	return t
}

// MarkZombie transitions thread to ThreadDead (mark_zombie). Safe to call
// cross-PE while the caller holds the remote run-queue lock.
func MarkZombie(t *Thread) {
	t.setState(ThreadDead)
}

// MarkProcessZombie sets state=ZOMBIE and records exitCode, first writer
// wins (the exit_group race describes).
func MarkProcessZombie(p *Process, exitCode int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ProcessZombie {
		return
	}
	p.state = ProcessZombie
	if !p.exitCodeSet {
		p.ExitCode = exitCode
		p.exitCodeSet = true
	}
}

// Suspend transitions thread out of RUNNING into the given wait condition
// (thread_wait_for_cond): a thread suspends only by changing its state away
// from RUNNING and then entering schedule. The actual call into schedule is
// the caller's responsibility (pkg/sched).
func Suspend(t *Thread, kind WaitCondKind) {
	t.WaitCond = WaitCond{Kind: kind}
	t.setState(ThreadSleeping)
}

// FreeThread releases thread after reap; never called while
// t.RunningCore != -1 (free_thread).
func FreeThread(t *Thread) error {
	if t.RunningCore != -1 {
		return fmt.Errorf("kernel: FreeThread: tid %d still running on core %d", t.TID_, t.RunningCore)
	}
	t.Context = nil
	return nil
}

// FreeProcess releases process after all of its threads have been freed
// (free_process).
func FreeProcess(p *Process) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.Threads {
		if t.RunningCore != -1 {
			return fmt.Errorf("kernel: FreeProcess: pid %d has thread %d still running", p.PID, t.TID_)
		}
	}
	p.Threads = nil
	return nil
}

// ReapProcess performs the parent-side collection of a zombie child: it
// frees every thread (each must already be DEAD), frees the process, and
// detaches it from the parent's children list. This core reaps eagerly as
// soon as exit_group has transitioned every sibling, rather than modeling a
// separate wait4-driven reap syscall, since no such syscall is in scope.
func ReapProcess(parent, child *Process) (exitCode int32, err error) {
	if child.State() != ProcessZombie {
		return 0, kerrno.ESRCH
	}
	for _, t := range child.Threads {
		if t.State() != ThreadDead {
			return 0, fmt.Errorf("kernel: ReapProcess: pid %d thread %d not dead", child.PID, t.TID_)
		}
		if ferr := FreeThread(t); ferr != nil {
			return 0, ferr
		}
	}
	if ferr := FreeProcess(child); ferr != nil {
		return 0, ferr
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	return child.ExitCode, nil
}

// FirstThreadByPID returns the first thread of the process with the given
// pid among procs (get_first_thread_by_pid), or nil.
func FirstThreadByPID(procs []*Process, pid uint64) *Thread {
	for _, p := range procs {
		if p.PID != pid {
			continue
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.Threads) == 0 {
			return nil
		}
		return p.Threads[0]
	}
	return nil
}

// CanWake reports whether t's wait condition is satisfied and it may
// transition SLEEPING -> RUNNING (can_wake_thread).
func CanWake(t *Thread) bool {
	return t.State() == ThreadSleeping
}

// WakeThread transitions a sleeping thread to RUNNING and enqueues it
// (wake_thread).
func WakeThread(t *Thread) {
	if !CanWake(t) {
		return
	}
	t.setState(ThreadRunning)
	if t.SchedClass != nil {
		t.SchedClass.Enqueue(t)
	}
}
