package syscall

import (
	"github.com/beehive-os/kernel/internal/clocksource"
	"github.com/beehive-os/kernel/internal/kerrno"
	"github.com/beehive-os/kernel/internal/klog"
	"github.com/beehive-os/kernel/pkg/intctrl"
	"github.com/beehive-os/kernel/pkg/kernel"
	"github.com/beehive-os/kernel/pkg/percpu"
	"github.com/beehive-os/kernel/pkg/sched"
)

// Env bundles the collaborators representative syscall handlers need:
// simulated physical memory, the process table, the interrupt controller
// (for exit_group's cross-PE SGI), and the scheduler class threads are
// enqueued against. Grounded on the original C sources.c and
// syscall_time.c, whose handlers close over the same global kernel state
// this struct makes explicit.
type Env struct {
	RAM       *RAM
	Sched     *sched.Deadline
	IC        *intctrl.Driver
	Processes []*kernel.Process
}

// Register installs the representative syscalls into t.
func (e *Env) Register(t *Table) {
	t.Register(SchedYield, e.schedYield)
	t.Register(SchedGetaffinity, e.schedGetaffinity)
	t.Register(Exit, e.exit)
	t.Register(ExitGroup, e.exitGroup)
	t.Register(ThreadStart, e.threadStart)
	t.Register(ThreadPreempt, e.threadPreempt)
	t.Register(GetTime, e.getTime)
}

// schedYield implements sched_yield: calls schedule and returns 0.
// "Calling schedule" here means dequeuing, immediately re-enqueuing (so
// the thread loses its place at the head of the run queue), and returning;
// this handler does not call PickNext itself, and neither does pkg/trap:
// Vectors.Exit resumes whichever thread its caller passes as next.
func (e *Env) schedYield(th *kernel.Thread, args [6]uint64) int64 {
	e.Sched.Dequeue(th)
	th.SchedEntity.Deadline = 0
	e.Sched.Enqueue(th)
	e.Sched.YieldCurrent(peOf(th))
	return 0
}

// schedGetaffinity implements sched_getaffinity(pid, *u64): validates the
// pointer, locates the first thread of pid, copies out its affinity.
func (e *Env) schedGetaffinity(th *kernel.Thread, args [6]uint64) int64 {
	pid := args[0]
	affinityVA := uintptr(args[1])

	target := kernel.FirstThreadByPID(e.Processes, pid)
	if target == nil {
		return kerrno.ESRCH.Value()
	}

	var buf [8]byte
	putUint64(buf[:], target.Affinity)

	pls := percpu.Get(peOf(th))
	if ec := CopyToUser(pls, th.Process.VM, e.RAM, affinityVA, buf[:]); ec != 0 {
		return ec.Value()
	}
	return 0
}

// exit implements exit(code): marks the calling thread DEAD and returns;
// the trap exit path picks a different thread.
func (e *Env) exit(th *kernel.Thread, args [6]uint64) int64 {
	kernel.MarkZombie(th)
	klog.Thread(th.Process.PID, th.TID()).Infof("thread ended")
	return 0
}

// exitGroup implements exit_group(code): sets process state ZOMBIE and
// exitCode (first writer wins), then marks every sibling DEAD, taking the
// remote run-queue lock and sending SGIThreadStop for siblings running on
// another PE.
func (e *Env) exitGroup(th *kernel.Thread, args [6]uint64) int64 {
	code := int32(args[0])
	proc := th.Process
	kernel.MarkZombie(th)
	kernel.MarkProcessZombie(proc, code)

	for _, sibling := range proc.Threads {
		if sibling == th {
			continue
		}
		if sibling.RunningCore >= 0 {
			core := uint32(sibling.RunningCore)
			e.Sched.WithRunQueueLock(core, func() {
				kernel.MarkZombie(sibling)
			})
			if e.IC != nil {
				e.IC.SendSGI(core, intctrl.SGIThreadStop)
			}
		} else {
			kernel.MarkZombie(sibling)
		}
	}

	if proc.Parent != nil {
		if _, rerr := kernel.ReapProcess(proc.Parent, proc); rerr != nil {
			klog.Thread(proc.PID, th.TID()).Warnf("reap failed: %v", rerr)
		}
	}

	klog.Thread(proc.PID, th.TID()).Infof("process exit: code=%d", code)
	return 0
}

// threadStart implements thread_start(func, stack, arg): validates
// pointers, allocates a thread, sets PC/SP/arg0, links it into the
// process's thread list, enqueues it, and returns the new tid.
func (e *Env) threadStart(th *kernel.Thread, args [6]uint64) int64 {
	funcVA := uintptr(args[0])
	stackVA := uintptr(args[1])
	arg := args[2]

	vm := th.Process.VM
	if ec := AccessOk(vm, AccessRead, funcVA, 1); ec != 0 {
		return ec.Value()
	}
	if ec := AccessOk(vm, AccessWrite, stackVA, 1); ec != 0 {
		return ec.Value()
	}

	newThread := kernel.InitThread(th.Process, "thread")
	newThread.Context = ThreadContext{PC: uint64(funcVA), SP: uint64(stackVA), Arg0: arg}
	newThread.SchedClass = th.SchedClass
	newThread.Affinity = th.Affinity

	// A freshly created thread starts RUNNING (thread.h's default state),
	// so it is enqueued directly rather than through WakeThread, which
	// only transitions threads out of SLEEPING.
	e.Sched.Enqueue(newThread)

	klog.Thread(th.Process.PID, newThread.TID()).Infof("new thread started")
	return int64(newThread.TID())
}

// threadPreempt implements thread_preempt(tid, pc, sp): redirects a
// sibling thread currently SLEEPING to a new PC/SP, used to deliver
// synchronous signals. Fails -EBUSY if the target is not sleeping.
//
// Before overwriting, it reserves a 16-byte trampoline frame below the new
// SP and writes the target's old PC and a zero frame pointer into it
// (saved-LR/saved-FP slots), so that when the redirected code eventually
// returns, it unwinds back into the context thread_preempt interrupted
// instead of falling off the end of the handler it was diverted to.
func (e *Env) threadPreempt(th *kernel.Thread, args [6]uint64) int64 {
	tid := args[0]
	pc := args[1]
	sp := args[2]

	var target *kernel.Thread
	for _, sibling := range th.Process.Threads {
		if sibling.TID() == tid {
			target = sibling
			break
		}
	}
	if target == nil {
		return kerrno.ENOENT.Value()
	}
	if target.State() != kernel.ThreadSleeping {
		return kerrno.EBUSY.Value()
	}

	ctx, _ := target.Context.(ThreadContext)
	oldPC := ctx.PC
	ctx.PC = pc
	if sp != 0 {
		ctx.SP = sp
	}
	ctx.SP -= 16

	vm := th.Process.VM
	pls := percpu.Get(peOf(th))

	var savedPC [8]byte
	putUint64(savedPC[:], oldPC)
	if ec := CopyToUser(pls, vm, e.RAM, uintptr(ctx.SP+8), savedPC[:]); ec != 0 {
		return ec.Value()
	}
	var savedFP [8]byte
	if ec := CopyToUser(pls, vm, e.RAM, uintptr(ctx.SP), savedFP[:]); ec != 0 {
		return ec.Value()
	}

	target.Context = ctx

	kernel.WakeThread(target)
	return 0
}

// getTime implements get_time(clock_type, *timespec): clock_type 0 = RTC
// wall-clock seconds+nanoseconds, 1 = GLOBAL monotonic nanoseconds.
func (e *Env) getTime(th *kernel.Thread, args [6]uint64) int64 {
	clockType := args[0]
	timevalVA := uintptr(args[1])

	switch clockType {
	case 0: // RTC
		vm := th.Process.VM
		if ec := AccessOk(vm, AccessWrite, timevalVA, 16); ec != 0 {
			return ec.Value()
		}
		rtc := clocksource.First(clocksource.RTC)
		if rtc == nil {
			return kerrno.ENOENT.Value()
		}
		seconds := int64(rtc.Value())

		var nanoseconds uint64
		if global := clocksource.First(clocksource.Global); global != nil {
			cc, freq := global.Value(), global.Freq()
			if freq != 0 {
				wholeSeconds := cc / freq
				clockNanos := uint64(1_000_000_000) / freq
				nanoseconds = (cc - wholeSeconds*freq) * clockNanos
			}
		}

		var buf [16]byte
		putInt64(buf[0:8], seconds)
		putUint64(buf[8:16], nanoseconds)

		pls := percpu.Get(peOf(th))
		if ec := CopyToUser(pls, vm, e.RAM, timevalVA, buf[:]); ec != 0 {
			return ec.Value()
		}
		return 0

	case 1: // monotonic
		global := clocksource.First(clocksource.Global)
		if global == nil {
			return 0
		}
		cc, freq := global.Value(), global.Freq()
		if freq == 0 {
			return 0
		}
		clockNanos := uint64(1_000_000_000) / freq
		return int64(cc * clockNanos)

	default:
		return kerrno.EINVAL.Value()
	}
}

// ThreadContext is the minimal saved-register shape representative
// syscalls populate (PC/SP/first argument register); the full trap-frame
// shape lives in pkg/trap and is stored opaquely on kernel.Thread.Context.
type ThreadContext struct {
	PC, SP, Arg0 uint64
}

// peOf resolves the PE a thread is presently associated with for
// percpu/sched lookups: RunningCore if set, else its pinned affinity.
func peOf(th *kernel.Thread) uint32 {
	if th.RunningCore >= 0 {
		return uint32(th.RunningCore)
	}
	return uint32(th.Affinity)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putInt64(b []byte, v int64) {
	putUint64(b, uint64(v))
}
