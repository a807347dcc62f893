// Package sched implements a deadline-ordered scheduler class against the
// pkg/kernel.SchedClass capability set: enqueue/dequeue/pick_next/tick/
// yield_current, a per-PE run queue guarded by its own lock, and cross-PE
// enqueue that pings the target with SGIReschedule. Grounded on the
// original C sources.h's sched_entity_t (deadline, last_deadline, prio)
// and kernel/main.c's scheduler wiring; ordered with github.com/google/btree
// rather than the original's intrusive list, since Go has no splice-free
// equivalent of list_head and btree gives pick_next its O(log n)
// "smallest deadline" query for free.
//
// The run queue is owned here, addressed by PE id, rather than embedded
// inside percpu.PLS: pkg/percpu stays a leaf package that imports no other
// kernel package, and embedding a kernel.Thread-typed queue inside percpu
// would make percpu depend on kernel. Keeping the queue here
// means sched depends on kernel (to manipulate *kernel.Thread) without
// kernel depending back on sched.
package sched

import (
	"sync"

	"github.com/google/btree"

	"github.com/beehive-os/kernel/pkg/intctrl"
	"github.com/beehive-os/kernel/pkg/kernel"
)

// item adapts *kernel.Thread to btree.Item, ordered by (deadline, tid) so
// equal deadlines still produce a total order instead of colliding in the
// tree.
type item struct {
	thread *kernel.Thread
}

func (i item) Less(than btree.Item) bool {
	o := than.(item)
	d1, d2 := i.thread.SchedEntity.Deadline, o.thread.SchedEntity.Deadline
	if d1 != d2 {
		return d1 < d2
	}
	return i.thread.TID() < o.thread.TID()
}

type peQueue struct {
	mu        sync.Mutex
	tree      *btree.BTree
	ticksUsed uint64
}

// Deadline is a deadline-ordered kernel.SchedClass. A zero Deadline is not
// usable; construct with New.
type Deadline struct {
	ic           *intctrl.Driver
	queues       []*peQueue
	nextDeadline int64
	quantumTicks uint64

	mu sync.Mutex // guards nextDeadline
}

// New constructs a Deadline scheduler sized for nPEs run queues, sending
// reschedule SGIs through ic. The scheduler quantum (bootcfg's
// SchedulerQuantumTicks) starts disabled; set it with SetQuantumTicks.
func New(nPEs uint32, ic *intctrl.Driver) *Deadline {
	d := &Deadline{ic: ic, queues: make([]*peQueue, nPEs)}
	for i := range d.queues {
		d.queues[i] = &peQueue{tree: btree.New(32)}
	}
	return d
}

// SetQuantumTicks bounds how many Tick calls a PE's current thread may run
// before Tick forces a reschedule even when no other thread is runnable
// (bootcfg's SchedulerQuantumTicks). 0 disables the quantum, leaving Tick's
// decision to queue occupancy alone.
func (d *Deadline) SetQuantumTicks(n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quantumTicks = n
}

func (d *Deadline) queueFor(t *kernel.Thread) *peQueue {
	return d.QueueFor(targetPE(t))
}

// QueueFor returns the run queue owned by peID, for tests and diagnostics.
func (d *Deadline) QueueFor(peID uint32) *peQueue {
	return d.queues[peID]
}

// targetPE resolves the PE a thread's run queue lives on: its affinity if
// pinned, otherwise the PE it is currently running on, otherwise 0.
func targetPE(t *kernel.Thread) uint32 {
	if t.Affinity != 0 {
		return uint32(t.Affinity)
	}
	if t.RunningCore >= 0 {
		return uint32(t.RunningCore)
	}
	return 0
}

// nextDeadlineFor assigns a monotonically increasing synthetic deadline so
// fresh enqueues without an explicit deadline still interleave fairly
// (round-robin-by-deadline), matching sched_entity_t.last_deadline's role
// of deriving the next value from the last.
func (d *Deadline) nextDeadlineFor(t *kernel.Thread) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextDeadline++
	t.SchedEntity.LastDeadline = uint64(d.nextDeadline)
	return d.nextDeadline
}

// Enqueue implements kernel.SchedClass. It acquires the target PE's queue
// lock, inserts, and sends SGIReschedule to the target PE to wake it if it
// is parked in its idle loop. Same-PE and cross-PE enqueues take the same
// path: the SGI is sent on every enqueue.
func (d *Deadline) Enqueue(t *kernel.Thread) {
	if t.SchedEntity.Deadline == 0 {
		t.SchedEntity.Deadline = d.nextDeadlineFor(t)
	}
	pe := targetPE(t)
	q := d.QueueFor(pe)
	q.mu.Lock()
	q.tree.ReplaceOrInsert(item{thread: t})
	q.mu.Unlock()

	if d.ic != nil {
		d.ic.SendSGI(pe, intctrl.SGIReschedule)
	}
}

// Dequeue implements kernel.SchedClass, removing t from the queue of its
// current target PE (see targetPE). Other PEs' queues are not searched.
func (d *Deadline) Dequeue(t *kernel.Thread) {
	q := d.queueFor(t)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tree.Delete(item{thread: t})
}

// PickNext implements kernel.SchedClass: returns the runnable thread with
// the smallest deadline on peID's queue, or nil if empty (the idle case).
func (d *Deadline) PickNext(peID uint32) *kernel.Thread {
	q := d.QueueFor(peID)
	q.mu.Lock()
	defer q.mu.Unlock()
	min := q.tree.Min()
	if min == nil {
		return nil
	}
	it := min.(item)
	q.tree.Delete(it)
	it.thread.SchedEntity.Deadline = 0 // re-priced on next Enqueue
	q.ticksUsed = 0
	return it.thread
}

// Tick implements kernel.SchedClass: called from the timer IRQ handler.
// Reschedule is signaled whenever peID's queue holds another runnable
// thread, since a deadline scheduler always prefers the earliest deadline
// over letting the current thread run unbounded, or once the current
// thread has used up its scheduler quantum (SetQuantumTicks), whichever
// comes first.
func (d *Deadline) Tick(peID uint32) (reschedule bool) {
	d.mu.Lock()
	quantum := d.quantumTicks
	d.mu.Unlock()

	q := d.QueueFor(peID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tree.Len() > 0 {
		return true
	}
	if quantum == 0 {
		return false
	}
	q.ticksUsed++
	if q.ticksUsed >= quantum {
		q.ticksUsed = 0
		return true
	}
	return false
}

// YieldCurrent implements kernel.SchedClass: called by the sched_yield
// syscall handler, which has already dequeued/re-enqueued the calling
// thread by the time this runs. It does nothing: choosing the next thread
// is left to the next PickNext call on that PE.
func (d *Deadline) YieldCurrent(peID uint32) {}

// Len reports the number of runnable threads queued on peID, for tests.
func (d *Deadline) Len(peID uint32) int {
	q := d.QueueFor(peID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// WithRunQueueLock holds peID's run-queue lock for the duration of fn. The
// cross-PE exit_group fan-out and cross-PE wake both require callers
// outside this package to acquire it before mutating a thread that runs
// elsewhere.
func (d *Deadline) WithRunQueueLock(peID uint32, fn func()) {
	q := d.QueueFor(peID)
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}
