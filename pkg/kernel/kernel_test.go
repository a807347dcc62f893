package kernel

import "testing"

type fakeSchedClass struct {
	enqueued []*Thread
}

func (f *fakeSchedClass) Enqueue(t *Thread)            { f.enqueued = append(f.enqueued, t) }
func (f *fakeSchedClass) Dequeue(t *Thread)             {}
func (f *fakeSchedClass) PickNext(peID uint32) *Thread  { return nil }
func (f *fakeSchedClass) Tick(peID uint32) bool         { return false }
func (f *fakeSchedClass) YieldCurrent(peID uint32)      {}

func TestInitProcessAssignsUniquePID(t *testing.T) {
	p1 := InitProcess("a")
	p2 := InitProcess("b")
	if p1.PID == p2.PID {
		t.Errorf("PID collision: %d == %d", p1.PID, p2.PID)
	}
	if p1.VM == nil {
		t.Error("InitProcess did not allocate a VM table")
	}
}

func TestInitThreadLinksIntoProcess(t *testing.T) {
	p := InitProcess("proc")
	th := InitThread(p, "main")
	if th.Process != p {
		t.Error("thread.Process != p")
	}
	if len(p.Threads) != 1 || p.Threads[0] != th {
		t.Errorf("p.Threads = %v, want [th]", p.Threads)
	}
	if th.RunningCore != -1 {
		t.Errorf("RunningCore = %d, want -1", th.RunningCore)
	}
}

func TestCreateKernelThreadSetsFlagsAndEnqueues(t *testing.T) {
	p := InitProcess("kproc")
	sc := &fakeSchedClass{}
	th := CreateKernelThread(p, "kworker", 0x1000, 0, 0, sc)
	if th.Flags&FlagKernelThread == 0 {
		t.Error("FlagKernelThread not set")
	}
	if th.State() != ThreadRunning {
		t.Errorf("State() = %v, want ThreadRunning", th.State())
	}
	if th.StackBytes != defaultKthreadStackBytes {
		t.Errorf("StackBytes = %d, want default %d", th.StackBytes, defaultKthreadStackBytes)
	}
	if len(sc.enqueued) != 1 || sc.enqueued[0] != th {
		t.Errorf("SchedClass.Enqueue not called with th")
	}
}

func TestMarkZombieAndFreeThreadRequiresNotRunning(t *testing.T) {
	p := InitProcess("p")
	th := InitThread(p, "t")
	th.RunningCore = 2
	MarkZombie(th)
	if th.State() != ThreadDead {
		t.Fatalf("State() = %v, want ThreadDead", th.State())
	}
	if err := FreeThread(th); err == nil {
		t.Error("FreeThread succeeded while RunningCore != -1, want error")
	}
	th.RunningCore = -1
	if err := FreeThread(th); err != nil {
		t.Errorf("FreeThread = %v, want nil", err)
	}
}

func TestMarkProcessZombieFirstWriterWins(t *testing.T) {
	p := InitProcess("p")
	MarkProcessZombie(p, 7)
	MarkProcessZombie(p, 9)
	if p.State() != ProcessZombie {
		t.Fatalf("State() = %v, want ProcessZombie", p.State())
	}
	if p.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7 (first writer wins)", p.ExitCode)
	}
}

func TestReapProcessRequiresZombieAndDeadThreads(t *testing.T) {
	parent := InitProcess("parent")
	child := InitProcess("child")
	parent.Children = append(parent.Children, child)
	th := InitThread(child, "t")

	if _, err := ReapProcess(parent, child); err == nil {
		t.Fatal("ReapProcess on non-zombie child succeeded, want ESRCH")
	}

	MarkProcessZombie(child, 3)
	if _, err := ReapProcess(parent, child); err == nil {
		t.Fatal("ReapProcess with a non-dead thread succeeded, want error")
	}

	MarkZombie(th)
	code, err := ReapProcess(parent, child)
	if err != nil {
		t.Fatalf("ReapProcess = %v, want nil", err)
	}
	if code != 3 {
		t.Errorf("ReapProcess exitCode = %d, want 3", code)
	}
	if len(parent.Children) != 0 {
		t.Errorf("parent.Children = %v, want empty after reap", parent.Children)
	}
}

func TestWakeThreadOnlyWakesSleeping(t *testing.T) {
	p := InitProcess("p")
	th := InitThread(p, "t")
	sc := &fakeSchedClass{}
	th.SchedClass = sc

	WakeThread(th) // not sleeping: no-op
	if len(sc.enqueued) != 0 {
		t.Fatal("WakeThread enqueued a non-sleeping thread")
	}

	th.setState(ThreadSleeping)
	WakeThread(th)
	if th.State() != ThreadRunning {
		t.Errorf("State() = %v, want ThreadRunning", th.State())
	}
	if len(sc.enqueued) != 1 {
		t.Errorf("WakeThread did not enqueue")
	}
}

func TestFirstThreadByPID(t *testing.T) {
	p := InitProcess("p")
	th := InitThread(p, "t")
	if got := FirstThreadByPID([]*Process{p}, p.PID); got != th {
		t.Errorf("FirstThreadByPID = %v, want %v", got, th)
	}
	if got := FirstThreadByPID([]*Process{p}, p.PID+100); got != nil {
		t.Errorf("FirstThreadByPID for unknown pid = %v, want nil", got)
	}
}
