package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/beehive-os/kernel/internal/bootcfg"
	"github.com/beehive-os/kernel/internal/clocksource"
	"github.com/beehive-os/kernel/internal/devicetree"
	"github.com/beehive-os/kernel/internal/firmware"
	"github.com/beehive-os/kernel/internal/klog"
	"github.com/beehive-os/kernel/pkg/boot"
	"github.com/beehive-os/kernel/pkg/intctrl"
	"github.com/beehive-os/kernel/pkg/kernel"
	"github.com/beehive-os/kernel/pkg/percpu"
	"github.com/beehive-os/kernel/pkg/sched"
	"github.com/beehive-os/kernel/pkg/syscall"
	"github.com/beehive-os/kernel/pkg/trap"
	"github.com/beehive-os/kernel/pkg/vmspace"
)

// cluster bundles every collaborator a simulated multicore boot wires
// together, the assembly point kernel_main plays in the original C sources.
// kctl is where that assembly finally has a home, since pkg/boot
// deliberately stops short of importing pkg/sched or pkg/syscall (see
// pkg/boot's PerPEInit).
type cluster struct {
	cfg      bootcfg.Config
	npes     uint32
	fw       *firmware.Simulated
	ic       *intctrl.Driver
	mmu      *vmspace.MMU
	kernelVM *vmspace.Table
	sched    *sched.Deadline
	vectors  *trap.Vectors
	env      *syscall.Env
	table    *syscall.Table
	tree     *devicetree.Static

	procs []*kernel.Process
}

// newCluster constructs every collaborator and wires the syscall dispatch
// table, but does not yet run bring-up.
func newCluster(cfgPath string, npesOverride uint32) (*cluster, error) {
	cfg, err := bootcfg.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	npes := npesOverride
	if npes == 0 {
		npes = cfg.NPEs
	}
	if npes == 0 {
		npes = 1
	}

	tree := devicetree.NewStaticWithMemory(0x40000000, 0x10000000, int(npes))
	percpu.InitPLS(npes)

	global := clocksource.NewSimulated(clocksource.Global, 24_000_000)
	clocksource.Register(global)

	c := &cluster{
		cfg:      cfg,
		npes:     npes,
		fw:       &firmware.Simulated{},
		ic:       intctrl.New(npes),
		mmu:      vmspace.NewMMU(),
		kernelVM: vmspace.NewTable(0),
		tree:     tree,
	}
	c.mmu.InitKernelTable(c.kernelVM)
	c.sched = sched.New(npes, c.ic)
	c.sched.SetQuantumTicks(cfg.SchedulerQuantumTicks)

	c.env = &syscall.Env{RAM: syscall.NewRAM(), Sched: c.sched, IC: c.ic}
	c.table = syscall.NewTable()
	c.env.Register(c.table)

	c.vectors = &trap.Vectors{
		IC:    c.ic,
		MMU:   c.mmu,
		Sched: c.sched,
		Syscall: func(th *kernel.Thread, no uint64, args [6]uint64) int64 {
			return c.table.Dispatch(syscall.Number(no), th, args)
		},
	}
	c.vectors.AssignIRQHook(intctrl.SGIReschedule, func(irq uint32) {})
	c.vectors.AssignIRQHook(intctrl.SGIThreadStop, func(irq uint32) {})
	c.vectors.AssignIRQHook(intctrl.SGIHaltCore, func(irq uint32) {})

	return c, nil
}

// boot runs the full bring-up protocol across every simulated PE, mirroring
// kernel_main/kernel_main2's primary-then-secondaries handshake.
func (c *cluster) boot(ctx context.Context) error {
	var table boot.SpinTable
	stackCursor := uintptr(0x90000000)
	allocStack := func(bytes uint64) uintptr {
		stackCursor += uintptr(bytes)
		return stackCursor
	}

	cfg := boot.Config{
		NPEs:           c.npes,
		Firmware:       c.fw,
		IC:             c.ic,
		MMU:            c.mmu,
		KernelVM:       c.kernelVM,
		SecondaryEntry: 0x80000000,
		BootStackBytes: c.cfg.BootStackBytes,
		PerPE: func(peID uint32) {
			c.ic.EnableIRQOnCPU(peID, intctrl.SGIReschedule, c.cfg.DefaultIRQPriority, intctrl.Edge, intctrl.NonSecureGroup1)
			c.ic.EnableIRQOnCPU(peID, intctrl.SGIThreadStop, c.cfg.DefaultIRQPriority, intctrl.Edge, intctrl.NonSecureGroup1)
			c.ic.EnableIRQOnCPU(peID, intctrl.SGIHaltCore, c.cfg.DefaultIRQPriority, intctrl.Edge, intctrl.NonSecureGroup1)
		},
	}

	barriers := &boot.Barriers{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return boot.StartSecondaries(gctx, cfg, &table, allocStack) })
	for pe := uint32(0); pe < c.npes; pe++ {
		pe := pe
		g.Go(func() error { return boot.PerPEEntry(gctx, pe, cfg, barriers) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("kctl: bring-up: %w", err)
	}
	klog.Logf("cluster booted: %d PEs online", c.npes)
	return nil
}

// spawnDemoProcess creates one process with a main thread and one
// sched_yield-able worker, the smallest scenario that exercises the
// process/thread lifecycle and the scheduler's run queues end to end.
func (c *cluster) spawnDemoProcess(name string) *kernel.Process {
	p := kernel.InitProcess(name)
	p.VM = c.kernelVM
	main := kernel.InitThread(p, "main")
	main.RunningCore = 0
	worker := kernel.CreateKernelThread(p, "worker", 0, 0, c.cfg.KernelThreadStackBytes, c.sched)
	worker.Affinity = 1 % uint64(c.npes)
	c.procs = append(c.procs, p)
	return p
}
