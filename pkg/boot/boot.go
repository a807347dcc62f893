// Package boot implements multicore bring-up: the primary PE initializes
// global state, starts each secondary via the firmware CPU_ON call, and
// every PE (primary and secondary) synchronizes on the "booted" and
// "vm_ready" barriers before entering its scheduler loop. Grounded on the
// original C sources.c's kernel_main/kernel_main2 (the booted/vm_ready
// atomics and their acquire/release ordering) and kernel_main2's per-PE
// init call order (core_init/arch_init/vm_set_kernel/sched_local_init/
// enable_xrq).
//
// Starting the secondaries concurrently is modeled with
// golang.org/x/sync/errgroup rather than the original's bare loop over
// CPU_ON calls, since each secondary's boot is an independent unit of work
// whose failure should be collected, not silently skipped (the C source
// only logs). github.com/cenkalti/backoff wraps each CPU_ON call: PSCI
// CPU_ON can transiently fail on real hardware while a sibling core is
// mid-reset, and "log on failure" alone would drop those transient faults
// on the floor — retrying with backoff before giving up is the
// idiomatic-Go reading of that contract.
package boot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/beehive-os/kernel/internal/firmware"
	"github.com/beehive-os/kernel/internal/klog"
	"github.com/beehive-os/kernel/pkg/arch"
	"github.com/beehive-os/kernel/pkg/intctrl"
	"github.com/beehive-os/kernel/pkg/percpu"
	"github.com/beehive-os/kernel/pkg/vmspace"
)

// SpinTable is the per-PE spin-table: entry i is the initial stack pointer
// handed to PE i by the boot stub. Fixed at 256 entries to match the
// well-known-symbol contract the boot stub expects.
type SpinTable [256]uintptr

// defaultBootStackBytes matches bootcfg.Default's BootStackBytes, used when
// a caller builds a Config directly instead of through bootcfg.Load.
const defaultBootStackBytes = 128 * 1024

// PerPEInit is the per-PE initialization sequence run by every PE
// (primary and secondary) inside kernel_main2, injected so pkg/boot does
// not need to import every leaf package's initialization details beyond
// what it orchestrates directly.
type PerPEInit func(peID uint32)

// Config bundles the collaborators bring-up coordinates.
type Config struct {
	NPEs     uint32
	Firmware firmware.Firmware
	IC       *intctrl.Driver
	MMU      *vmspace.MMU
	KernelVM *vmspace.Table

	// SecondaryEntry is the physical address secondaries resume at,
	// handed to CPU_ON as the entry argument.
	SecondaryEntry uintptr

	// BootStackBytes sizes each secondary's boot stack (bootcfg.Config's
	// BootStackBytes, CORE_BOOT_SP_SIZE in arch.c). 0 falls back to
	// defaultBootStackBytes.
	BootStackBytes uint64

	// PerPE runs after a PE's arch/intctrl/vmspace primitives are wired,
	// mirroring kernel_main2's sched_local_init call for that PE.
	PerPE PerPEInit
}

// Barriers holds the two acquire/release-ordered boot barriers: no PE
// touches the scheduler before vm_ready==1, and the primary does not set
// vm_ready before booted==n_cpus.
type Barriers struct {
	booted  int64
	vmReady int32
}

// MarkBooted increments the booted counter (acquire/release semantics via
// atomic add) and returns the new count.
func (b *Barriers) MarkBooted() int64 {
	return atomic.AddInt64(&b.booted, 1)
}

// Booted reads the current booted count.
func (b *Barriers) Booted() int64 {
	return atomic.LoadInt64(&b.booted)
}

// AwaitBooted busy-waits until booted == n, mirroring the primary's spin
// loop in kernel_main2.
func (b *Barriers) AwaitBooted(ctx context.Context, n int64) error {
	for b.Booted() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// SetVMReady sets vm_ready=1 (release store); must only be called by the
// primary after AwaitBooted succeeds.
func (b *Barriers) SetVMReady() {
	atomic.StoreInt32(&b.vmReady, 1)
}

// AwaitVMReady busy-waits until vm_ready==1 (acquire load), the barrier
// every secondary spins on before touching the scheduler.
func (b *Barriers) AwaitVMReady(ctx context.Context) error {
	for atomic.LoadInt32(&b.vmReady) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// StartSecondaries allocates a boot stack for each secondary PE (1..n-1),
// publishes it in table, and issues CPU_ON for each with retry-with-backoff,
// concurrently via an errgroup so a single slow or failing secondary does
// not stall the others.
func StartSecondaries(ctx context.Context, cfg Config, table *SpinTable, allocStack func(bytes uint64) uintptr) error {
	g, gctx := errgroup.WithContext(ctx)

	stackBytes := cfg.BootStackBytes
	if stackBytes == 0 {
		stackBytes = defaultBootStackBytes
	}

	for i := uint32(1); i < cfg.NPEs; i++ {
		i := i
		g.Go(func() error {
			stackTop := allocStack(stackBytes)
			table[i] = stackTop

			op := func() error {
				err := cfg.Firmware.CPUOn(uint64(i), cfg.SecondaryEntry)
				if err != nil {
					klog.PE(i).Warnf("CPU_ON failed, retrying: %v", err)
				}
				return err
			}
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			if err := backoff.Retry(op, backoff.WithContext(b, gctx)); err != nil {
				return fmt.Errorf("boot: starting pe %d: %w", i, err)
			}
			arch.MemoryBarrier() // SEV-equivalent: wake PEs parked in WFE
			return nil
		})
	}

	return g.Wait()
}

// PerPEEntry runs the shared per-PE init sequence every PE executes after
// the boot stub hands control to Go (kernel_main2's per-PE half), then
// participates in the booted/vm_ready barrier protocol.
func PerPEEntry(ctx context.Context, peID uint32, cfg Config, barriers *Barriers) error {
	pe := arch.New(peID, cfg.Firmware)
	pe.EnableFloatingPoint()

	cfg.MMU.SetKernelTable(peID)
	cfg.MMU.EnableTranslation(peID)

	if cfg.PerPE != nil {
		cfg.PerPE(peID)
	}

	klog.PE(peID).Infof("booted core")
	barriers.MarkBooted()

	if peID == 0 {
		if err := barriers.AwaitBooted(ctx, int64(cfg.NPEs)); err != nil {
			return err
		}
		barriers.SetVMReady()
	} else {
		if err := barriers.AwaitVMReady(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopCores broadcasts SGIHaltCore to every other PE and powers off the
// calling PE, the unrecoverable-kernel-fault termination path. This is
// distinct from SGIThreadStop, which only ever kills the single sibling
// thread exit_group targets: a receiving PE must be able to tell "one of my
// threads died" apart from "the whole kernel is halting."
func StopCores(self uint32, ic *intctrl.Driver, pe *arch.PE) {
	if ic != nil {
		ic.SendSGIAllOther(self, intctrl.SGIHaltCore)
	}
	_ = pe.PowerOff()
}

// InitPLSFromTree mirrors init_pls's n_pes argument, derived from
// devicetree_count_dev_type("cpu") in the original.
func InitPLSFromTree(cpuCount int) {
	percpu.InitPLS(uint32(cpuCount))
}
