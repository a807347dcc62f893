// Package arch provides the architecture-identity primitives: PE identity,
// privilege level, halt/power-off, barriers, and FP enablement. Grounded on
// gvisor's pkg/sentry/arch (the Arch enum and the idea of a small
// architecture-capability surface) and on the original C sources' cpu_id/
// cpu_brand/wfi/enableFP/arch_poweroff, which this package re-expresses
// without inline assembly.
//
// A PE is modeled as a Go value bound to whichever goroutine drives that
// processing element's boot/scheduler loop (pkg/boot), rather than recovered
// from a hardware affinity register read with no arguments: cpu_id's
// no-argument signature is the PE's own knowledge of itself, which in a
// host-process model is most naturally threaded explicitly instead of
// recovered through OS-thread-local trickery.
package arch

import (
	"sync/atomic"

	"github.com/beehive-os/kernel/internal/firmware"
)

// Arch identifies the target instruction set, mirroring gvisor's Arch
// type (pkg/sentry/arch/arch.go); this core targets ARM64 exclusively.
type Arch int

const (
	ARM64 Arch = iota
)

func (a Arch) String() string {
	switch a {
	case ARM64:
		return "arm64"
	default:
		return "unknown"
	}
}

// Level mirrors the ARM64 exception-level concept consulted by pkg/trap to
// decide whether an exception interrupted user or kernel code. Since this
// process has no real hardware privilege rings, Level is carried explicitly
// on the simulated trap frame instead of read from a status register.
type Level uint8

const (
	EL0 Level = iota // user
	EL1              // kernel
)

// barrierCounter backs MemoryBarrier: a full data+instruction
// synchronization barrier has no literal Go equivalent, but an atomic
// read-modify-write establishes the same happens-before edge required
// around cross-PE thread-state mutation.
var barrierCounter int64

// MemoryBarrier establishes a full barrier, to be called around
// interrupt-controller register writes and before signaling another PE
// that has observed a state change.
func MemoryBarrier() {
	atomic.AddInt64(&barrierCounter, 1)
}

// PE represents one processing element's identity and arch-level
// capabilities.
type PE struct {
	id uint32
	fw firmware.Firmware
}

// New binds a PE value to the given hardware-affinity-derived index.
// Called once per PE at boot (pkg/boot.PerPEEntry).
func New(id uint32, fw firmware.Firmware) *PE {
	return &PE{id: id, fw: fw}
}

// ID returns this PE's index in [0, N_CPUS) (cpu_id).
func (p *PE) ID() uint32 { return p.id }

// Brand returns an implementation-defined identifier for the PE's
// microarchitecture (cpu_brand, MIDR_EL1 on real hardware). This host
// model returns a constant; real silicon values vary per SoC and are not
// load-bearing for any kernel invariant.
func (p *PE) Brand() uint64 { return 0x410fd0c0 }

// CurrentPrivilegeLevel returns the PE's own execution level. A PE created
// by pkg/boot always models the kernel's own level; EL0/EL1 for a *thread*
// being resumed is tracked on the trap frame instead (see pkg/trap).
func (p *PE) CurrentPrivilegeLevel() Level { return EL1 }

// WFI blocks until wake is signaled (closed or sent on) -- the
// host-process analogue of the `wfi` instruction used by the idle loop
// (wait_task in the original C sources).
func (p *PE) WFI(wake <-chan struct{}) {
	<-wake
}

// EnableFloatingPoint unmasks FP traps (enableFP in arch.c). The host
// process always has FP available; this is retained as a documented no-op
// call site so pkg/boot's per-PE init sequence mirrors core_init's call
// order exactly.
func (p *PE) EnableFloatingPoint() {}

// PowerOff issues the platform power-off firmware call (function id
// 0x84000008). Callers must treat a nil return as "does not return"; a
// non-nil return means the firmware call itself could not be issued.
func (p *PE) PowerOff() error {
	return p.fw.PowerOff()
}
