// Package intctrl drives a GICv3-shaped three-tier interrupt controller —
// distributor, per-PE redistributor, per-PE CPU interface. Grounded on the
// original C sources.h's init_xrq/enable_xrq_n_prio/xrq_set_trigger_type/
// ack_xrq/send_soft_irq family, generalized from free functions over an
// implicit current-PE into methods on an explicit *Driver so multiple
// simulated controllers can coexist in tests.
package intctrl

import (
	"fmt"
	"sync"

	"github.com/beehive-os/kernel/internal/klog"
	"github.com/beehive-os/kernel/pkg/arch"
)

// Trigger selects edge- or level-sensitivity for an IRQ line.
type Trigger uint8

const (
	Level Trigger = iota
	Edge
)

// Group mirrors the GIC security-group classification; this core only
// targets the non-secure group-1 interrupts.
type Group uint8

const (
	NonSecureGroup1 Group = iota
)

// DefaultPriority is used by enable_irq_on_cpu when the caller omits an
// explicit priority.
const DefaultPriority uint8 = 0x10

// SGIMax is the exclusive upper bound of software-generated IRQ numbers.
const SGIMax = 16

// HaltCore and ThreadStop match the original firmware's SOFT_IRQ_HALT_CORE/
// SOFT_IRQ_THREAD_STOP wire values. Reschedule has no equivalent in the
// original and is assigned the next free SGI number rather than one of
// theirs, so a receiving PE can always tell a whole-kernel halt apart from a
// single sibling thread's death or a scheduler ping.
const (
	SGIHaltCore   uint8 = 0
	SGIThreadStop uint8 = 1
	SGIReschedule uint8 = 2
)

type lineConfig struct {
	enabledOnCPU map[uint32]bool
	priority     uint8
	trigger      Trigger
	group        Group
}

// Driver is a software model of the distributor + redistributor + CPU
// interface triad. A zero Driver is not usable; construct with New.
type Driver struct {
	mu      sync.Mutex
	nPEs    uint32
	lines   map[uint32]*lineConfig
	maxPrio uint8
	active  map[uint32]uint32 // PE id -> acknowledged, not-yet-EOI'd irq

	// inbox delivers unicast and broadcast SGIs to each PE; pkg/trap's
	// IRQ path (or tests) drains its own PE's channel.
	inbox []chan uint8
}

// New constructs a Driver sized for nPEs processing elements. Mirrors
// init_distributor (primary-only) followed by per-PE init_redistributor /
// init_cpu_interface, collapsed into one constructor since this model has
// no separate distributor-vs-redistributor register windows.
func New(nPEs uint32) *Driver {
	d := &Driver{
		nPEs:    nPEs,
		lines:   map[uint32]*lineConfig{},
		maxPrio: 0xff,
		active:  map[uint32]uint32{},
		inbox:   make([]chan uint8, nPEs),
	}
	for i := range d.inbox {
		d.inbox[i] = make(chan uint8, 64)
	}
	return d
}

func (d *Driver) line(irq uint32) *lineConfig {
	l, ok := d.lines[irq]
	if !ok {
		l = &lineConfig{enabledOnCPU: map[uint32]bool{}, priority: DefaultPriority, trigger: Level, group: NonSecureGroup1}
		d.lines[irq] = l
	}
	return l
}

// EnableIRQOnCPU routes irq to pe at the given priority/trigger/group,
// defaulting priority to DefaultPriority, trigger to Level and group to
// NonSecureGroup1 when zero-valued.
func (d *Driver) EnableIRQOnCPU(pe uint32, irq uint32, priority uint8, trigger Trigger, group Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pe >= d.nPEs {
		panic(fmt.Sprintf("intctrl: EnableIRQOnCPU: pe %d out of range [0,%d)", pe, d.nPEs))
	}
	l := d.line(irq)
	l.enabledOnCPU[pe] = true
	if priority != 0 {
		l.priority = priority
	}
	l.trigger = trigger
	l.group = group
	arch.MemoryBarrier()
}

// SetPriority sets irq's priority (set_priority). A line not configured
// before is created with the default trigger and group.
func (d *Driver) SetPriority(irq uint32, prio uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.line(irq).priority = prio
	arch.MemoryBarrier()
}

// GetMaxPriority returns the controller's maximum supported priority value
// (get_max_priority).
func (d *Driver) GetMaxPriority() uint8 {
	return d.maxPrio
}

// SetTrigger sets irq's trigger sensitivity (xrq_set_trigger_type).
func (d *Driver) SetTrigger(irq uint32, t Trigger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.line(irq).trigger = t
	arch.MemoryBarrier()
}

// Acknowledge retires the currently active irq for pe (ack_xrq): must be
// called exactly once per raised IRQ by the handler before unmasking.
func (d *Driver) Acknowledge(pe uint32, irq uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[pe] != irq {
		klog.PE(pe).Warnf("intctrl: acknowledge(%d) but active irq is %d", irq, d.active[pe])
	}
	delete(d.active, pe)
}

// Raise marks irq pending and delivered to pe, simulating a peripheral
// assertion for tests; it records the IRQ as the PE's active (unacknowledged)
// interrupt.
func (d *Driver) Raise(pe uint32, irq uint32) {
	d.mu.Lock()
	d.active[pe] = irq
	d.mu.Unlock()
}

// SendSGIAllOther broadcasts sgi to every PE except self (send_soft_irq_all_cores).
func (d *Driver) SendSGIAllOther(self uint32, sgi uint8) {
	if sgi >= SGIMax {
		panic(fmt.Sprintf("intctrl: SendSGIAllOther: sgi %d >= SGIMax", sgi))
	}
	for i := uint32(0); i < d.nPEs; i++ {
		if i == self {
			continue
		}
		d.SendSGI(i, sgi)
	}
}

// SendSGI unicasts sgi to target (send_soft_irq). Honoring the target PE
// specifically — rather than broadcasting — is implemented via a per-PE
// inbox channel so tests can assert exactly which PE was signaled.
func (d *Driver) SendSGI(target uint32, sgi uint8) {
	if sgi >= SGIMax {
		panic(fmt.Sprintf("intctrl: SendSGI: sgi %d >= SGIMax", sgi))
	}
	arch.MemoryBarrier()
	d.inbox[target] <- sgi
}

// Inbox returns the channel on which pe receives SGIs sent to it. pkg/trap's
// IRQ-entry simulation (and tests) read from this channel.
func (d *Driver) Inbox(pe uint32) <-chan uint8 {
	return d.inbox[pe]
}

// IsSGI reports whether irq is a software-generated IRQ number, the
// inline-vs-deferred test in the IRQ path ("< SGI_MAX").
func IsSGI(irq uint32) bool {
	return irq < SGIMax
}
