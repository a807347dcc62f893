package boot

import (
	"context"
	"testing"
	"time"

	"github.com/beehive-os/kernel/internal/firmware"
	"github.com/beehive-os/kernel/pkg/arch"
	"github.com/beehive-os/kernel/pkg/intctrl"
	"github.com/beehive-os/kernel/pkg/percpu"
	"github.com/beehive-os/kernel/pkg/vmspace"
)

func TestBarriersVMReadyWaitsForAllBooted(t *testing.T) {
	b := &Barriers{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	b.MarkBooted()
	b.MarkBooted()
	if err := b.AwaitBooted(ctx, 2); err != nil {
		t.Fatalf("AwaitBooted = %v, want nil once count reached", err)
	}
	b.SetVMReady()
	if err := b.AwaitVMReady(ctx); err != nil {
		t.Fatalf("AwaitVMReady = %v, want nil", err)
	}
}

func TestAwaitBootedTimesOutIfNeverReached(t *testing.T) {
	b := &Barriers{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.AwaitBooted(ctx, 4); err == nil {
		t.Error("AwaitBooted = nil, want context deadline error")
	}
}

func TestStartSecondariesPublishesStacksAndCallsCPUOn(t *testing.T) {
	var started []uint64
	fw := &firmware.Simulated{Start: func(affinity uint64) error {
		started = append(started, affinity)
		return nil
	}}
	cfg := Config{NPEs: 3, Firmware: fw, SecondaryEntry: 0x80000000}
	var table SpinTable
	allocated := 0
	allocStack := func(bytes uint64) uintptr {
		allocated++
		return uintptr(0x90000000 + allocated*0x1000)
	}

	if err := StartSecondaries(context.Background(), cfg, &table, allocStack); err != nil {
		t.Fatalf("StartSecondaries = %v, want nil", err)
	}
	if len(started) != 2 {
		t.Fatalf("CPU_ON called %d times, want 2 (for PEs 1 and 2)", len(started))
	}
	if table[1] == 0 || table[2] == 0 {
		t.Errorf("SpinTable entries not published: %v", table[:3])
	}
}

func TestStartSecondariesRetriesOnTransientFailure(t *testing.T) {
	fw := &firmware.Simulated{Fail: map[uint64]int{1: 2}}
	cfg := Config{NPEs: 2, Firmware: fw, SecondaryEntry: 0x1000}
	var table SpinTable
	if err := StartSecondaries(context.Background(), cfg, &table, func(uint64) uintptr { return 0x1000 }); err != nil {
		t.Fatalf("StartSecondaries = %v, want nil after transient failures exhaust", err)
	}
}

func TestPerPEEntryPrimaryThenSecondary(t *testing.T) {
	percpu.InitPLS(2)
	mmu := vmspace.NewMMU()
	mmu.InitKernelTable(vmspace.NewTable(0))
	cfg := Config{NPEs: 2, Firmware: &firmware.Simulated{}, MMU: mmu}
	barriers := &Barriers{}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- PerPEEntry(ctx, 1, cfg, barriers) }()

	// secondary should be blocked on vm_ready until the primary runs.
	select {
	case err := <-done:
		t.Fatalf("secondary PerPEEntry returned early (err=%v), want it blocked on vm_ready", err)
	case <-time.After(30 * time.Millisecond):
	}

	if err := PerPEEntry(ctx, 0, cfg, barriers); err != nil {
		t.Fatalf("primary PerPEEntry = %v, want nil", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("secondary PerPEEntry = %v, want nil", err)
	}
	if !mmu.TranslationEnabled(0) || !mmu.TranslationEnabled(1) {
		t.Error("EnableTranslation not called for both PEs")
	}
}

func TestStopCoresBroadcastsAndPowersOff(t *testing.T) {
	ic := intctrl.New(3)
	fw := &firmware.Simulated{}
	pe := arch.New(0, fw)
	StopCores(0, ic, pe)

	for _, other := range []uint32{1, 2} {
		select {
		case sgi := <-ic.Inbox(other):
			if sgi != intctrl.SGIHaltCore {
				t.Errorf("Inbox(%d) = %d, want SGIHaltCore", other, sgi)
			}
		default:
			t.Errorf("Inbox(%d) empty, want SGIHaltCore", other)
		}
	}
	if !fw.PoweredOff() {
		t.Error("firmware.PowerOff was not invoked")
	}
}
