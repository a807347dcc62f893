// Package bootcfg loads kernel boot-time parameters from an optional TOML
// file, the way a hosted Go service would, even though the original C
// kernel only had compile-time #defines. Compiled-in defaults match those
// #define values exactly.
package bootcfg

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config holds the tunables the core treats as boot-time constants.
type Config struct {
	// NPEs sets the PE count; 0 means "not set". cmd/kctl then uses its
	// -npes flag, or 1 PE when that is 0 too; no device tree is consulted.
	NPEs uint32 `toml:"n_pes"`

	// BootStackBytes is the per-secondary-PE boot stack size
	// (CORE_BOOT_SP_SIZE in arch.c, default 128 KiB).
	BootStackBytes uint64 `toml:"boot_stack_bytes"`

	// KernelThreadStackBytes is the default kernel-thread stack size
	// (KTHREAD_STACK_SIZE in thread.h, default 1 MiB).
	KernelThreadStackBytes uint64 `toml:"kthread_stack_bytes"`

	// DefaultIRQPriority is used by enable_irq_on_cpu when the caller omits
	// a priority.
	DefaultIRQPriority uint8 `toml:"default_irq_priority"`

	// SchedulerQuantumTicks bounds how many timer ticks a deadline-class
	// thread runs before tick requests a reschedule.
	SchedulerQuantumTicks uint64 `toml:"scheduler_quantum_ticks"`
}

// Default returns the compiled-in defaults, matching the C source's
// #define constants.
func Default() Config {
	return Config{
		NPEs:                   0,
		BootStackBytes:         128 * 1024,
		KernelThreadStackBytes: 1024 * 1024,
		DefaultIRQPriority:     0x10,
		SchedulerQuantumTicks:  4,
	}
}

// Load reads a TOML file at path, overlaying it onto Default(). A missing
// or empty path is not an error; it simply yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("bootcfg: decoding %s: %w", path, err)
	}
	return cfg, nil
}
