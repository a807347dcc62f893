// Package firmware models the platform firmware call interface: PSCI
// CPU_ON (0xC4000003) to start a secondary PE, and the power-off call
// (0x84000008). The original C sources issue these via `hvc 0` with the
// function id in x0; here they are an injected interface so pkg/boot and
// pkg/arch can be tested without real firmware.
package firmware

import "fmt"

// Function identifiers for the two firmware calls the core issues.
const (
	FnCPUOn    = 0xC4000003
	FnPowerOff = 0x84000008
)

// Firmware is the external collaborator consumed by pkg/boot (CPU_ON) and
// pkg/arch (poweroff).
type Firmware interface {
	// CPUOn starts the PE identified by affinity, which begins executing at
	// entry. Returns nil on success, or an error describing the PSCI
	// failure (negative return value in x0).
	CPUOn(affinity uint64, entry uintptr) error

	// PowerOff never returns on success; by convention it returns an error
	// only if the firmware call itself could not be issued.
	PowerOff() error
}

// PSCIError wraps a non-zero PSCI return code.
type PSCIError struct {
	Call int64
	Code int64
}

func (e *PSCIError) Error() string {
	return fmt.Sprintf("firmware call 0x%x failed: %d", e.Call, e.Code)
}

// Simulated is an in-process Firmware used by tests and by pkg/boot when run
// outside of real hardware. Starting PE i invokes Start(i) if set.
type Simulated struct {
	// Start, if non-nil, is invoked synchronously for CPUOn(affinity, _).
	// Returning an error simulates the PSCI call failing.
	Start func(affinity uint64) error

	// Fail, if set, maps an affinity to the number of CPUOn calls for it
	// that fail before one succeeds; used to exercise pkg/boot's
	// retry-with-backoff path.
	Fail map[uint64]int

	poweredOff bool
}

// CPUOn implements Firmware.
func (s *Simulated) CPUOn(affinity uint64, entry uintptr) error {
	if s.Fail != nil && s.Fail[affinity] > 0 {
		s.Fail[affinity]--
		return &PSCIError{Call: FnCPUOn, Code: -1}
	}
	if s.Start != nil {
		return s.Start(affinity)
	}
	return nil
}

// PowerOff implements Firmware.
func (s *Simulated) PowerOff() error {
	s.poweredOff = true
	return nil
}

// PoweredOff reports whether PowerOff was called, for test assertions.
func (s *Simulated) PoweredOff() bool { return s.poweredOff }
