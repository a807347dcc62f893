// Package vmspace implements the virtual-memory switch contract: install
// the kernel table, switch tables per thread by pid (ASID tag), translate
// VA to PA, map/unmap/mark regions, and invalidate per-PE caches on switch.
// Grounded on the original C sources.h's vm_table abstraction; a real MMU
// page-table walker is out of scope, so Table here is the external
// collaborator's simulated implementation used by tests and by
// pkg/kernel/pkg/trap wiring.
package vmspace

import (
	"fmt"
	"sync"
)

// Flags describe a mapped region's permissions, mirroring vm.h's region
// protection bits.
type Flags uint8

const (
	Read Flags = 1 << iota
	Write
	Exec
)

// RegionState is used by MarkRegion for lazy-mapping/COW bookkeeping.
type RegionState uint8

const (
	StatePresent RegionState = iota
	StateCOW
	StateDemand
)

type region struct {
	pa    uintptr
	va    uintptr
	size  uint64
	flags Flags
	state RegionState
}

// Table is one process's (or the kernel's) virtual-memory container: a
// root translation table plus its list of mappings.
type Table struct {
	mu      sync.RWMutex
	pid     uint64
	regions []*region
}

// NewTable constructs an empty table for the given pid (0 for the kernel
// table).
func NewTable(pid uint64) *Table {
	return &Table{pid: pid}
}

// PID returns the ASID-equivalent tag used to keep TLB entries from
// different processes from aliasing.
func (t *Table) PID() uint64 { return t.pid }

// MapRegion adds [va, va+size) mapped to [pa, pa+size) with flags
// (map_region). Not called from the trap fast path.
func (t *Table) MapRegion(pa, va uintptr, size uint64, flags Flags) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regions = append(t.regions, &region{pa: pa, va: va, size: size, flags: flags, state: StatePresent})
}

// UnmapRegion removes the mapping covering va, if any (unmap_region).
func (t *Table) UnmapRegion(va uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.regions {
		if va >= r.va && va < r.va+uintptr(r.size) {
			t.regions = append(t.regions[:i], t.regions[i+1:]...)
			return
		}
	}
}

// MarkRegion changes the lazy-mapping state of the region containing page
// (mark_region); used by the data-abort hook (COW/demand paging) which is
// an external collaborator, not this core.
func (t *Table) MarkRegion(page uintptr, state RegionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.regions {
		if page >= r.va && page < r.va+uintptr(r.size) {
			r.state = state
			return
		}
	}
}

// VaToPa translates va using the region list (va_to_pa); used by uaccess
// and by the data-abort path. Returns ok=false if unmapped.
func (t *Table) VaToPa(va uintptr) (pa uintptr, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.regions {
		if va >= r.va && va < r.va+uintptr(r.size) {
			return r.pa + (va - r.va), true
		}
	}
	return 0, false
}

// Permits reports whether va's mapping allows the given access, used by
// access_ok's write-permission check.
func (t *Table) Permits(va uintptr, need Flags) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.regions {
		if va >= r.va && va < r.va+uintptr(r.size) {
			return r.flags&need == need
		}
	}
	return false
}

// MMU is a per-PE view of the installed translation table plus cache
// control: init_kernel_table/set_kernel_table/enable_translation/set_table/
// clear_caches.
type MMU struct {
	mu          sync.Mutex
	kernelTable *Table
	installed   map[uint32]*Table // PE id -> currently installed table
	translating map[uint32]bool
}

// NewMMU constructs an MMU with no table installed on any PE yet.
func NewMMU() *MMU {
	return &MMU{installed: map[uint32]*Table{}, translating: map[uint32]bool{}}
}

// InitKernelTable installs table as the kernel's own root table.
func (m *MMU) InitKernelTable(table *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kernelTable = table
}

// SetKernelTable installs the kernel table on pe (set_kernel_table).
func (m *MMU) SetKernelTable(pe uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kernelTable == nil {
		panic("vmspace: SetKernelTable called before InitKernelTable")
	}
	m.installed[pe] = m.kernelTable
}

// EnableTranslation turns on MMU translation for pe (enable_translation).
func (m *MMU) EnableTranslation(pe uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.translating[pe] = true
}

// TranslationEnabled reports whether pe has translation enabled; used by
// tests and by diagnostics.
func (m *MMU) TranslationEnabled(pe uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.translating[pe]
}

// SetTable installs table on pe, tagging TLB entries with table.PID as an
// ASID-equivalent (set_table). Installing the already-installed table is a
// no-op short-circuit: identical tables short-circuit the cache flush.
func (m *MMU) SetTable(pe uint32, table *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.installed[pe] == table {
		return
	}
	m.installed[pe] = table
	m.clearCachesLocked(pe)
}

// Installed returns the table currently installed on pe, or nil.
func (m *MMU) Installed(pe uint32) *Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installed[pe]
}

// ClearCaches invalidates pe's TLB and I-cache (clear_caches); SetTable
// calls this internally on an actual switch, but it is exposed for callers
// that change a table's mappings in place (MapRegion/UnmapRegion) and need
// to invalidate stale translations without a table swap.
func (m *MMU) ClearCaches(pe uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCachesLocked(pe)
}

func (m *MMU) clearCachesLocked(pe uint32) {
	_ = pe // no cache-content model to invalidate in this host process
}

func (f Flags) String() string {
	s := ""
	if f&Read != 0 {
		s += "r"
	}
	if f&Write != 0 {
		s += "w"
	}
	if f&Exec != 0 {
		s += "x"
	}
	if s == "" {
		return "-"
	}
	return s
}

// ErrUnmapped is available to callers that wrap VaToPa with a standard error
// instead of the ok bool; pkg/syscall's uaccess does not use it and reports
// -EFAULT instead.
type ErrUnmapped struct{ VA uintptr }

func (e *ErrUnmapped) Error() string {
	return fmt.Sprintf("vmspace: va %#x is unmapped", e.VA)
}
