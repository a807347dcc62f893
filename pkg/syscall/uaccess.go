// Package syscall implements the trap-number dispatch table and user
// pointer access primitives. Grounded on the original C sources.c and
// syscall_time.c's DEFINE_SYSCALLn bodies and on include/kernel/vm.h's
// access_ok/copy_to_user/copy_from_user contract.
package syscall

import (
	"sync"

	"github.com/beehive-os/kernel/internal/kerrno"
	"github.com/beehive-os/kernel/pkg/percpu"
	"github.com/beehive-os/kernel/pkg/vmspace"
)

// AccessKind distinguishes a read-only from a write-capable user touch
// (ACCESS_TYPE_READ / ACCESS_TYPE_WRITE).
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
)

// RAM is the simulated physical memory backing user mappings; a real page
// allocator's contents are out of scope, but copy_to_user/copy_from_user
// need *something* to move bytes through so representative syscalls
// (sched_getaffinity, get_time) are testable end to end.
type RAM struct {
	mu  sync.Mutex
	mem map[uintptr][]byte
}

// NewRAM constructs an empty simulated physical memory.
func NewRAM() *RAM {
	return &RAM{mem: map[uintptr][]byte{}}
}

func (r *RAM) write(pa uintptr, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	r.mem[pa] = buf
}

func (r *RAM) read(pa uintptr, n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.mem[pa]
	if !ok {
		return make([]byte, n)
	}
	out := make([]byte, n)
	copy(out, buf)
	return out
}

// AccessOk verifies [ptr, ptr+len) lies within table's mapped region and,
// for writes, that the mapping permits writing (access_ok). This is a
// pre-check, not a guarantee: races and lazy mapping can still fault during
// the subsequent copy, caught by the fault-expectation mechanism below
// rather than by this function.
func AccessOk(table *vmspace.Table, kind AccessKind, ptr uintptr, length uint64) kerrno.Errno {
	if length == 0 {
		return 0
	}
	need := vmspace.Read
	if kind == AccessWrite {
		need = vmspace.Write
	}
	if !table.Permits(ptr, need) {
		return kerrno.EFAULT
	}
	if !table.Permits(ptr+uintptr(length)-1, need) {
		return kerrno.EFAULT
	}
	return 0
}

// withFaultExpectation installs a fault expectation naming kind for the
// duration of fn, consulted by the sync-fault handler at same-level
// exceptions (pkg/trap) instead of panicking; fn itself decides the
// recovery value when a translation genuinely fails, since this host
// simulation has no hardware fault to actually interpose on.
func withFaultExpectation(pls *percpu.PLS, kind string, fn func() kerrno.Errno) kerrno.Errno {
	recovered := kerrno.Errno(0)
	pls.SetFaultExpectation(&percpu.FaultExpectation{
		Kind:    kind,
		Recover: func() { recovered = kerrno.EFAULT },
	})
	defer pls.SetFaultExpectation(nil)
	ec := fn()
	if recovered != 0 {
		return recovered
	}
	return ec
}

// CopyToUser copies src into the user mapping at dstVA (copy_to_user).
func CopyToUser(pls *percpu.PLS, table *vmspace.Table, ram *RAM, dstVA uintptr, src []byte) kerrno.Errno {
	return withFaultExpectation(pls, "copy_to_user", func() kerrno.Errno {
		if ec := AccessOk(table, AccessWrite, dstVA, uint64(len(src))); ec != 0 {
			return ec
		}
		pa, ok := table.VaToPa(dstVA)
		if !ok {
			return kerrno.EFAULT
		}
		ram.write(pa, src)
		return 0
	})
}

// CopyFromUser copies length bytes from the user mapping at srcVA into the
// returned slice (copy_from_user).
func CopyFromUser(pls *percpu.PLS, table *vmspace.Table, ram *RAM, srcVA uintptr, length int) ([]byte, kerrno.Errno) {
	var out []byte
	ec := withFaultExpectation(pls, "copy_from_user", func() kerrno.Errno {
		if ec := AccessOk(table, AccessRead, srcVA, uint64(length)); ec != 0 {
			return ec
		}
		pa, ok := table.VaToPa(srcVA)
		if !ok {
			return kerrno.EFAULT
		}
		out = ram.read(pa, length)
		return 0
	})
	if ec != 0 {
		return nil, ec
	}
	return out, 0
}
