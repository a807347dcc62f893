// Package kerrno defines the kernel's user-visible error taxonomy: the
// closed set of negative values a syscall may return.
//
// Every value is grounded in a real Linux errno via golang.org/x/sys/unix
// rather than a hand-rolled integer constant, the way gvisor's own
// errors/linuxerr package is grounded on Linux errno.
package kerrno

import (
	"golang.org/x/sys/unix"
)

// Errno is a negated Linux errno, the kernel's syscall return convention:
// non-negative is a success value, negative is -errno.
type Errno int64

// Negate converts a unix.Errno into the negative syscall-return Errno.
func Negate(e unix.Errno) Errno {
	return -Errno(e)
}

// Value returns the raw return-register value for this error.
func (e Errno) Value() int64 { return int64(e) }

// Error implements the error interface.
func (e Errno) Error() string {
	return unix.Errno(-e).Error()
}

// The errno set this kernel core defines. EAGAIN and ENOEXEC are defined
// but not returned by any syscall handler in this repository.
var (
	EFAULT  = Negate(unix.EFAULT)  // bad user pointer
	EINVAL  = Negate(unix.EINVAL)  // invalid argument
	ENOSYS  = Negate(unix.ENOSYS)  // unrecognized syscall / SVC immediate
	ESRCH   = Negate(unix.ESRCH)   // no such pid/thread (ENOPROC equivalent)
	ENOENT  = Negate(unix.ENOENT)  // no such entry (e.g. sibling tid)
	EBUSY   = Negate(unix.EBUSY)   // target thread not in the expected wait state
	ENOMEM  = Negate(unix.ENOMEM)  // allocation failure
	EAGAIN  = Negate(unix.EAGAIN)  // transient condition, retry
	ENOEXEC = Negate(unix.ENOEXEC) // malformed program image
)

// IsError reports whether v, as returned by a syscall handler, denotes an
// error per the carry-flag convention: negative means error.
func IsError(v int64) bool {
	return v < 0
}
