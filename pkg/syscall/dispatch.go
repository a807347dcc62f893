package syscall

import (
	"github.com/beehive-os/kernel/internal/kerrno"
	"github.com/beehive-os/kernel/pkg/kernel"
)

// Number is a syscall trap number, read from x8 at syscall entry.
type Number uint64

// The representative syscall set this core dispatches.
const (
	SchedYield Number = iota
	SchedGetaffinity
	Exit
	ExitGroup
	ThreadStart
	ThreadPreempt
	GetTime
)

// Handler receives the calling thread and up to six 64-bit arguments and
// returns a signed result: non-negative is success, negative is -errno.
type Handler func(t *kernel.Thread, args [6]uint64) int64

// Table is a trap-number-indexed dispatch table of up to K entries, each
// binding an arity and handler. Arity is documentation only here; Go
// handlers always receive all six argument slots and ignore what they
// don't use.
type Table struct {
	entries map[Number]Handler
}

// NewTable constructs an empty dispatch table.
func NewTable() *Table {
	return &Table{entries: map[Number]Handler{}}
}

// Register binds no as a syscall number to fn.
func (t *Table) Register(no Number, fn Handler) {
	t.entries[no] = fn
}

// Dispatch looks up no and invokes its handler with args; an out-of-range
// number returns -ENOSYS without invoking anything.
func (t *Table) Dispatch(no Number, th *kernel.Thread, args [6]uint64) int64 {
	fn, ok := t.entries[no]
	if !ok {
		return kerrno.ENOSYS.Value()
	}
	return fn(th, args)
}
