package ksyscall

import (
	"kcore/archhal"
	"kcore/errors"
	"kcore/process"
)

// Args is the raw six-register argument array every x86-64 syscall
// entry passes, per the System V syscall calling convention.
type Args [6]uint64

// HandlerFunc is one syscall's implementation: given the calling task,
// its resource context, the interrupted trap frame and raw arguments,
// it returns the value to place in the return register on success and
// the error for Dispatch's own restart/EINTR bookkeeping. On failure
// handlers return -1 with a non-nil error; Dispatch ignores that value
// and derives the negative errno from the error via errors.Posix.
type HandlerFunc func(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error)

// Entry is one syscall table slot: its name (for tracing), declared
// argument count, and handler.
type Entry struct {
	Name    string
	Argc    int
	Handler HandlerFunc
}

// table is populated by each file's init() via register, one call per
// syscall number, so the full surface stays declarative and each
// category's handlers live beside their own number block.
var table = map[Num]Entry{}

func register(num Num, name string, argc int, h HandlerFunc) {
	table[num] = Entry{Name: name, Argc: argc, Handler: h}
}

// Lookup returns the table entry for num.
func Lookup(num Num) (Entry, bool) {
	e, ok := table[num]
	return e, ok
}

// Dispatch resolves num to its handler, calls it with the task's bound
// Context, and applies the ERESTARTSYS/EINTR conversion from §7: a
// handler that returns errors.Restart is transparently restarted
// (handler re-invoked) when the task has no pending unblocked signal,
// and converted to a plain EINTR return otherwise. Per-handler
// SA_RESTART flags are not consulted. Any other handler error is
// translated straight to its negative errno via errors.Posix.
func Dispatch(t *process.TCB, frame *archhal.TrapFrame, num Num, args Args) int64 {
	entry, ok := table[num]
	if !ok {
		return int64(errors.Posix(errors.New(errors.Invalid, "ksyscall", "dispatch", "no such syscall")))
	}

	ctx, err := lookupContext(t.PID())
	if err != nil {
		return int64(errors.Posix(err))
	}

	for {
		ret, err := entry.Handler(t, ctx, frame, args)
		if err == nil {
			return ret
		}
		if errors.IsKind(err, errors.Restart) {
			if t.HasPendingUnblocked() {
				return int64(errors.Posix(errors.New(errors.Interrupted, "ksyscall", entry.Name, "restart aborted by pending signal")))
			}
			continue
		}
		return int64(errors.Posix(err))
	}
}
