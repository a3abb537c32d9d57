// Package archhal defines the portable architecture hardware-abstraction
// contract: trap frames, IRQ enable/disable, atomic primitives, and
// per-CPU storage. The kernel core depends only on this contract; a real
// architecture implementation would provide the ISA-specific half (this
// package provides the ISA-neutral half, including the raw futex syscall
// relied on by ipc/futex, grounded on the teacher's own raw-syscall setns
// pattern in linux/namespace.go).
package archhal

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// TrapFrame is the portable view of the CPU state captured on entry to the
// kernel via exception, interrupt, or syscall. Architecture layers embed
// this and add ISA-specific registers.
type TrapFrame struct {
	// PC is the program counter at the point of trap.
	PC uint64
	// SP is the stack pointer at the point of trap.
	SP uint64
	// ErrorCode carries the architecture's page-fault/exception error code,
	// when applicable (e.g. x86-64 page-fault error bits).
	ErrorCode uint64
	// FromUser reports whether the trapped context was executing in user mode.
	FromUser bool
}

// IRQFlags is an opaque, architecture-defined interrupt-enable state
// returned by IRQSave and consumed by IRQRestore.
type IRQFlags uint64

// irqState models "are interrupts enabled on this (simulated) CPU" for the
// portable core; a real arch layer would read/write the actual flags
// register. Tests and single-threaded simulation only need the contract,
// not real interrupt masking.
var irqEnabled atomic.Bool

func init() {
	irqEnabled.Store(true)
}

// IRQSave disables interrupts on the current CPU and returns the previous
// state so it can be restored by IRQRestore. Spinlock.LockIRQSave composes
// with this to implement §4.1's IRQ-save spinlock contract.
func IRQSave() IRQFlags {
	was := irqEnabled.Swap(false)
	if was {
		return 1
	}
	return 0
}

// IRQRestore restores the interrupt-enable state captured by IRQSave.
func IRQRestore(flags IRQFlags) {
	irqEnabled.Store(flags != 0)
}

// IRQEnabled reports whether interrupts are currently enabled on the
// current (simulated) CPU.
func IRQEnabled() bool {
	return irqEnabled.Load()
}

// PerCPU is a fixed-size array of per-CPU slots, indexed explicitly by
// caller-supplied CPU id rather than relying on goroutine-to-OS-thread
// pinning, matching the portable contract: callers never assume the
// runtime keeps a goroutine on one CPU.
type PerCPU[T any] struct {
	slots []T
}

// NewPerCPU allocates per-CPU storage for n CPUs, each initialized to zero.
func NewPerCPU[T any](n int) *PerCPU[T] {
	return &PerCPU[T]{slots: make([]T, n)}
}

// Get returns a pointer to the slot for the given CPU id.
func (p *PerCPU[T]) Get(cpu int) *T {
	return &p.slots[cpu]
}

// Len returns the number of CPUs this PerCPU was sized for.
func (p *PerCPU[T]) Len() int {
	return len(p.slots)
}

// RawFutexWait issues the raw SYS_FUTEX(FUTEX_WAIT) syscall against uaddr,
// blocking the calling OS thread while *uaddr == val. It is the one place
// the portable core drops to a real Linux syscall, mirroring the teacher's
// own willingness to hand-roll a raw syscall (setns in linux/namespace.go)
// rather than pull in a wrapper library for a single call.
func RawFutexWait(uaddr *uint32, val uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(uaddr)), unix.FUTEX_WAIT, uintptr(val), 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// RawFutexWake issues the raw SYS_FUTEX(FUTEX_WAKE) syscall, waking up to n
// waiters blocked on uaddr, returning the number actually woken.
func RawFutexWake(uaddr *uint32, n int) (int, error) {
	woken, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(uaddr)), unix.FUTEX_WAKE, uintptr(n), 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(woken), nil
}
