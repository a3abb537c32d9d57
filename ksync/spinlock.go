// Package ksync provides the kernel core's synchronization primitives:
// spinlocks, IRQ-save spinlocks, sleeping mutexes/rwlocks, wait queues,
// completions and a once-only initializer — the contract level described
// in SPEC_FULL.md's sync primitives section. None of these sleep except
// the ones explicitly documented to.
package ksync

import (
	"sync"
	"sync/atomic"

	"kcore/archhal"
	"kcore/errors"
)

// Spinlock is a mutual-exclusion lock that never sleeps while held. In a
// portable, single-process simulation it is backed by a real mutex; the
// busy-wait/no-sleep contract is a property callers must honor (no
// blocking syscalls, no channel receives, while holding one), not
// something the Go runtime can enforce for us.
type Spinlock struct {
	mu sync.Mutex
}

// Lock acquires the spinlock, blocking until available.
func (s *Spinlock) Lock() {
	s.mu.Lock()
}

// Unlock releases the spinlock.
func (s *Spinlock) Unlock() {
	s.mu.Unlock()
}

// TryLock attempts to acquire the spinlock without blocking. It returns
// errors.ErrTryLock on failure, per §4.1's failure semantics.
func (s *Spinlock) TryLock() error {
	if s.mu.TryLock() {
		return nil
	}
	return errors.ErrTryLock
}

// IRQSpinlock is a spinlock that additionally disables interrupts on the
// current CPU for the duration it is held, restoring them on unlock. It
// must never be held across a sleep.
type IRQSpinlock struct {
	mu sync.Mutex
}

// LockIRQSave disables interrupts on the current CPU and acquires the
// lock, returning the flags to hand to UnlockIRQRestore.
func (s *IRQSpinlock) LockIRQSave() archhal.IRQFlags {
	flags := archhal.IRQSave()
	s.mu.Lock()
	return flags
}

// UnlockIRQRestore releases the lock and restores the interrupt-enable
// state captured by the matching LockIRQSave. The IRQ state is always
// restored even though this is a plain function call rather than a defer
// path, matching the drop-path guarantee in §4.1.
func (s *IRQSpinlock) UnlockIRQRestore(flags archhal.IRQFlags) {
	s.mu.Unlock()
	archhal.IRQRestore(flags)
}

// Once runs an initializer exactly once, with a memory barrier strong
// enough that any goroutine observing completion also observes every
// write the initializer performed. It is a thin, intention-revealing
// wrapper over sync.Once used to satisfy SPEC_FULL's "Once" contract by
// name across the kernel core's global-state init calls.
type Once struct {
	once sync.Once
	done atomic.Bool
}

// Do runs fn exactly once across all callers.
func (o *Once) Do(fn func()) {
	o.once.Do(func() {
		fn()
		o.done.Store(true)
	})
}

// Done reports whether the initializer has completed.
func (o *Once) Done() bool {
	return o.done.Load()
}
