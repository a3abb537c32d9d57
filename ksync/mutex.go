package ksync

import (
	"sync"
	"time"

	"kcore/errors"
)

var errInterrupted = errors.Wrap(nil, errors.Interrupted, "ksync", "sleep interrupted by signal")

// Mutex is a sleeping lock: acquiring it may block the calling task, and
// unlike Spinlock it is safe to hold across a blocking operation.
type Mutex struct {
	ch chan struct{}
}

// NewMutex creates an unlocked mutex.
func NewMutex() *Mutex {
	m := &Mutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock acquires the mutex, blocking uninterruptibly until available.
func (m *Mutex) Lock() {
	<-m.ch
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("ksync: unlock of unlocked Mutex")
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	select {
	case <-m.ch:
		return true
	default:
		return false
	}
}

// LockInterruptible acquires the mutex, but returns errors.Interrupted if
// interrupt fires first — the cancellable-by-fatal-signal contract in
// §4.1. Pass a nil channel to behave like Lock.
func (m *Mutex) LockInterruptible(interrupt <-chan struct{}) error {
	if interrupt == nil {
		m.Lock()
		return nil
	}
	select {
	case <-m.ch:
		return nil
	case <-interrupt:
		return errInterrupted
	}
}

// RWMutex is a sleeping reader/writer lock permitting many concurrent
// readers or one writer.
type RWMutex struct {
	mu sync.RWMutex
}

func (l *RWMutex) Lock()    { l.mu.Lock() }
func (l *RWMutex) Unlock()  { l.mu.Unlock() }
func (l *RWMutex) RLock()   { l.mu.RLock() }
func (l *RWMutex) RUnlock() { l.mu.RUnlock() }

// TryLock attempts to acquire the write lock without blocking.
func (l *RWMutex) TryLock() bool { return l.mu.TryLock() }

// TryRLock attempts to acquire a read lock without blocking.
func (l *RWMutex) TryRLock() bool { return l.mu.TryRLock() }

// LockInterruptible acquires the write lock, polling against interrupt so
// a pending fatal signal can abort the wait. The poll interval is a
// simulation detail; it does not change the observable contract (either
// the lock is eventually acquired, or Interrupted is returned promptly
// after interrupt fires).
func (l *RWMutex) LockInterruptible(interrupt <-chan struct{}) error {
	if interrupt == nil {
		l.mu.Lock()
		return nil
	}
	for {
		if l.mu.TryLock() {
			return nil
		}
		select {
		case <-interrupt:
			return errInterrupted
		case <-time.After(time.Millisecond):
		}
	}
}

// Completion is a one-shot signal a producer fires once; any number of
// waiters calling Wait observe it, whether they arrived before or after
// Complete was called.
type Completion struct {
	once sync.Once
	ch   chan struct{}
}

// NewCompletion creates an unfired completion.
func NewCompletion() *Completion {
	return &Completion{ch: make(chan struct{})}
}

// Complete fires the completion. Idempotent.
func (c *Completion) Complete() {
	c.once.Do(func() { close(c.ch) })
}

// Wait blocks until Complete has been called.
func (c *Completion) Wait() {
	<-c.ch
}

// Done returns a channel that closes when Complete has been called, for
// use in select statements.
func (c *Completion) Done() <-chan struct{} {
	return c.ch
}
