package ksync

import (
	"sync"
)

// Waker is a single registration in a WaitQueue: something that can be
// told "the condition you were waiting on may now hold, re-check it".
// Waking is edge-triggered and idempotent — a Waker can only fire once.
type Waker struct {
	ch   chan struct{}
	once sync.Once
	mask uint64
}

// NewWaker creates a waker. mask is an opaque readiness bitmask consulted
// by WakeAny; pass 0 if the caller does not discriminate by mask.
func NewWaker(mask uint64) *Waker {
	return &Waker{ch: make(chan struct{}), mask: mask}
}

// Wake fires the waker. Safe to call more than once or concurrently; only
// the first call has an effect.
func (w *Waker) Wake() {
	w.once.Do(func() { close(w.ch) })
}

// C returns the channel that closes when the waker fires.
func (w *Waker) C() <-chan struct{} {
	return w.ch
}

// WaitQueue is an unbounded set of wakers associated with a condition on
// some object (a pipe's "not empty", a socket's "readable", and so on).
// Wakeup is advisory: waiters must re-check their condition after being
// woken, per the prepare-to-wait pattern in SPEC_FULL.md.
type WaitQueue struct {
	mu     sync.Mutex
	wakers map[*Waker]struct{}
}

// NewWaitQueue creates an empty wait queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{wakers: make(map[*Waker]struct{})}
}

// RegisterWaker adds w to the queue.
func (q *WaitQueue) RegisterWaker(w *Waker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.wakers[w] = struct{}{}
}

// RemoveWaker removes w from the queue, if present. Used both by normal
// wakeup cleanup and by timeout-armed sleeps tearing down their temporary
// waker.
func (q *WaitQueue) RemoveWaker(w *Waker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.wakers, w)
}

// WakeAll wakes every registered waker and clears the queue.
func (q *WaitQueue) WakeAll() {
	q.mu.Lock()
	wakers := q.wakers
	q.wakers = make(map[*Waker]struct{})
	q.mu.Unlock()

	for w := range wakers {
		w.Wake()
	}
}

// WakeAny wakes up to n wakers whose mask intersects the given mask (or
// all wakers, if mask is 0), returning the number actually woken. This is
// the primitive epoll-style readiness delivery is built from.
func (q *WaitQueue) WakeAny(mask uint64, n int) int {
	q.mu.Lock()
	var woken []*Waker
	for w := range q.wakers {
		if len(woken) >= n {
			break
		}
		if mask == 0 || w.mask&mask != 0 {
			woken = append(woken, w)
			delete(q.wakers, w)
		}
	}
	q.mu.Unlock()

	for _, w := range woken {
		w.Wake()
	}
	return len(woken)
}

// Len reports the number of currently registered wakers.
func (q *WaitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.wakers)
}

// IsEmpty reports whether the queue currently has no registered wakers,
// used by the "after close(fd), wait_queue.is_empty()" testable property.
func (q *WaitQueue) IsEmpty() bool {
	return q.Len() == 0
}

// WaitUntilInterruptible implements the prepare-to-wait pattern: register
// a waker, re-check cond, and only then block — so a wakeup delivered
// between the caller's last check and registration is never lost. It
// returns nil once cond() is observed true, or the error from interrupt
// if that channel fires first (the caller passes a signal-pending channel
// to make the sleep interruptible; pass nil to sleep uninterruptibly).
func (q *WaitQueue) WaitUntilInterruptible(cond func() bool, interrupt <-chan struct{}) error {
	for {
		w := NewWaker(0)
		q.RegisterWaker(w)

		if cond() {
			q.RemoveWaker(w)
			return nil
		}

		if interrupt == nil {
			<-w.C()
			continue
		}

		select {
		case <-w.C():
			// Woken; loop around to re-check cond (it may be a spurious
			// wakeup, e.g. WakeAll fired for an unrelated reason).
		case <-interrupt:
			q.RemoveWaker(w)
			return errInterrupted
		}
	}
}
