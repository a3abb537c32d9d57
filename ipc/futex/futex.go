// Package futex implements the hash-bucketed futex core described in
// SPEC_FULL.md, grounded on original_source/kernel/src/futex/futex.rs's
// FutexHashBucket/FutexObj design: waiters on the same key queue onto a
// shared bucket chain, Wake pops matching waiters up to a count, and the
// bucket lock (here a per-bucket sync.Mutex) serializes the
// check-then-sleep race against a concurrent Wake.
package futex

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"kcore/errors"
)

const bucketCount = 256

// KeyKind distinguishes a private (per-address-space) futex from a
// shared (cross-address-space) one, mirroring FLAGS_SHARED.
type KeyKind int

const (
	KeyPrivate KeyKind = iota
	KeyShared
)

// Key identifies a futex word. For KeyPrivate, TID scopes the address
// to one task's address space so two tasks' identical virtual addresses
// never collide. TID takes part in the hash and in key equality for both
// kinds, so a KeyShared key is built with TID zero and Addr carrying a
// globally unique identity (e.g. a physical frame number).
type Key struct {
	Kind KeyKind
	Addr uint64
	TID  int
}

func (k Key) hash() uint64 {
	var buf [20]byte
	buf[0] = byte(k.Kind)
	for i := 0; i < 8; i++ {
		buf[1+i] = byte(k.Addr >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		buf[9+i] = byte(uint64(k.TID) >> (8 * i))
	}
	return xxhash.Sum64(buf[:])
}

// Waiter is the minimal task contract Wait/Wake operate on: mark the
// caller asleep, wake it, and yield to the scheduler, matching
// ProcessManager::mark_sleep/wakeup/sched in the original source.
type Waiter interface {
	ID() int
	MarkSleep(interruptible bool)
	Wakeup() error
	Sched()
}

type waitEntry struct {
	waiter Waiter
	key    Key
	bitset uint32
}

type bucket struct {
	mu    sync.Mutex
	chain []*waitEntry
}

var buckets [bucketCount]bucket

func bucketFor(key Key) *bucket {
	return &buckets[key.hash()%bucketCount]
}

// allBitset matches any Wake/Wait call that did not specify a bitset,
// the FUTEX_BITSET_MATCH_ANY default.
const allBitset uint32 = 0xffffffff

// Wait blocks the caller on key if load() still equals expected at the
// moment it enters the bucket, guarding the classic check-then-sleep
// race: load() is evaluated under the bucket lock, so a concurrent Wake
// cannot slip in between the check and the enqueue. It returns
// errors.Again immediately if the value has already changed.
func Wait(key Key, w Waiter, expected uint32, bitset uint32, load func() uint32) error {
	if bitset == 0 {
		bitset = allBitset
	}
	b := bucketFor(key)

	b.mu.Lock()
	if load() != expected {
		b.mu.Unlock()
		return errors.ErrWouldBlock
	}
	entry := &waitEntry{waiter: w, key: key, bitset: bitset}
	b.chain = append(b.chain, entry)
	w.MarkSleep(true)
	b.mu.Unlock()

	w.Sched()
	return nil
}

// Wake wakes up to nrWake waiters on key whose bitset intersects mask,
// returning the number actually woken, mirroring wake_up's bounded
// single-pass chain scan. The bucket lock is released before calling
// Wakeup() on the selected waiters, since waking a task can re-enter the
// scheduler.
func Wake(key Key, mask uint32, nrWake int) int {
	if mask == 0 {
		mask = allBitset
	}
	return wake(key, mask, nrWake)
}

func wake(key Key, mask uint32, nrWake int) int {
	b := bucketFor(key)

	b.mu.Lock()
	var toWake []*waitEntry
	var remaining []*waitEntry
	for _, entry := range b.chain {
		if entry.key == key && (entry.bitset&mask) != 0 && len(toWake) < nrWake {
			toWake = append(toWake, entry)
			continue
		}
		remaining = append(remaining, entry)
	}
	b.chain = remaining
	b.mu.Unlock()

	for _, entry := range toWake {
		_ = entry.waiter.Wakeup()
	}
	return len(toWake)
}

// Requeue moves up to nrRequeue waiters from keyFrom to keyTo without
// waking them, after first waking up to nrWake waiters on keyFrom. This
// is the PI-free subset of FUTEX_CMP_REQUEUE: it lets a condvar-style
// primitive move the rest of its waiters onto a second futex in one
// syscall instead of a wake-all thundering herd.
func Requeue(keyFrom, keyTo Key, nrWake, nrRequeue int) (woken int, requeued int) {
	woken = wake(keyFrom, allBitset, nrWake)

	from := bucketFor(keyFrom)
	to := bucketFor(keyTo)

	from.mu.Lock()
	var remaining []*waitEntry
	var moved []*waitEntry
	for _, entry := range from.chain {
		if entry.key == keyFrom && len(moved) < nrRequeue {
			entry.key = keyTo
			moved = append(moved, entry)
			continue
		}
		remaining = append(remaining, entry)
	}
	from.chain = remaining
	from.mu.Unlock()

	if len(moved) > 0 {
		to.mu.Lock()
		to.chain = append(to.chain, moved...)
		to.mu.Unlock()
	}
	return woken, len(moved)
}
