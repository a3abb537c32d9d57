// Package vfs implements the virtual filesystem core described in
// SPEC_FULL.md: an Inode contract, per-task file descriptor tables, a
// mount namespace grafted from linux/rootfs.go's bind/propagation model,
// a synthetic device-node set generalized from linux/devices.go, and
// the advisory-locking, copy, and splice operations layered on top.
package vfs

import (
	"sync"
	"sync/atomic"

	"kcore/errors"
)

// InodeKind discriminates the inode types this core models.
type InodeKind int

const (
	KindRegular InodeKind = iota
	KindDirectory
	KindCharDevice
	KindBlockDevice
	KindFIFO
	KindSymlink
	KindSocket
)

// Metadata is the subset of stat(2) fields the core exposes.
type Metadata struct {
	Kind       InodeKind
	Size       uint64
	Mode       uint32
	UID, GID   uint32
	DevID      uint64 // identifies the owning device/filesystem for flock sharding
	InodeID    uint64
	Major, Minor uint32 // meaningful for KindCharDevice/KindBlockDevice
}

// Inode is the contract every object reachable through the namespace
// implements: regular files, directories, device nodes and FIFOs alike.
type Inode interface {
	Open(flags int) error
	Close() error
	ReadAt(buf []byte, offset int64) (int, error)
	WriteAt(buf []byte, offset int64) (int, error)
	Metadata() Metadata
	Ioctl(cmd uintptr, arg uintptr) (uintptr, error)
	Mmap(offset int64, length int) (MmapHandle, error)
	Poll(events PollMask) PollMask
	List() ([]DirEntry, error)
}

// MmapHandle is returned by Inode.Mmap; mm/vmm wraps it in a
// vmm.FileBacking to serve page faults.
type MmapHandle interface {
	Fault(pageIndex uint64) ([]byte, error)
}

// PollMask mirrors the POLLIN/POLLOUT/POLLERR readiness bitmask.
type PollMask uint32

const (
	PollIn PollMask = 1 << iota
	PollOut
	PollErr
	PollHup
)

// DirEntry is one entry returned by Inode.List.
type DirEntry struct {
	Name  string
	Inode Inode
	Kind  InodeKind
}

// refcounted wraps an Inode with a lockref-style combined spinlock+count,
// supplementing the spec from kernel/src/libs/lockref.rs: an optimistic
// lockless fast path for the common increment/decrement, falling back to
// the lock only when the count would cross zero.
type refcounted struct {
	Inode
	count atomic.Int64
	mu    sync.Mutex
}

// Ref wraps an inode with reference counting. Filesystems construct one
// per inode they hand out through Open/Lookup.
func Ref(inode Inode) *refcounted {
	r := &refcounted{Inode: inode}
	r.count.Store(1)
	return r
}

// Get increments the refcount via the lockless fast path.
func (r *refcounted) Get() {
	r.count.Add(1)
}

// Put decrements the refcount, closing the inode when it reaches zero.
// The zero-crossing check takes the lock to avoid a double-close race
// between two concurrent decrements landing on the same final value.
func (r *refcounted) Put() error {
	if r.count.Add(-1) > 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count.Load() > 0 {
		return nil
	}
	return r.Inode.Close()
}

// RefCount returns the current reference count, for diagnostics and tests.
func (r *refcounted) RefCount() int64 { return r.count.Load() }

// ErrNotADirectory is returned by List on a non-directory inode.
var ErrNotADirectory = errors.New(errors.NotDirectory, "vfs", "list", "not a directory")
