// Package signalfd implements the signalfd read-signals-as-bytes object
// described in SPEC_FULL.md's IPC section, grounded on
// original_source/kernel/src/ipc/signalfd.rs's SignalFdInode: a file
// descriptor bound to one task that turns a subset of its pending
// signals into fixed-size siginfo records.
package signalfd

import (
	"encoding/binary"
	"sync"

	"kcore/errors"
	"kcore/ksync"
	"kcore/process"
	"kcore/vfs"
)

// sigInfoSize matches Linux's signalfd_siginfo, 128 bytes; only the
// leading ssi_signo field is populated, mirroring the original's
// gVisor-test-driven simplification.
const sigInfoSize = 128

// Flags mirrors signalfd4(2)'s SFD_NONBLOCK; SFD_CLOEXEC is an FDTable
// property, not handled here.
type Flags uint32

const (
	NonBlock Flags = 1 << iota
)

// Inode is a signalfd bound to owner: reads dequeue owner's pending
// signals that intersect mask, blocking until notified one has arrived.
type Inode struct {
	mu    sync.Mutex
	owner *process.TCB
	mask  uint64
	flags Flags
	wq    *ksync.WaitQueue
}

var registryMu sync.Mutex
var registry = map[int][]*Inode{}

// New creates a signalfd for owner watching the signals in mask, and
// registers it so Notify can find it when owner receives a signal.
func New(owner *process.TCB, mask uint64, flags Flags) *Inode {
	i := &Inode{owner: owner, mask: mask, flags: flags, wq: ksync.NewWaitQueue()}
	registryMu.Lock()
	registry[owner.PID()] = append(registry[owner.PID()], i)
	registryMu.Unlock()
	return i
}

// SetMask replaces the watched signal set, the signalfd4(2) re-arm path.
func (i *Inode) SetMask(mask uint64) {
	i.mu.Lock()
	i.mask = mask
	i.mu.Unlock()
}

func (i *Inode) currentMask() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mask
}

// Notify wakes any signalfd registered to the task pid that is watching
// sig, the Go analogue of notify_signalfd_for_pcb: the signal-delivery
// path calls this after TCB.SendSignal so a blocked read() re-checks.
func Notify(pid int, sig int) {
	registryMu.Lock()
	inodes := append([]*Inode(nil), registry[pid]...)
	registryMu.Unlock()

	for _, i := range inodes {
		if i.currentMask()&(1<<uint(sig-1)) != 0 {
			i.wq.WakeAll()
		}
	}
}

func (i *Inode) Open(flags int) error { return nil }

// Close deregisters the inode so Notify no longer scans it.
func (i *Inode) Close() error {
	registryMu.Lock()
	defer registryMu.Unlock()
	pid := i.owner.PID()
	list := registry[pid]
	for idx, entry := range list {
		if entry == i {
			registry[pid] = append(list[:idx], list[idx+1:]...)
			break
		}
	}
	return nil
}

// ReadAt dequeues one pending signal within mask as a fixed-size record,
// blocking (unless NonBlock) until owner has one, per signalfd_read.
func (i *Inode) ReadAt(buf []byte, offset int64) (int, error) {
	if len(buf) < sigInfoSize {
		return 0, errors.New(errors.Invalid, "signalfd", "read", "buffer shorter than sizeof(signalfd_siginfo)")
	}
	for {
		ignoreMask := ^i.currentMask()
		if info, ok := i.owner.DequeueSignal(ignoreMask); ok {
			var record [sigInfoSize]byte
			binary.LittleEndian.PutUint32(record[0:4], uint32(info.Signo))
			copy(buf, record[:])
			return sigInfoSize, nil
		}
		if i.flags&NonBlock != 0 {
			return 0, errors.ErrWouldBlock
		}
		if err := i.wq.WaitUntilInterruptible(i.owner.HasPendingUnblocked, nil); err != nil {
			return 0, err
		}
	}
}

// WriteAt is unsupported; signalfd is read-only.
func (i *Inode) WriteAt(buf []byte, offset int64) (int, error) {
	return 0, errors.New(errors.Invalid, "signalfd", "write", "signalfd does not support write")
}

func (i *Inode) Metadata() vfs.Metadata {
	return vfs.Metadata{Kind: vfs.KindCharDevice, Size: 0}
}

func (i *Inode) Ioctl(cmd, arg uintptr) (uintptr, error) {
	return 0, errors.New(errors.NotPermitted, "signalfd", "ioctl", "signalfd does not support ioctl")
}

func (i *Inode) Mmap(offset int64, length int) (vfs.MmapHandle, error) {
	return nil, errors.New(errors.NotPermitted, "signalfd", "mmap", "signalfd is not mappable")
}

// Poll reports EPOLLIN when owner has a pending signal within mask.
func (i *Inode) Poll(events vfs.PollMask) vfs.PollMask {
	ignoreMask := ^i.currentMask()
	if _, ok := i.owner.PeekSignal(ignoreMask); ok {
		return events & vfs.PollIn
	}
	return 0
}

func (i *Inode) List() ([]vfs.DirEntry, error) {
	return nil, vfs.ErrNotADirectory
}
