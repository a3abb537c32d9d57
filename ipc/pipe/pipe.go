// Package pipe implements the anonymous-pipe / FIFO core described in
// SPEC_FULL.md's IPC section: a fixed-capacity ring buffer behind a
// vfs.Inode, with reader/writer refcounting so the last writer's Close
// delivers end-of-file to blocked readers and the last reader's Close
// turns a blocked writer's next call into a broken-pipe error, mirroring
// POSIX pipe(7) semantics. There is no original_source file for this —
// unlike futex/eventfd/signalfd it is built from pipe(7)'s documented
// contract in the teacher's channel-based style already established by
// process/syncpipe.go.
package pipe

import (
	"sync"

	"kcore/errors"
	"kcore/ksync"
	"kcore/vfs"
)

// Capacity is the ring buffer's fixed size in bytes, matching Linux's
// default pipe capacity (64KiB, 16 pages).
const Capacity = 64 * 1024

// AtomicWriteSize is the largest write guaranteed not to interleave
// with another process's write to the same pipe, POSIX's PIPE_BUF.
const AtomicWriteSize = 4096

// Inode is one end-shared FIFO: a ring buffer with independent reader
// and writer counts, guarded by a single mutex since reads and writes
// both need to observe both ends' liveness.
type Inode struct {
	mu       sync.Mutex
	buf      []byte
	start    int
	size     int
	readers  int
	writers  int
	readable *ksync.WaitQueue
	writable *ksync.WaitQueue
}

// New creates a pipe inode with one reader and one writer reference,
// the state immediately after pipe(2) returns its two file descriptors.
func New() *Inode {
	return &Inode{
		buf:      make([]byte, Capacity),
		readers:  1,
		writers:  1,
		readable: ksync.NewWaitQueue(),
		writable: ksync.NewWaitQueue(),
	}
}

// AddReader registers another reader reference (e.g. after fork shares
// the read end).
func (p *Inode) AddReader() {
	p.mu.Lock()
	p.readers++
	p.mu.Unlock()
}

// AddWriter registers another writer reference.
func (p *Inode) AddWriter() {
	p.mu.Lock()
	p.writers++
	p.mu.Unlock()
}

// CloseReader drops one reader reference. When the last reader goes
// away, any writer blocked on a full buffer is woken to observe EPIPE.
func (p *Inode) CloseReader() error {
	p.mu.Lock()
	p.readers--
	last := p.readers == 0
	p.mu.Unlock()
	if last {
		p.writable.WakeAll()
	}
	return nil
}

// CloseWriter drops one writer reference. When the last writer goes
// away, blocked readers are woken to observe end-of-file.
func (p *Inode) CloseWriter() error {
	p.mu.Lock()
	p.writers--
	last := p.writers == 0
	p.mu.Unlock()
	if last {
		p.readable.WakeAll()
	}
	return nil
}

func (p *Inode) Open(flags int) error { return nil }
func (p *Inode) Close() error         { return nil }

func (p *Inode) readableLocked() bool {
	return p.size > 0 || p.writers == 0
}

func (p *Inode) writableLocked(need int) bool {
	return Capacity-p.size >= need || p.readers == 0
}

// ReadAt drains up to len(buf) bytes, blocking until at least one byte
// is available or the last writer has closed (returning 0, nil, POSIX's
// end-of-file-on-pipe convention — not an error). offset is ignored:
// pipes have no seekable position.
func (p *Inode) ReadAt(buf []byte, offset int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		p.mu.Lock()
		if p.size > 0 {
			n := p.size
			if n > len(buf) {
				n = len(buf)
			}
			for i := 0; i < n; i++ {
				buf[i] = p.buf[(p.start+i)%Capacity]
			}
			p.start = (p.start + n) % Capacity
			p.size -= n
			p.mu.Unlock()
			p.writable.WakeAll()
			return n, nil
		}
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, nil
		}
		p.mu.Unlock()
		if err := p.readable.WaitUntilInterruptible(func() bool {
			p.mu.Lock()
			defer p.mu.Unlock()
			return p.readableLocked()
		}, nil); err != nil {
			return 0, err
		}
	}
}

// WriteAt appends buf, blocking while the ring buffer lacks room.
// Writes at or under AtomicWriteSize are never interleaved with another
// writer's bytes — they either land as one contiguous run or block
// entirely, per PIPE_BUF. A write after the last reader has gone is
// rejected with errors.ErrBrokenPipe instead of blocking forever.
func (p *Inode) WriteAt(buf []byte, offset int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	atomic := len(buf) <= AtomicWriteSize
	written := 0
	for written < len(buf) {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			return written, errors.ErrBrokenPipe
		}
		free := Capacity - p.size
		need := len(buf) - written
		if atomic && free < need {
			free = 0
		}
		if free > 0 {
			n := free
			if n > need {
				n = need
			}
			pos := (p.start + p.size) % Capacity
			for i := 0; i < n; i++ {
				p.buf[(pos+i)%Capacity] = buf[written+i]
			}
			p.size += n
			written += n
			p.mu.Unlock()
			p.readable.WakeAll()
			continue
		}
		p.mu.Unlock()
		if err := p.writable.WaitUntilInterruptible(func() bool {
			p.mu.Lock()
			defer p.mu.Unlock()
			need := len(buf) - written
			if atomic {
				return p.writableLocked(need)
			}
			return p.writableLocked(1)
		}, nil); err != nil {
			return written, err
		}
	}
	return written, nil
}

func (p *Inode) Metadata() vfs.Metadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	return vfs.Metadata{Kind: vfs.KindFIFO, Size: int64(p.size)}
}

func (p *Inode) Ioctl(cmd, arg uintptr) (uintptr, error) {
	return 0, errors.New(errors.NotPermitted, "pipe", "ioctl", "pipe does not support ioctl")
}

func (p *Inode) Mmap(offset int64, length int) (vfs.MmapHandle, error) {
	return nil, errors.New(errors.NotPermitted, "pipe", "mmap", "pipe is not mappable")
}

// Poll reports EPOLLIN when data (or EOF) is available and EPOLLOUT
// when the buffer has room (or there are no readers left to accept it,
// mirroring poll(2)'s "writable" meaning "won't block", not "will
// succeed").
func (p *Inode) Poll(events vfs.PollMask) vfs.PollMask {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ready vfs.PollMask
	if p.size > 0 || p.writers == 0 {
		ready |= vfs.PollIn
	}
	if Capacity-p.size > 0 || p.readers == 0 {
		ready |= vfs.PollOut
	}
	if p.readers == 0 || p.writers == 0 {
		ready |= vfs.PollHup
	}
	return events & ready
}

func (p *Inode) List() ([]vfs.DirEntry, error) {
	return nil, vfs.ErrNotADirectory
}
