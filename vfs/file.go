package vfs

import (
	"sync"

	"kcore/errors"
)

// OpenFlags mirrors the open(2) flag bits relevant to this core.
type OpenFlags uint32

const (
	OReadOnly OpenFlags = 0
	OWriteOnly OpenFlags = 1 << iota
	OReadWrite
	OAppend
	ONonblock
	OCloseOnExec
)

// File is an open-file description: an inode plus the cursor and flags
// shared by every fd that dup()s from the same open call.
type File struct {
	mu         sync.Mutex
	Inode      *refcounted
	Offset     int64
	Flags      OpenFlags
	OpenFileID uint64

	flockRelease func()
}

// SetFlockRelease records the release closure FlockManager.Lock/TryLock
// returned for the flock(2) hold this open file description currently
// owns, replacing (and first invoking) whatever hold it had before —
// flock(2) allows re-locking an already-locked fd to change LOCK_EX/
// LOCK_SH without an intervening LOCK_UN.
func (f *File) SetFlockRelease(release func()) {
	f.mu.Lock()
	prev := f.flockRelease
	f.flockRelease = release
	f.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// ReleaseFlock runs and clears any flock(2) hold owned by this open file
// description, the LOCK_UN/close(2) path. A no-op if nothing is held.
func (f *File) ReleaseFlock() {
	f.mu.Lock()
	release := f.flockRelease
	f.flockRelease = nil
	f.mu.Unlock()
	if release != nil {
		release()
	}
}

// Read reads from the file's current offset, advancing it.
func (f *File) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Inode.ReadAt(buf, f.Offset)
	f.Offset += int64(n)
	return n, err
}

// Write writes at the file's current offset (or at EOF if OAppend is
// set), advancing it.
func (f *File) Write(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset := f.Offset
	if f.Flags&OAppend != 0 {
		offset = int64(f.Inode.Metadata().Size)
	}
	n, err := f.Inode.WriteAt(buf, offset)
	f.Offset = offset + int64(n)
	return n, err
}

// Seek repositions the file's offset per the conventional whence values
// (0=set, 1=cur, 2=end).
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case 0:
		f.Offset = offset
	case 1:
		f.Offset += offset
	case 2:
		f.Offset = int64(f.Inode.Metadata().Size) + offset
	default:
		return 0, errors.New(errors.Invalid, "vfs", "seek", "bad whence")
	}
	if f.Offset < 0 {
		f.Offset = 0
		return 0, errors.New(errors.Invalid, "vfs", "seek", "negative offset")
	}
	return f.Offset, nil
}

// FDTable is a task's per-process file descriptor table, generalized
// from container/container.go's mutex-guarded resource table shape
// into an fd-indexed slot array with a low-water free-slot scan.
type FDTable struct {
	mu       sync.Mutex
	files    map[int]*File
	nextFD   int
	closeExec map[int]bool
}

// NewFDTable creates an empty table, with fds 0/1/2 reserved for the
// caller to install as stdio.
func NewFDTable() *FDTable {
	return &FDTable{files: make(map[int]*File), nextFD: 3, closeExec: make(map[int]bool)}
}

// Install assigns the next free fd to f and returns it.
func (t *FDTable) Install(f *File) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.nextFD
	for {
		if _, taken := t.files[fd]; !taken {
			break
		}
		fd++
	}
	t.files[fd] = f
	t.nextFD = fd + 1
	return fd
}

// InstallAt assigns f to a specific fd (dup2 semantics), closing
// whatever was previously there.
func (t *FDTable) InstallAt(fd int, f *File) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 {
		return errors.New(errors.BadFd, "vfs", "install_at", "negative fd")
	}
	if old, ok := t.files[fd]; ok {
		_ = old.Inode.Put()
	}
	t.files[fd] = f
	return nil
}

// Get returns the File for fd.
func (t *FDTable) Get(fd int) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return nil, errors.New(errors.BadFd, "vfs", "get", "fd not open")
	}
	return f, nil
}

// List returns a snapshot of fd -> File for every descriptor currently
// installed, for debug introspection over a task's open files.
func (t *FDTable) List() map[int]*File {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]*File, len(t.files))
	for fd, f := range t.files {
		out[fd] = f
	}
	return out
}

// Close closes fd, dropping its inode reference.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	f, ok := t.files[fd]
	if !ok {
		t.mu.Unlock()
		return errors.New(errors.BadFd, "vfs", "close", "fd not open")
	}
	delete(t.files, fd)
	delete(t.closeExec, fd)
	if fd >= 3 && fd < t.nextFD {
		t.nextFD = fd
	}
	t.mu.Unlock()
	f.ReleaseFlock()
	return f.Inode.Put()
}

// SetCloseOnExec marks fd to be closed across exec.
func (t *FDTable) SetCloseOnExec(fd int, set bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeExec[fd] = set
}

// CloseOnExec closes every fd marked close-on-exec, called at exec time.
func (t *FDTable) CloseOnExec() {
	t.mu.Lock()
	toClose := make([]int, 0)
	for fd, set := range t.closeExec {
		if set {
			toClose = append(toClose, fd)
		}
	}
	t.mu.Unlock()
	for _, fd := range toClose {
		_ = t.Close(fd)
	}
}

// Fork returns a new table sharing the same Files with bumped refcounts,
// the CloneFiles-unset fork(2) behavior.
func (t *FDTable) Fork() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	dup := &FDTable{files: make(map[int]*File, len(t.files)), nextFD: t.nextFD, closeExec: make(map[int]bool)}
	for fd, f := range t.files {
		f.Inode.Get()
		dup.files[fd] = f
		dup.closeExec[fd] = t.closeExec[fd]
	}
	return dup
}
