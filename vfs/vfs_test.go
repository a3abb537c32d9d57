package vfs

import (
	"sync"
	"testing"

	"kcore/errors"
)

// memInode is a minimal in-memory regular-file Inode test double.
type memInode struct {
	mu     sync.Mutex
	data   []byte
	kind   InodeKind
	closed bool
}

func newMemInode(kind InodeKind) *memInode { return &memInode{kind: kind} }

func (m *memInode) Open(flags int) error { return nil }
func (m *memInode) Close() error         { m.mu.Lock(); defer m.mu.Unlock(); m.closed = true; return nil }
func (m *memInode) Metadata() Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metadata{Kind: m.kind, Size: uint64(len(m.data))}
}
func (m *memInode) ReadAt(buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(buf, m.data[offset:])
	return n, nil
}
func (m *memInode) WriteAt(buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[offset:], buf)
	return len(buf), nil
}
func (m *memInode) Ioctl(cmd, arg uintptr) (uintptr, error) { return 0, nil }
func (m *memInode) Mmap(offset int64, length int) (MmapHandle, error) { return nil, nil }
func (m *memInode) Poll(events PollMask) PollMask { return events }
func (m *memInode) List() ([]DirEntry, error)     { return nil, ErrNotADirectory }

func TestRefcountedClosesAtZero(t *testing.T) {
	inode := newMemInode(KindRegular)
	r := Ref(inode)
	r.Get()
	if err := r.Put(); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if inode.closed {
		t.Fatal("inode closed too early")
	}
	if err := r.Put(); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !inode.closed {
		t.Fatal("expected inode to close once refcount reached zero")
	}
}

func TestFileReadWriteAdvancesOffset(t *testing.T) {
	inode := newMemInode(KindRegular)
	f := &File{Inode: Ref(inode)}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if f.Offset != 5 {
		t.Fatalf("expected offset 5, got %d", f.Offset)
	}

	f.Offset = 0
	buf := make([]byte, 5)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("unexpected read: %q", buf[:n])
	}
}

func TestFileSeek(t *testing.T) {
	inode := newMemInode(KindRegular)
	inode.WriteAt([]byte("0123456789"), 0)
	f := &File{Inode: Ref(inode)}

	if off, err := f.Seek(5, 0); err != nil || off != 5 {
		t.Fatalf("seek set failed: off=%d err=%v", off, err)
	}
	if off, err := f.Seek(2, 1); err != nil || off != 7 {
		t.Fatalf("seek cur failed: off=%d err=%v", off, err)
	}
	if off, err := f.Seek(0, 2); err != nil || off != 10 {
		t.Fatalf("seek end failed: off=%d err=%v", off, err)
	}
}

func TestFDTableInstallGetClose(t *testing.T) {
	tbl := NewFDTable()
	f := &File{Inode: Ref(newMemInode(KindRegular))}
	fd := tbl.Install(f)
	if fd < 3 {
		t.Fatalf("expected fd >= 3, got %d", fd)
	}
	got, err := tbl.Get(fd)
	if err != nil || got != f {
		t.Fatalf("Get failed: %v", err)
	}
	if err := tbl.Close(fd); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := tbl.Get(fd); err == nil {
		t.Fatal("expected error getting a closed fd")
	}
}

func TestFDTableForkSharesFilesAndBumpsRefcount(t *testing.T) {
	tbl := NewFDTable()
	inode := newMemInode(KindRegular)
	f := &File{Inode: Ref(inode)}
	fd := tbl.Install(f)

	dup := tbl.Fork()
	got, err := dup.Get(fd)
	if err != nil || got != f {
		t.Fatalf("expected forked table to share the same File, err=%v", err)
	}
	if f.Inode.RefCount() != 2 {
		t.Fatalf("expected refcount 2 after fork, got %d", f.Inode.RefCount())
	}
}

func TestFDTableCloseOnExec(t *testing.T) {
	tbl := NewFDTable()
	f := &File{Inode: Ref(newMemInode(KindRegular))}
	fd := tbl.Install(f)
	tbl.SetCloseOnExec(fd, true)
	tbl.CloseOnExec()
	if _, err := tbl.Get(fd); err == nil {
		t.Fatal("expected fd to be closed by CloseOnExec")
	}
}

func TestNamespaceMountAndResolve(t *testing.T) {
	ns := NewNamespace(newMemInode(KindDirectory), 1)
	procRoot := newMemInode(KindDirectory)
	if err := ns.Mount("/proc", procRoot, 0, 2); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	m, rel, err := ns.Resolve("/proc/self/status")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if m.Root != procRoot || rel != "self/status" {
		t.Fatalf("unexpected resolve result: root=%v rel=%q", m.Root, rel)
	}
}

func TestNamespaceMountDuplicateRejected(t *testing.T) {
	ns := NewNamespace(newMemInode(KindDirectory), 1)
	ns.Mount("/proc", newMemInode(KindDirectory), 0, 2)
	if err := ns.Mount("/proc", newMemInode(KindDirectory), 0, 3); err == nil {
		t.Fatal("expected error mounting over an existing mount point")
	}
}

func TestNamespaceBindAndUnmount(t *testing.T) {
	ns := NewNamespace(newMemInode(KindDirectory), 1)
	srcRoot := newMemInode(KindDirectory)
	ns.Mount("/src", srcRoot, 0, 2)

	if err := ns.Bind("/src", "/dst", false); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	m, _, err := ns.Resolve("/dst")
	if err != nil || m.Root != srcRoot {
		t.Fatalf("expected /dst to resolve to the bound root: %v", err)
	}

	if err := ns.Unmount("/dst"); err != nil {
		t.Fatalf("Unmount failed: %v", err)
	}
	if _, _, err := ns.Resolve("/dst"); err == nil {
		t.Fatal("expected /dst to no longer resolve after unmount")
	}
}

func TestNamespaceCannotUnmountRoot(t *testing.T) {
	ns := NewNamespace(newMemInode(KindDirectory), 1)
	if err := ns.Unmount("/"); err == nil {
		t.Fatal("expected error unmounting the root")
	}
}

func TestNamespaceForkIsolatesLaterMounts(t *testing.T) {
	ns := NewNamespace(newMemInode(KindDirectory), 1)
	dup := ns.Fork()

	ns.Mount("/only-in-original", newMemInode(KindDirectory), 0, 2)
	if _, _, err := dup.Resolve("/only-in-original"); err == nil {
		t.Fatal("expected forked namespace not to see mounts added after Fork")
	}
}

func TestDeviceTableLookupStandardDevices(t *testing.T) {
	dt := NewDeviceTable()
	for _, name := range []string{"null", "zero", "full", "random", "urandom"} {
		if _, err := dt.Lookup(name); err != nil {
			t.Fatalf("expected to find device %q: %v", name, err)
		}
	}
}

func TestDevNullDiscardsWritesAndReadsEmpty(t *testing.T) {
	dt := NewDeviceTable()
	null, _ := dt.Lookup("null")
	n, err := null.WriteAt([]byte("discarded"), 0)
	if err != nil || n != len("discarded") {
		t.Fatalf("unexpected write result: n=%d err=%v", n, err)
	}
	buf := make([]byte, 4)
	n, err = null.ReadAt(buf, 0)
	if err != nil || n != 0 {
		t.Fatalf("expected EOF-style zero read from /dev/null, got n=%d err=%v", n, err)
	}
}

func TestDevZeroFillsBuffer(t *testing.T) {
	dt := NewDeviceTable()
	zero, _ := dt.Lookup("zero")
	buf := []byte{1, 2, 3, 4}
	n, err := zero.ReadAt(buf, 0)
	if err != nil || n != 4 {
		t.Fatalf("unexpected read: n=%d err=%v", n, err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatal("expected /dev/zero to fill buffer with zero bytes")
		}
	}
}

func TestDevFullRejectsWrites(t *testing.T) {
	dt := NewDeviceTable()
	full, _ := dt.Lookup("full")
	if _, err := full.WriteAt([]byte("x"), 0); !errors.IsKind(err, errors.NoSpace) {
		t.Fatalf("expected NoSpace writing to /dev/full, got %v", err)
	}
}

func TestDeviceTableRegisterCustomAndUnregister(t *testing.T) {
	dt := NewDeviceTable()
	if err := dt.RegisterCustom("sda", 8, 0, KindBlockDevice, nullOps{}); err != nil {
		t.Fatalf("RegisterCustom failed: %v", err)
	}
	if _, err := dt.Lookup("sda"); err != nil {
		t.Fatalf("expected to find registered device: %v", err)
	}
	dt.Unregister("sda")
	if _, err := dt.Lookup("sda"); err == nil {
		t.Fatal("expected device to be gone after Unregister")
	}
}

func TestFlockManagerExclusiveExcludesExclusive(t *testing.T) {
	mgr := NewFlockManager("")
	unlock1, err := mgr.Lock(1, 1, true)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, ok := mgr.TryLock(1, 1, true); ok {
		t.Fatal("expected second exclusive TryLock to fail while first is held")
	}
	unlock1()
	unlock2, ok := mgr.TryLock(1, 1, true)
	if !ok {
		t.Fatal("expected TryLock to succeed after release")
	}
	unlock2()
}

func TestFlockManagerSharedAllowsMultipleReaders(t *testing.T) {
	mgr := NewFlockManager("")
	unlock1, err := mgr.Lock(2, 2, false)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	unlock2, ok := mgr.TryLock(2, 2, false)
	if !ok {
		t.Fatal("expected a second shared lock to succeed")
	}
	unlock1()
	unlock2()
}

func TestFlockInodeRejectsNonFlockTarget(t *testing.T) {
	mgr := NewFlockManager("")
	dt := NewDeviceTable()
	null, _ := dt.Lookup("null")
	if _, err := mgr.LockInode(null, true); !errors.Is(err, errors.ErrNotAFlockTarget) {
		t.Fatalf("expected ErrNotAFlockTarget, got %v", err)
	}
}

func TestCopyFileRangeCopiesBytes(t *testing.T) {
	src := &File{Inode: Ref(newMemInode(KindRegular))}
	src.Inode.WriteAt([]byte("abcdefgh"), 0)
	dst := &File{Inode: Ref(newMemInode(KindRegular))}

	n, err := CopyFileRange(src, 0, dst, 0, 8)
	if err != nil {
		t.Fatalf("CopyFileRange failed: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes copied, got %d", n)
	}
	buf := make([]byte, 8)
	dst.Inode.ReadAt(buf, 0)
	if string(buf) != "abcdefgh" {
		t.Fatalf("unexpected copied content: %q", buf)
	}
}

func TestCopyFileRangeRejectsSelfOverlap(t *testing.T) {
	inode := newMemInode(KindRegular)
	inode.WriteAt([]byte("0123456789"), 0)
	f := &File{Inode: Ref(inode)}

	if _, err := CopyFileRange(f, 0, f, 4, 8); err == nil {
		t.Fatal("expected error for overlapping self-copy")
	}
}

func TestCopyFileRangeRejectsCrossKind(t *testing.T) {
	src := &File{Inode: Ref(newMemInode(KindRegular))}
	dst := &File{Inode: Ref(newMemInode(KindFIFO))}
	if _, err := CopyFileRange(src, 0, dst, 0, 1); !errors.Is(err, errors.ErrCrossDeviceCopy) {
		t.Fatalf("expected ErrCrossDeviceCopy, got %v", err)
	}
}

func TestSpliceRequiresPipeEndpoint(t *testing.T) {
	a := &File{Inode: Ref(newMemInode(KindRegular))}
	b := &File{Inode: Ref(newMemInode(KindRegular))}
	if _, err := Splice(a, b, 1); !errors.Is(err, errors.ErrSpliceEndpoint) {
		t.Fatalf("expected ErrSpliceEndpoint, got %v", err)
	}
}

func TestSpliceMovesBytesFromPipe(t *testing.T) {
	pipe := &File{Inode: Ref(newMemInode(KindFIFO))}
	pipe.Inode.WriteAt([]byte("piped"), 0)
	dst := &File{Inode: Ref(newMemInode(KindRegular))}

	n, err := Splice(pipe, dst, 5)
	if err != nil {
		t.Fatalf("Splice failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes spliced, got %d", n)
	}
	buf := make([]byte, 5)
	dst.Inode.ReadAt(buf, 0)
	if string(buf) != "piped" {
		t.Fatalf("unexpected spliced content: %q", buf)
	}
}

func TestSendfileCopiesRegularFile(t *testing.T) {
	src := &File{Inode: Ref(newMemInode(KindRegular))}
	src.Inode.WriteAt([]byte("sendme"), 0)
	dst := &File{Inode: Ref(newMemInode(KindRegular))}

	n, err := Sendfile(src, 0, dst, 6)
	if err != nil {
		t.Fatalf("Sendfile failed: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 bytes sent, got %d", n)
	}
}
