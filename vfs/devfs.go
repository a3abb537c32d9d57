package vfs

import (
	"sync"

	"kcore/errors"
)

// DeviceOps is the per-device-node behavior a character device plugs
// into a synthetic devfs inode: null/zero/urandom-style byte sources
// and sinks, not a real driver (that is explicit Non-goal territory).
type DeviceOps interface {
	ReadAt(buf []byte, offset int64) (int, error)
	WriteAt(buf []byte, offset int64) (int, error)
}

// deviceInode is the synthetic inode backing a devfs entry.
type deviceInode struct {
	meta Metadata
	ops  DeviceOps
}

func (d *deviceInode) Open(flags int) error  { return nil }
func (d *deviceInode) Close() error          { return nil }
func (d *deviceInode) Metadata() Metadata    { return d.meta }
func (d *deviceInode) ReadAt(buf []byte, offset int64) (int, error) {
	return d.ops.ReadAt(buf, offset)
}
func (d *deviceInode) WriteAt(buf []byte, offset int64) (int, error) {
	return d.ops.WriteAt(buf, offset)
}
func (d *deviceInode) Ioctl(cmd uintptr, arg uintptr) (uintptr, error) {
	return 0, errors.New(errors.NotPermitted, "vfs/devfs", "ioctl", "unsupported on this device")
}
func (d *deviceInode) Mmap(offset int64, length int) (MmapHandle, error) {
	return nil, errors.New(errors.NotPermitted, "vfs/devfs", "mmap", "device does not support mmap")
}
func (d *deviceInode) Poll(events PollMask) PollMask { return events & (PollIn | PollOut) }
func (d *deviceInode) List() ([]DirEntry, error)     { return nil, ErrNotADirectory }

// nullOps discards writes and returns EOF on read, /dev/null.
type nullOps struct{}

func (nullOps) ReadAt(buf []byte, offset int64) (int, error) { return 0, nil }
func (nullOps) WriteAt(buf []byte, offset int64) (int, error) { return len(buf), nil }

// zeroOps returns an infinite zero stream, /dev/zero.
type zeroOps struct{}

func (zeroOps) ReadAt(buf []byte, offset int64) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}
func (zeroOps) WriteAt(buf []byte, offset int64) (int, error) { return len(buf), nil }

// fullOps is /dev/full: reads as zero, writes fail with NoSpace.
type fullOps struct{}

func (fullOps) ReadAt(buf []byte, offset int64) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}
func (fullOps) WriteAt(buf []byte, offset int64) (int, error) {
	return 0, errors.New(errors.NoSpace, "vfs/devfs", "write", "/dev/full")
}

// DeviceTable is the registry of synthetic device inodes visible under
// /dev, generalized from linux/devices.go's allowedDevices whitelist and
// DefaultDevices() set: the same major:minor identities, minus the
// host mknod/chown machinery, since this core's devfs is an in-memory
// inode set, not real device-special files on a host filesystem.
type DeviceTable struct {
	mu      sync.Mutex
	devices map[string]*deviceInode
}

// NewDeviceTable builds the standard device set mirrored from
// linux/devices.go's DefaultDevices(): null, zero, full, random and
// urandom (there is no tty node).
func NewDeviceTable() *DeviceTable {
	t := &DeviceTable{devices: make(map[string]*deviceInode)}
	t.register("null", 1, 3, nullOps{})
	t.register("zero", 1, 5, zeroOps{})
	t.register("full", 1, 7, fullOps{})
	t.register("random", 1, 8, zeroOps{})
	t.register("urandom", 1, 9, zeroOps{})
	return t
}

func (t *DeviceTable) register(name string, major, minor uint32, ops DeviceOps) {
	t.devices[name] = &deviceInode{
		meta: Metadata{Kind: KindCharDevice, Mode: 0666, Major: major, Minor: minor},
		ops:  ops,
	}
}

// Lookup returns the inode for a device named by its /dev-relative name.
func (t *DeviceTable) Lookup(name string) (Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.devices[name]
	if !ok {
		return nil, errors.New(errors.NotFound, "vfs/devfs", "lookup", "no such device")
	}
	return d, nil
}

// RegisterCustom adds a non-standard device node, the devfs-side half of
// block.Manager.Register's two-phase rollback: block registers the
// backing device first, then calls this to publish its devfs entry, and
// unregisters here if any later step in Manager.Register fails.
func (t *DeviceTable) RegisterCustom(name string, major, minor uint32, kind InodeKind, ops DeviceOps) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.devices[name]; exists {
		return errors.New(errors.Exists, "vfs/devfs", "register", "device name already in use")
	}
	t.devices[name] = &deviceInode{
		meta: Metadata{Kind: kind, Mode: 0660, Major: major, Minor: minor},
		ops:  ops,
	}
	return nil
}

// Unregister removes a previously-registered device node.
func (t *DeviceTable) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, name)
}

// List returns the names of all registered devices, for cmd's diagnostic
// verbs.
func (t *DeviceTable) List() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.devices))
	for name := range t.devices {
		names = append(names, name)
	}
	return names
}

// devfsRootInode adapts a DeviceTable onto the Inode contract so it can
// be grafted as a mount root at /dev: its directory listing is the
// table's registered device names, resolved to their deviceInode on
// lookup by resolvePath's component walk.
type devfsRootInode struct {
	table *DeviceTable
}

// AsInode exposes t as the mountable root of a /dev graft.
func (t *DeviceTable) AsInode() Inode { return &devfsRootInode{table: t} }

func (r *devfsRootInode) Open(flags int) error { return nil }
func (r *devfsRootInode) Close() error         { return nil }
func (r *devfsRootInode) Metadata() Metadata   { return Metadata{Kind: KindDirectory, Mode: 0755} }
func (r *devfsRootInode) ReadAt(buf []byte, offset int64) (int, error) {
	return 0, errors.New(errors.NotPermitted, "vfs/devfs", "read", "/dev is a directory")
}
func (r *devfsRootInode) WriteAt(buf []byte, offset int64) (int, error) {
	return 0, errors.New(errors.NotPermitted, "vfs/devfs", "write", "/dev is a directory")
}
func (r *devfsRootInode) Ioctl(cmd uintptr, arg uintptr) (uintptr, error) {
	return 0, errors.New(errors.NotPermitted, "vfs/devfs", "ioctl", "not supported on a directory")
}
func (r *devfsRootInode) Mmap(offset int64, length int) (MmapHandle, error) {
	return nil, errors.New(errors.NotPermitted, "vfs/devfs", "mmap", "directories are not mmapable")
}
func (r *devfsRootInode) Poll(events PollMask) PollMask { return 0 }
func (r *devfsRootInode) List() ([]DirEntry, error) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	entries := make([]DirEntry, 0, len(r.table.devices))
	for name, d := range r.table.devices {
		entries = append(entries, DirEntry{Name: name, Inode: d, Kind: d.meta.Kind})
	}
	return entries, nil
}
