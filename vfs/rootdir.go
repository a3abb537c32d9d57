package vfs

import "kcore/errors"

// RootDir is the empty in-memory directory inode a namespace starts
// from before any real filesystem is mounted over it — the rootfs
// ramfs stand-in every other mount (devfs, a block-backed fs) grafts
// onto, since this core's Non-goals exclude on-disk filesystem formats.
type RootDir struct{}

// NewRootDir creates the / inode passed to NewNamespace at boot.
func NewRootDir() *RootDir { return &RootDir{} }

func (r *RootDir) Open(flags int) error { return nil }
func (r *RootDir) Close() error         { return nil }
func (r *RootDir) Metadata() Metadata   { return Metadata{Kind: KindDirectory, Mode: 0755} }
func (r *RootDir) ReadAt(buf []byte, offset int64) (int, error) {
	return 0, errors.New(errors.NotPermitted, "vfs", "read", "/ is a directory")
}
func (r *RootDir) WriteAt(buf []byte, offset int64) (int, error) {
	return 0, errors.New(errors.NotPermitted, "vfs", "write", "/ is a directory")
}
func (r *RootDir) Ioctl(cmd uintptr, arg uintptr) (uintptr, error) {
	return 0, errors.New(errors.NotPermitted, "vfs", "ioctl", "not supported on a directory")
}
func (r *RootDir) Mmap(offset int64, length int) (MmapHandle, error) {
	return nil, errors.New(errors.NotPermitted, "vfs", "mmap", "directories are not mmapable")
}
func (r *RootDir) Poll(events PollMask) PollMask { return 0 }

// List is always empty: every entry under / in this core arrives via a
// mount (devfs at /dev, a block-backed fs elsewhere), never via a
// directory-mutation syscall, which ksyscall's dir-mutation handlers
// deliberately do not implement.
func (r *RootDir) List() ([]DirEntry, error) { return nil, nil }
