package ksyscall

import (
	"sync"

	"kcore/archhal"
	"kcore/errors"
	"kcore/process"
	"kcore/vfs"
)

func init() {
	register(SysStat, "stat", 2, sysStatNeedsPath)
	register(SysLstat, "lstat", 2, sysStatNeedsPath)
	register(SysFstat, "fstat", 2, sysFstat)
	register(SysStatx, "statx", 5, sysStatxNeedsPath)
	register(SysReadlink, "readlink", 3, sysReadlinkNeedsPath)
	register(SysGetdents64, "getdents64", 3, sysGetdents64)
}

// sysStatNeedsPath and its statx/readlink siblings share open/openat's
// gap: the path argument is a raw pointer this core has no user address
// space to read through. StatPath below is the resolved-string entry
// point a loader or test harness uses instead.
func sysStatNeedsPath(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "stat", "path argument requires a resolved string, not a raw pointer")
}

func sysStatxNeedsPath(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "statx", "path argument requires a resolved string, not a raw pointer")
}

func sysReadlinkNeedsPath(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "readlink", "path argument requires a resolved string, not a raw pointer")
}

// StatPath resolves path and records its metadata for LastStat, the
// resolved-string analogue of stat(2)/lstat(2)/statx(2).
func StatPath(t *process.TCB, ctx *Context, path string) error {
	inode, err := resolvePath(ctx.MountNS, ctx.Cwd, path)
	if err != nil {
		return err
	}
	recordStat(t.PID(), inode.Metadata())
	return nil
}

func sysFstat(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	recordStat(t.PID(), f.Inode.Metadata())
	return 0, nil
}

func sysGetdents64(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	entries, err := f.Inode.List()
	if err != nil {
		return -1, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	recordDirEntries(t.PID(), names)
	return int64(len(entries)), nil
}

var (
	statMu sync.Mutex
	stats  = map[int]vfs.Metadata{}

	direntsMu sync.Mutex
	dirents   = map[int][]string{}
)

func recordStat(pid int, m vfs.Metadata) {
	statMu.Lock()
	stats[pid] = m
	statMu.Unlock()
}

// LastStat returns pid's most recently recorded stat metadata.
func LastStat(pid int) (vfs.Metadata, bool) {
	statMu.Lock()
	defer statMu.Unlock()
	m, ok := stats[pid]
	return m, ok
}

func recordDirEntries(pid int, names []string) {
	direntsMu.Lock()
	dirents[pid] = names
	direntsMu.Unlock()
}

// LastDirEntries returns the entry names from pid's most recent
// getdents64 call.
func LastDirEntries(pid int) ([]string, bool) {
	direntsMu.Lock()
	defer direntsMu.Unlock()
	names, ok := dirents[pid]
	return names, ok
}
