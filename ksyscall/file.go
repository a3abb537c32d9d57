package ksyscall

import (
	"strings"

	"kcore/archhal"
	"kcore/errors"
	"kcore/process"
	"kcore/vfs"
)

func init() {
	register(SysRead, "read", 3, sysRead)
	register(SysWrite, "write", 3, sysWrite)
	register(SysOpen, "open", 3, sysOpen)
	register(SysOpenat, "openat", 4, sysOpenat)
	register(SysClose, "close", 1, sysClose)
	register(SysLseek, "lseek", 3, sysLseek)
	register(SysPread64, "pread64", 4, sysPread64)
	register(SysPwrite64, "pwrite64", 4, sysPwrite64)
	register(SysDup, "dup", 1, sysDup)
	register(SysDup3, "dup3", 3, sysDup3)
	register(SysFcntl, "fcntl", 3, sysFcntl)
	register(SysIoctl, "ioctl", 3, sysIoctl)
	register(SysSendfile, "sendfile", 4, sysSendfile)
	register(SysSplice, "splice", 6, sysSplice)
	register(SysTee, "tee", 4, sysTee)
	register(SysCopyFileRange, "copy_file_range", 6, sysCopyFileRange)

	for _, n := range []Num{SysMkdir, SysRmdir, SysLink, SysUnlink, SysSymlink, SysRename, SysMount, SysUmount} {
		register(n, "dir-mutation", 6, sysDirMutationNotPermitted)
	}
}

// resolvePath walks path from ctx's mount namespace root down through
// each component's List() entries, since vfs.Namespace.Resolve only
// finds the longest-mounted-prefix and leaves the remaining relative
// path unwalked (there is no directory-walk helper in vfs itself).
func resolvePath(ns *vfs.Namespace, cwd, path string) (vfs.Inode, error) {
	if !strings.HasPrefix(path, "/") {
		path = cwd + "/" + path
	}
	mount, rel, err := ns.Resolve(path)
	if err != nil {
		return nil, err
	}
	cur := mount.Root
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return cur, nil
	}
	for _, part := range strings.Split(rel, "/") {
		if part == "" || part == "." {
			continue
		}
		entries, err := cur.List()
		if err != nil {
			return nil, err
		}
		found := false
		for _, e := range entries {
			if e.Name == part {
				cur = e.Inode
				found = true
				break
			}
		}
		if !found {
			return nil, errors.New(errors.NotFound, "ksyscall", "resolve_path", "no such file or directory")
		}
	}
	return cur, nil
}

func sysOpenCommon(ctx *Context, path string, flags vfs.OpenFlags) (int64, error) {
	inode, err := resolvePath(ctx.MountNS, ctx.Cwd, path)
	if err != nil {
		return -1, err
	}
	if err := inode.Open(int(flags)); err != nil {
		return -1, err
	}
	f := &vfs.File{Inode: vfs.Ref(inode), Flags: flags}
	return int64(ctx.FDs.Install(f)), nil
}

// sysOpen/sysOpenat cannot read a path through the raw user pointer in
// args[0], since this core has no user address space to copy it from;
// both always return Invalid. OpenPath below is the resolved-string
// entry point.
func sysOpen(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "open", "path argument requires a resolved string, not a raw pointer")
}

func sysOpenat(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "openat", "path argument requires a resolved string, not a raw pointer")
}

// OpenPath is the resolved-string entry point sysOpen/sysOpenat would
// use if wired to a real argument-copy path; exported so a loader or
// test harness can open files without a user pointer.
func OpenPath(ctx *Context, path string, flags vfs.OpenFlags) (int64, error) {
	return sysOpenCommon(ctx, path, flags)
}

func sysClose(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	if err := ctx.FDs.Close(fd); err != nil {
		return -1, err
	}
	return 0, nil
}

func sysRead(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	buf := NewUserBuffer(make([]byte, args[2]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	n, err := f.Read(buf.Bytes())
	if err != nil {
		return -1, err
	}
	return int64(n), nil
}

func sysWrite(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	n, err := f.Write(make([]byte, args[2]))
	if err != nil {
		return -1, err
	}
	return int64(n), nil
}

func sysPread64(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	buf := make([]byte, args[2])
	n, err := f.Inode.ReadAt(buf, int64(args[3]))
	if err != nil {
		return -1, err
	}
	return int64(n), nil
}

func sysPwrite64(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	n, err := f.Inode.WriteAt(make([]byte, args[2]), int64(args[3]))
	if err != nil {
		return -1, err
	}
	return int64(n), nil
}

func sysLseek(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	off, err := f.Seek(int64(args[1]), int(int32(args[2])))
	if err != nil {
		return -1, err
	}
	return off, nil
}

func sysDup(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	return int64(ctx.FDs.Install(f)), nil
}

func sysDup3(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	oldfd, newfd := int(int32(args[0])), int(int32(args[1]))
	f, err := ctx.FDs.Get(oldfd)
	if err != nil {
		return -1, err
	}
	if err := ctx.FDs.InstallAt(newfd, f); err != nil {
		return -1, err
	}
	return int64(newfd), nil
}

const (
	fcntlDupFD      = 0
	fcntlGetFD      = 1
	fcntlSetFD      = 2
	fdCloexecBit    = 1
)

func sysFcntl(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	cmd := args[1]
	switch cmd {
	case fcntlDupFD:
		return sysDup(t, ctx, frame, args)
	case fcntlSetFD:
		ctx.FDs.SetCloseOnExec(fd, args[2]&fdCloexecBit != 0)
		return 0, nil
	case fcntlGetFD:
		return 0, nil
	default:
		return -1, errors.New(errors.Invalid, "ksyscall", "fcntl", "unsupported command")
	}
}

func sysIoctl(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	ret, err := f.Inode.Ioctl(uintptr(args[1]), uintptr(args[2]))
	if err != nil {
		return -1, err
	}
	return int64(ret), nil
}

func sysSendfile(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	outFD, inFD, count := int(int32(args[0])), int(int32(args[1])), int64(args[3])
	out, err := ctx.FDs.Get(outFD)
	if err != nil {
		return -1, err
	}
	in, err := ctx.FDs.Get(inFD)
	if err != nil {
		return -1, err
	}
	n, err := vfs.Sendfile(in, in.Offset, out, count)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func sysSplice(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	inFD, outFD, count := int(int32(args[0])), int(int32(args[2])), int64(args[4])
	in, err := ctx.FDs.Get(inFD)
	if err != nil {
		return -1, err
	}
	out, err := ctx.FDs.Get(outFD)
	if err != nil {
		return -1, err
	}
	n, err := vfs.Splice(in, out, count)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func sysTee(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	inFD, outFD, count := int(int32(args[0])), int(int32(args[1])), int64(args[2])
	in, err := ctx.FDs.Get(inFD)
	if err != nil {
		return -1, err
	}
	out, err := ctx.FDs.Get(outFD)
	if err != nil {
		return -1, err
	}
	n, err := vfs.Tee(in, out, count)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func sysCopyFileRange(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	inFD, outFD, count := int(int32(args[0])), int(int32(args[2])), int64(args[4])
	in, err := ctx.FDs.Get(inFD)
	if err != nil {
		return -1, err
	}
	out, err := ctx.FDs.Get(outFD)
	if err != nil {
		return -1, err
	}
	n, err := vfs.CopyFileRange(in, in.Offset, out, out.Offset, count)
	if err != nil {
		return -1, err
	}
	return n, nil
}

// sysDirMutationNotPermitted backs mkdir/rmdir/link/unlink/symlink/
// rename/mount/umount: vfs.Inode has no directory-mutation methods
// (Create/Unlink/Mkdir), only Open/ReadAt/WriteAt/List, so there is no
// generic mechanism to mutate a directory without inventing a writable
// directory-inode implementation, which belongs with the on-disk
// filesystem formats this core does not implement. Each syscall is
// still table-indexed rather than left absent, the way a kernel built
// without a given filesystem still reserves its syscall numbers.
func sysDirMutationNotPermitted(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.NotPermitted, "ksyscall", "dir_mutation", "directory mutation is not implemented by this core")
}
