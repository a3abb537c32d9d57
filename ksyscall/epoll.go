package ksyscall

import (
	"kcore/archhal"
	"kcore/errors"
	"kcore/net"
	"kcore/process"
	"kcore/vfs"
)

func init() {
	register(SysEpollCreate1, "epoll_create1", 1, sysEpollCreate1)
	register(SysEpollCtl, "epoll_ctl", 4, sysEpollCtlNeedsEvent)
	register(SysEpollWait, "epoll_wait", 4, sysEpollWaitNeedsBuffer)
	register(SysEpollPwait, "epoll_pwait", 6, sysEpollWaitNeedsBuffer)
}

// epollInode adapts an *net.EpollSet onto the vfs.Inode contract so an
// epoll instance can occupy an FDTable slot the way Linux's anonymous
// epoll inode does.
type epollInode struct {
	set *net.EpollSet
}

func (e *epollInode) Open(flags int) error                          { return nil }
func (e *epollInode) Close() error                                  { return e.set.Close() }
func (e *epollInode) ReadAt(buf []byte, offset int64) (int, error) {
	return 0, errors.New(errors.NotPermitted, "ksyscall", "epoll_read", "epoll instances are not readable")
}
func (e *epollInode) WriteAt(buf []byte, offset int64) (int, error) {
	return 0, errors.New(errors.NotPermitted, "ksyscall", "epoll_write", "epoll instances are not writable")
}
func (e *epollInode) Metadata() vfs.Metadata                        { return vfs.Metadata{Kind: vfs.KindCharDevice} }
func (e *epollInode) Ioctl(cmd, arg uintptr) (uintptr, error) {
	return 0, errors.New(errors.NotPermitted, "ksyscall", "epoll_ioctl", "not supported on epoll instances")
}
func (e *epollInode) Mmap(offset int64, length int) (vfs.MmapHandle, error) {
	return nil, errors.New(errors.NotPermitted, "ksyscall", "epoll_mmap", "epoll instances are not mmapable")
}
func (e *epollInode) Poll(events vfs.PollMask) vfs.PollMask { return 0 }
func (e *epollInode) List() ([]vfs.DirEntry, error) {
	return nil, errors.New(errors.NotDirectory, "ksyscall", "epoll_list", "not a directory")
}

func sysEpollCreate1(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	set, err := net.NewEpollSet()
	if err != nil {
		return -1, err
	}
	f := &vfs.File{Inode: vfs.Ref(&epollInode{set: set}), Flags: vfs.OReadWrite}
	return int64(ctx.FDs.Install(f)), nil
}

func epollSetFromFD(ctx *Context, fd int) (*net.EpollSet, error) {
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return nil, err
	}
	ei, ok := f.Inode.Inode.(*epollInode)
	if !ok {
		return nil, errors.New(errors.Invalid, "ksyscall", "epoll", "fd is not an epoll instance")
	}
	return ei.set, nil
}

// sysEpollCtlNeedsEvent and sysEpollWaitNeedsBuffer stand in for
// epoll_ctl(2)/epoll_wait(2): their struct epoll_event arguments arrive
// as raw user pointers this core cannot copy in, the same gap every
// other struct-pointer syscall in this package documents. EpollAdd/
// EpollRemove/EpollWait below are the resolved entry points.
func sysEpollCtlNeedsEvent(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "epoll_ctl", "event argument requires a resolved value, not a raw pointer")
}

func sysEpollWaitNeedsBuffer(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "epoll_wait", "event buffer argument requires a resolved slice, not a raw pointer")
}

// EpollAdd registers fd's socket with epollFD's set for events.
func EpollAdd(ctx *Context, epollFD, fd int, events vfs.PollMask) error {
	set, err := epollSetFromFD(ctx, epollFD)
	if err != nil {
		return err
	}
	sock, err := socketFromFD(ctx, fd)
	if err != nil {
		return err
	}
	return set.Add(sock, events)
}

// EpollRemove is not implemented: EpollSet.Remove keys on the host fd
// it registered internally (the socket's own fd for a HostPollable, or
// a bridge eventfd's fd otherwise), which EpollAdd never hands back to
// its caller. A real EPOLL_CTL_DEL needs that mapping kept per epoll
// instance; no caller in this tree needs removal yet, so it is left as
// a documented gap rather than guessed at.
func EpollRemove(ctx *Context, epollFD, fd int) error {
	return errors.New(errors.Invalid, "ksyscall", "epoll_remove", "EPOLL_CTL_DEL is not implemented")
}

// EpollWait blocks on epollFD's set and returns the sockets that became
// ready, up to maxEvents.
func EpollWait(ctx *Context, epollFD int, maxEvents int, timeoutMillis int) ([]net.Pollable, error) {
	set, err := epollSetFromFD(ctx, epollFD)
	if err != nil {
		return nil, err
	}
	return set.Wait(maxEvents, timeoutMillis)
}
