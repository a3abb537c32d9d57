package ksyscall

import (
	"sync"

	"kcore/archhal"
	"kcore/errors"
	"kcore/ipc/eventfd"
	"kcore/ipc/futex"
	"kcore/ipc/pipe"
	"kcore/ipc/signalfd"
	"kcore/process"
	"kcore/vfs"
)

func init() {
	register(SysEventfd2, "eventfd2", 2, sysEventfd2)
	register(SysSignalfd4, "signalfd4", 4, sysSignalfd4)
	register(SysPipe, "pipe", 1, sysPipe)
	register(SysPipe2, "pipe2", 2, sysPipe2)
	register(SysFlock, "flock", 2, sysFlock)
	register(SysFutex, "futex", 6, sysFutex)
}

// notifySignalDelivered lets a blocked signalfd reader re-check its
// mask after SendSignal queues a new signal; it lives here rather than
// in process because ipc/signalfd already imports process, and process
// importing it back would cycle.
func notifySignalDelivered(pid int, sig int) {
	signalfd.Notify(pid, sig)
}

func sysEventfd2(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	initval := uint64(uint32(args[0]))
	flags := eventfd.Flags(0)
	if args[1]&0x800 != 0 { // EFD_NONBLOCK
		flags |= eventfd.NonBlock
	}
	if args[1]&1 != 0 { // EFD_SEMAPHORE
		flags |= eventfd.Semaphore
	}
	inode := eventfd.New(initval, flags)
	f := &vfs.File{Inode: vfs.Ref(inode), Flags: vfs.OReadWrite}
	fd := ctx.FDs.Install(f)
	return int64(fd), nil
}

// sysSignalfd4 creates a new signalfd bound to the calling task; unlike
// Linux's fd-reuse form (a non-negative first argument replaces that
// fd's mask in place) this core always allocates fresh, since FDTable
// has no in-place inode swap and no caller in this tree relies on the
// reuse form.
func sysSignalfd4(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	mask := args[1]
	flags := signalfd.Flags(0)
	if args[3]&0x800 != 0 {
		flags |= signalfd.NonBlock
	}
	inode := signalfd.New(t, mask, flags)
	f := &vfs.File{Inode: vfs.Ref(inode), Flags: vfs.OReadOnly}
	fd := ctx.FDs.Install(f)
	return int64(fd), nil
}

func installPipeEnds(ctx *Context) (readFD, writeFD int) {
	p := pipe.New()
	r := &vfs.File{Inode: vfs.Ref(p), Flags: vfs.OReadOnly}
	w := &vfs.File{Inode: vfs.Ref(p), Flags: vfs.OWriteOnly}
	return ctx.FDs.Install(r), ctx.FDs.Install(w)
}

// sysPipe and sysPipe2 report their two new fds through LastPipeFDs,
// the same pattern sysWait4 uses for its status word: there is no user
// pointer backing args[0] to write [2]int32 through.
func sysPipe(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	r, w := installPipeEnds(ctx)
	recordPipeFDs(t.PID(), r, w)
	return 0, nil
}

func sysPipe2(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	r, w := installPipeEnds(ctx)
	if args[1]&0x80000 != 0 { // O_CLOEXEC
		ctx.FDs.SetCloseOnExec(r, true)
		ctx.FDs.SetCloseOnExec(w, true)
	}
	recordPipeFDs(t.PID(), r, w)
	return 0, nil
}

var flockMgr = vfs.NewFlockManager("")

func sysFlock(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	fd := int(int32(args[0]))
	op := args[1]
	f, err := ctx.FDs.Get(fd)
	if err != nil {
		return -1, err
	}
	const lockUN = 8
	if op&lockUN != 0 {
		// The release closure FlockManager.Lock/TryLock returned when
		// this open file description last locked is stashed on f; an
		// explicit unlock with nothing held is a no-op.
		f.ReleaseFlock()
		return 0, nil
	}
	exclusive := op&2 != 0 // LOCK_EX
	nonblock := op&4 != 0  // LOCK_NB
	if nonblock {
		release, ok := flockMgr.TryLock(f.Inode.Metadata().DevID, f.Inode.Metadata().InodeID, exclusive)
		if !ok {
			return -1, errors.ErrWouldBlock
		}
		f.SetFlockRelease(release)
		return 0, nil
	}
	release, err := flockMgr.LockInode(f.Inode, exclusive)
	if err != nil {
		return -1, err
	}
	f.SetFlockRelease(release)
	return 0, nil
}

// futexWords simulates the word a futex address points at, since this
// core has no general copy_from_user for an arbitrary raw address (see
// UserBuffer's doc comment); callers only ever compare against the
// value they themselves last stored through this same table.
var futexWords = struct {
	mu sync.Mutex
	m  map[uint64]uint32
}{m: map[uint64]uint32{}}

func loadFutexWord(addr uint64) uint32 {
	futexWords.mu.Lock()
	defer futexWords.mu.Unlock()
	return futexWords.m[addr]
}

func storeFutexWord(addr uint64, val uint32) {
	futexWords.mu.Lock()
	futexWords.m[addr] = val
	futexWords.mu.Unlock()
}

const (
	futexWait     = 0
	futexWake     = 1
	futexCmdMask  = 0x7f
	futexPrivate  = 128
)

func sysFutex(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	addr := args[0]
	cmd := uint32(args[1]) & futexCmdMask
	val := uint32(args[2])

	key := futex.Key{Kind: futex.KeyShared, Addr: addr}
	if uint32(args[1])&futexPrivate != 0 {
		key = futex.Key{Kind: futex.KeyPrivate, Addr: addr, TID: t.PID()}
	}

	switch cmd {
	case futexWait:
		err := futex.Wait(key, t, val, 0xffffffff, func() uint32 { return loadFutexWord(addr) })
		if err != nil {
			return -1, err
		}
		return 0, nil
	case futexWake:
		n := futex.Wake(key, 0xffffffff, int(int32(args[3])))
		return int64(n), nil
	default:
		return -1, errors.New(errors.Invalid, "ksyscall", "futex", "unsupported futex operation")
	}
}
