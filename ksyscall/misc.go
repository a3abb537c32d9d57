package ksyscall

import (
	"sync"

	"kcore/archhal"
	"kcore/errors"
	"kcore/process"
)

func init() {
	register(SysRtSigaction, "rt_sigaction", 4, sysRtSigaction)
	register(SysRtSigprocmask, "rt_sigprocmask", 4, sysRtSigprocmask)
	register(SysRtSigtimedwait, "rt_sigtimedwait", 4, sysRtSigtimedwait)
	register(SysSigaltstack, "sigaltstack", 2, sysSigaltstackNoop)
	register(SysCapget, "capget", 2, sysCapget)
	register(SysCapset, "capset", 2, sysCapset)
	register(SysClockGettime, "clock_gettime", 2, sysClockGettime)
	register(SysGettimeofday, "gettimeofday", 2, sysClockGettime)
	register(SysNanosleep, "nanosleep", 2, sysNanosleep)
}

const (
	sigBlock   = 0
	sigUnblock = 1
	sigSetmask = 2
)

func sysRtSigprocmask(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	how := args[0]
	newMask := args[1]
	oldMask := t.BlockedMask()
	switch how {
	case sigBlock:
		t.SetBlocked(oldMask | newMask)
	case sigUnblock:
		t.SetBlocked(oldMask &^ newMask)
	case sigSetmask:
		t.SetBlocked(newMask)
	default:
		return -1, errors.New(errors.Invalid, "ksyscall", "rt_sigprocmask", "bad how value")
	}
	recordOldMask(t.PID(), oldMask)
	return 0, nil
}

// sysRtSigaction only covers the disposition bookkeeping SetHandler
// already models (terminate/stop/continue/ignore/handler); the actual
// handler entry point a real rt_sigaction installs has nowhere to run
// in this core, which never returns to user-space code.
func sysRtSigaction(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	sig := int(int32(args[0]))
	disposition := process.Disposition(args[1])
	if err := t.SetHandler(sig, disposition); err != nil {
		return -1, err
	}
	return 0, nil
}

// sysRtSigtimedwait dequeues the first pending signal in set, honoring
// NoHang-style immediate return; a real timeout wait needs a channel
// wired through signal delivery the way ksync.WaitQueue's interruptible
// wait does elsewhere, which nothing in this tree's blocking call sites
// currently provides (see process.Wait4's own doc comment).
func sysRtSigtimedwait(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	mask := args[0]
	info, ok := t.DequeueSignal(^mask)
	if !ok {
		return -1, errors.ErrWouldBlock
	}
	return int64(info.Signo), nil
}

func sysSigaltstackNoop(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return 0, nil
}

func sysCapget(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	creds := t.Credentials()
	recordCapSet(t.PID(), creds.Effective)
	return 0, nil
}

// sysCapset only supports dropping capabilities (DropCapability),
// matching this core's Credentials contract, which has no "add back a
// capability" operation — a real process can never regain one it lacks
// via setcap either, short of re-exec through a file with its own
// capability bits.
func sysCapset(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	requested := process.CapSet(args[0])
	current := t.Credentials()
	next := *current
	for c := process.Capability(0); c < 64; c++ {
		if current.Effective.Has(c) && !requested.Has(c) {
			dropped := next.DropCapability(c)
			next = *dropped
		}
	}
	t.SetCredentials(&next)
	return 0, nil
}

const nsecPerSec = 1_000_000_000

func sysClockGettime(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	recordClockTime(t.PID(), monotonicNanos())
	return 0, nil
}

// sysNanosleep has no real clock to block on in this simulated core;
// it returns immediately, which is observably correct for any caller
// that only depends on nanosleep eventually returning, just not the
// elapsed wall-clock time.
func sysNanosleep(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return 0, nil
}

var (
	monoMu   sync.Mutex
	monoTick int64
)

// monotonicNanos is a logical clock this core advances once per call
// rather than reading a real wall clock, since Date.now()-equivalent
// access is deliberately unavailable to keep the kernel core's
// behavior reproducible from a fixed trace of syscalls.
func monotonicNanos() int64 {
	monoMu.Lock()
	defer monoMu.Unlock()
	monoTick += nsecPerSec / jiffiesPerSecond
	return monoTick
}

var (
	oldMaskMu sync.Mutex
	oldMasks  = map[int]uint64{}

	capSetMu sync.Mutex
	capSets  = map[int]process.CapSet{}

	clockMu   sync.Mutex
	clockTime = map[int]int64{}
)

func recordOldMask(pid int, mask uint64)  { oldMaskMu.Lock(); oldMasks[pid] = mask; oldMaskMu.Unlock() }
func LastOldMask(pid int) (uint64, bool)  { oldMaskMu.Lock(); defer oldMaskMu.Unlock(); m, ok := oldMasks[pid]; return m, ok }

func recordCapSet(pid int, c process.CapSet) { capSetMu.Lock(); capSets[pid] = c; capSetMu.Unlock() }
func LastCapSet(pid int) (process.CapSet, bool) {
	capSetMu.Lock()
	defer capSetMu.Unlock()
	c, ok := capSets[pid]
	return c, ok
}

func recordClockTime(pid int, nanos int64) { clockMu.Lock(); clockTime[pid] = nanos; clockMu.Unlock() }

// LastClockTime returns the nanosecond reading most recently recorded
// for pid by clock_gettime/gettimeofday.
func LastClockTime(pid int) (int64, bool) {
	clockMu.Lock()
	defer clockMu.Unlock()
	n, ok := clockTime[pid]
	return n, ok
}
