package ksyscall

import (
	"kcore/archhal"
	"kcore/errors"
	"kcore/net"
	"kcore/process"
	"kcore/timer"
	"kcore/vfs"
)

func init() {
	register(SysPoll, "poll", 3, sysPollNeedsFDList)
	register(SysPpoll, "ppoll", 5, sysPollNeedsFDList)
	register(SysSelect, "select", 5, sysSelectNeedsFDSets)
	register(SysPselect6, "pselect6", 6, sysSelectNeedsFDSets)
}

// jiffiesPerSecond is CONFIG_HZ=1000, the common default. The timer
// package defines no tick rate of its own; this constant is what
// ksyscall uses to convert between wall-clock units and jiffies.
const jiffiesPerSecond = 1000

func millisToJiffies(ms int64) timer.Jiffies {
	if ms < 0 {
		return timer.MaxJiffies
	}
	return timer.Jiffies(ms) * jiffiesPerSecond / 1000
}

// sysPollNeedsFDList and sysSelectNeedsFDSets stand in for poll(2)/
// select(2): their fd arrays arrive as a raw user pointer this core
// cannot copy in, the same gap documented on open/stat/bind. PollFDs
// below is the resolved-slice entry point.
func sysPollNeedsFDList(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "poll", "fd list argument requires a resolved slice, not a raw pointer")
}

func sysSelectNeedsFDSets(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return -1, errors.New(errors.Invalid, "ksyscall", "select", "fd set arguments require resolved slices, not raw pointers")
}

// PollFDs is poll(2)/ppoll(2)'s resolved entry point: fds names the
// socket-backed descriptors to watch and the events requested for each.
// Only socket fds are pollable through net.Poll; a non-socket fd (a
// regular file or device) is reported as always-ready, matching
// poll(2)'s own behavior for descriptors that don't block.
func PollFDs(ctx *Context, fds []int, events []vfs.PollMask, timeoutMillis int64) ([]vfs.PollMask, error) {
	entries := make([]*net.PollEntry, 0, len(fds))
	index := make([]int, 0, len(fds))
	revents := make([]vfs.PollMask, len(fds))

	for i, fd := range fds {
		f, err := ctx.FDs.Get(fd)
		if err != nil {
			return nil, err
		}
		si, ok := f.Inode.Inode.(*socketInode)
		if !ok {
			revents[i] = events[i]
			continue
		}
		entries = append(entries, &net.PollEntry{Socket: si.sock, Events: events[i]})
		index = append(index, i)
	}

	if len(entries) > 0 {
		if _, _, err := net.Poll(entries, millisToJiffies(timeoutMillis)); err != nil {
			return nil, err
		}
		for j, i := range index {
			revents[i] = entries[j].Revents
		}
	}
	return revents, nil
}

// SelectFDs is select(2)/pselect6(2)'s resolved entry point, delegating
// straight to net.Select over the socket fds found in each set. Unlike
// PollFDs, a non-socket fd (or one that does not resolve) is dropped
// from its set and never reported ready.
func SelectFDs(ctx *Context, readFDs, writeFDs, exceptFDs []int, timeoutMillis int64) (readyRead, readyWrite, readyExcept []int, err error) {
	toSockets := func(fds []int) ([]net.Socket, []int) {
		socks := make([]net.Socket, 0, len(fds))
		owners := make([]int, 0, len(fds))
		for _, fd := range fds {
			f, gerr := ctx.FDs.Get(fd)
			if gerr != nil {
				continue
			}
			if si, ok := f.Inode.Inode.(*socketInode); ok {
				socks = append(socks, si.sock)
				owners = append(owners, fd)
			}
		}
		return socks, owners
	}

	rs, rOwners := toSockets(readFDs)
	ws, wOwners := toSockets(writeFDs)
	es, eOwners := toSockets(exceptFDs)

	readyR, readyW, readyE, _, serr := net.Select(rs, ws, es, millisToJiffies(timeoutMillis))
	if serr != nil {
		return nil, nil, nil, serr
	}

	collect := func(ready []net.Socket, socks []net.Socket, owners []int) []int {
		out := make([]int, 0, len(ready))
		for _, s := range ready {
			for i, cand := range socks {
				if cand == s {
					out = append(out, owners[i])
				}
			}
		}
		return out
	}
	return collect(readyR, rs, rOwners), collect(readyW, ws, wOwners), collect(readyE, es, eOwners), nil
}
