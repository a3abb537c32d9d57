// Package ksyscall implements the syscall dispatch core described in
// SPEC_FULL.md: a table-indexed dispatcher, a UserBuffer abstraction
// standing in for copy_to/from_user, and the errno/restart conversion
// at the syscall return path. It is the one package that imports every
// facade below it (process, vfs, mm/vmm, net and its families, ipc/*)
// since its job is exactly to translate a syscall number and argument
// array into a call against one of those facades.
package ksyscall

import (
	"sync"

	"kcore/errors"
	"kcore/mm/vmm"
	"kcore/process"
	"kcore/vfs"
)

// Context bundles the per-task resources a syscall handler needs beyond
// the TCB itself: the address space, fd table and mount namespace a
// real task_struct would reach through pointers, kept here instead of
// on process.TCB because mm/vmm and vfs own those types and process
// does not import either (process sits below both in the dependency
// order, per SPEC_FULL.md's boot order table).
type Context struct {
	Task    *process.TCB
	AS      *vmm.AddressSpace
	FDs     *vfs.FDTable
	MountNS *vfs.Namespace
	Cwd     string

	mu   sync.Mutex
	heap struct {
		start, brk uint64 // current program break; 0 until first brk(2) call
	}
	mmapNext uint64 // next address handed out for an addr==0 mmap request
}

// nextMmapBase hands out addresses for addr-unspecified anonymous
// mappings, bump-allocating downward from a fixed high region the way a
// real mmap(2) implementation picks an unused gap; this core has no
// general VMA-gap search, so it never reuses a range once handed out.
func (c *Context) nextMmapBase(length uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mmapNext == 0 {
		c.mmapNext = 0x0000_7000_0000_0000
	}
	c.mmapNext -= length
	return c.mmapNext
}

var (
	ctxMu sync.Mutex
	ctxs  = map[int]*Context{}
)

// Bind registers ctx as the syscall-visible resource bundle for the
// task at ctx.Task.PID(), called once a fork/clone has built the
// child's address space, fd table and mount namespace per its clone
// flags.
func Bind(ctx *Context) {
	ctxMu.Lock()
	ctxs[ctx.Task.PID()] = ctx
	ctxMu.Unlock()
}

// Unbind removes the resource bundle for pid, called from the exit
// path once its resources have been torn down.
func Unbind(pid int) {
	ctxMu.Lock()
	delete(ctxs, pid)
	ctxMu.Unlock()
}

// Contexts returns a snapshot of every bound resource bundle, keyed by
// pid, for the debug CLI's mount/fd introspection commands.
func Contexts() map[int]*Context {
	ctxMu.Lock()
	defer ctxMu.Unlock()
	out := make(map[int]*Context, len(ctxs))
	for pid, ctx := range ctxs {
		out[pid] = ctx
	}
	return out
}

// lookupContext returns the bound Context for pid.
func lookupContext(pid int) (*Context, error) {
	ctxMu.Lock()
	ctx, ok := ctxs[pid]
	ctxMu.Unlock()
	if !ok {
		return nil, errors.New(errors.Internal, "ksyscall", "lookup_context", "no syscall context bound for task")
	}
	return ctx, nil
}

var (
	waitStatusMu sync.Mutex
	waitStatus   = map[int]uint32{}
)

// recordWaitStatus stashes the status word a wait4 call just collected,
// readable back via LastWaitStatus since sysWait4 has no real user
// pointer to write it through (see its own doc comment).
func recordWaitStatus(callerPID int, status uint32) {
	waitStatusMu.Lock()
	waitStatus[callerPID] = status
	waitStatusMu.Unlock()
}

// LastWaitStatus returns the status word from callerPID's most recent
// successful wait4, and whether one has been recorded.
func LastWaitStatus(callerPID int) (uint32, bool) {
	waitStatusMu.Lock()
	defer waitStatusMu.Unlock()
	s, ok := waitStatus[callerPID]
	return s, ok
}

var (
	pipeFDsMu sync.Mutex
	pipeFDs   = map[int][2]int{}
)

// recordPipeFDs stashes the [read, write] fd pair a pipe/pipe2 call
// just installed, for the same reason recordWaitStatus exists: there is
// no user pointer behind args[0] to write them through.
func recordPipeFDs(callerPID, readFD, writeFD int) {
	pipeFDsMu.Lock()
	pipeFDs[callerPID] = [2]int{readFD, writeFD}
	pipeFDsMu.Unlock()
}

// LastPipeFDs returns callerPID's most recently created pipe fd pair,
// and whether one has been recorded.
func LastPipeFDs(callerPID int) ([2]int, bool) {
	pipeFDsMu.Lock()
	defer pipeFDsMu.Unlock()
	fds, ok := pipeFDs[callerPID]
	return fds, ok
}
