package ksyscall

import (
	"kcore/archhal"
	"kcore/errors"
	"kcore/mm/vmm"
	"kcore/process"
)

func init() {
	register(SysClone, "clone", 5, sysClone)
	register(SysFork, "fork", 0, sysFork)
	register(SysVfork, "vfork", 0, sysFork)
	register(SysExecve, "execve", 3, sysExecve)
	register(SysExit, "exit", 1, sysExit)
	register(SysExitGroup, "exit_group", 1, sysExit)
	register(SysWait4, "wait4", 4, sysWait4)
	register(SysKill, "kill", 2, sysKill)
	register(SysTgkill, "tgkill", 3, sysTgkill)
}

// cloneContext builds the child's resource bundle according to flags,
// sharing what CloneVM/CloneFS/CloneFiles ask for. Without CloneFiles
// the fd table is duplicated with FDTable.Fork, and with CloneNewNS
// (and no CloneFS) the mount namespace is duplicated with Namespace.Fork.
// The address space is not copied: without CloneVM the child gets a
// new, empty AddressSpace with no frame allocator, and none of the
// parent's mappings.
func cloneContext(parent *Context, flags process.CloneFlags, child *process.TCB) *Context {
	ctx := &Context{Task: child}
	if flags.Has(process.CloneVM) {
		ctx.AS = parent.AS
	} else {
		ctx.AS = vmm.NewAddressSpace(nil)
	}
	if flags.Has(process.CloneFiles) {
		ctx.FDs = parent.FDs
	} else {
		ctx.FDs = parent.FDs.Fork()
	}
	if flags.Has(process.CloneFS) || !flags.Has(process.CloneNewNS) {
		ctx.MountNS = parent.MountNS
	} else {
		ctx.MountNS = parent.MountNS.Fork()
	}
	ctx.Cwd = parent.Cwd
	return ctx
}

func sysClone(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	flags := process.CloneFlags(args[0])
	child, err := process.Fork(t, process.CloneOptions{
		Flags: flags,
		Entry: func(c *process.TCB) error {
			Bind(cloneContext(ctx, flags, c))
			return nil
		},
	})
	if err != nil {
		return -1, err
	}
	return int64(child.PID()), nil
}

func sysFork(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	child, err := process.Fork(t, process.CloneOptions{
		Entry: func(c *process.TCB) error {
			Bind(cloneContext(ctx, 0, c))
			return nil
		},
	})
	if err != nil {
		return -1, err
	}
	return int64(child.PID()), nil
}

// sysExecve models exec(2)'s observable kernel-core effect — the
// address space is replaced and close-on-exec fds drop — without
// actually loading a binary image, which belongs to a loader this core
// does not implement (outside the process/mm/vfs core SPEC_FULL.md
// scopes).
func sysExecve(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	ctx.AS = vmm.NewAddressSpace(nil)
	ctx.FDs.CloseOnExec()
	return 0, nil
}

func sysExit(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	process.Exit(t, int(int32(args[0])))
	Unbind(t.PID())
	return 0, nil
}

// sysWait4's second argument is conventionally a user pointer to an
// int where the wait status is written; args carries only raw
// registers with no backing address space to write through (per
// UserBuffer's doc comment, a "user buffer" in this core is a Go slice
// the caller already holds, not a bare uint64). LastWaitStatus exposes
// the encoded status for a caller that needs it instead.
func sysWait4(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	pid := int(int32(args[0]))
	opts := process.WaitOpts{NoHang: args[2]&1 != 0}
	res, err := process.Wait4(t, pid, opts)
	if err != nil {
		return -1, err
	}
	recordWaitStatus(t.PID(), res.Status)
	return int64(res.PID), nil
}

func sysKill(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	pid := int(int32(args[0]))
	sig := int(int32(args[1]))
	target, ok := process.Lookup(pid)
	if !ok {
		return -1, errors.ErrTaskNotFound
	}
	if err := target.SendSignal(sig, process.SigInfo{Cause: int(t.PID())}); err != nil {
		return -1, err
	}
	notifySignalDelivered(pid, sig)
	return 0, nil
}

func sysTgkill(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	tgid := int(int32(args[0]))
	pid := int(int32(args[1]))
	sig := int(int32(args[2]))
	target, ok := process.Lookup(pid)
	if !ok || target.ThreadGroupID() != tgid {
		return -1, errors.ErrTaskNotFound
	}
	if err := target.SendSignal(sig, process.SigInfo{Cause: int(t.PID())}); err != nil {
		return -1, err
	}
	notifySignalDelivered(pid, sig)
	return 0, nil
}
