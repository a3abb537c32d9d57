package ksyscall

import (
	"kcore/archhal"
	"kcore/errors"
	"kcore/mm/page"
	"kcore/mm/vmm"
	"kcore/process"
)

func init() {
	register(SysMmap, "mmap", 6, sysMmap)
	register(SysMunmap, "munmap", 2, sysMunmap)
	register(SysMprotect, "mprotect", 3, sysMprotect)
	register(SysMadvise, "madvise", 3, sysMadvise)
	register(SysBrk, "brk", 1, sysBrk)
}

const (
	protRead  = 1
	protWrite = 2
	protExec  = 4

	mapAnonymous = 0x20
)

func protToVMAFlags(prot uint64) vmm.VMAFlags {
	var f vmm.VMAFlags
	if prot&protRead != 0 {
		f |= vmm.VMRead
	}
	if prot&protWrite != 0 {
		f |= vmm.VMWrite
	}
	if prot&protExec != 0 {
		f |= vmm.VMExec
	}
	return f
}

// sysMmap only supports anonymous mappings at a caller-chosen address;
// file-backed mmap is reachable through the page cache once a handler
// resolves the fd to its Inode, but no caller in this tree exercises
// that path yet so it is left unimplemented rather than half-wired.
func sysMmap(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	addr, length, prot, flags := args[0], args[1], args[2], args[3]
	if flags&mapAnonymous == 0 {
		return -1, errors.New(errors.Invalid, "ksyscall", "mmap", "only anonymous mappings are supported")
	}
	length = (length + page.Size - 1) &^ (page.Size - 1)
	start := addr
	if start == 0 {
		start = ctx.nextMmapBase(length)
	}
	end := start + length
	v, err := ctx.AS.Map(start, end, protToVMAFlags(prot), vmm.Backing{Kind: vmm.BackingAnonymous})
	if err != nil {
		return -1, err
	}
	return int64(v.Start), nil
}

func sysMunmap(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	start, length := args[0], args[1]
	length = (length + page.Size - 1) &^ (page.Size - 1)
	if err := ctx.AS.Unmap(start, start+length); err != nil {
		return -1, err
	}
	return 0, nil
}

func sysMprotect(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	start, length, prot := args[0], args[1], args[2]
	length = (length + page.Size - 1) &^ (page.Size - 1)
	if err := ctx.AS.Protect(start, start+length, protToVMAFlags(prot)); err != nil {
		return -1, err
	}
	return 0, nil
}

// sysMadvise is a hint this core has nothing to act on (no swap, no
// transparent huge pages); every advice value is accepted as a no-op
// rather than rejected, matching madvise(2)'s own tolerance for advice
// a given kernel build doesn't implement.
func sysMadvise(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	return 0, nil
}

// sysBrk grows or shrinks the heap VMA registered at first use; passing
// 0 reports the current break without changing it, brk(2)'s own query
// convention.
func sysBrk(t *process.TCB, ctx *Context, frame *archhal.TrapFrame, args Args) (int64, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	requested := args[0]
	const heapBase = 0x0000_5000_0000
	if ctx.heap.start == 0 {
		ctx.heap.start = heapBase
		ctx.heap.brk = heapBase
	}
	if requested == 0 || requested == ctx.heap.brk {
		return int64(ctx.heap.brk), nil
	}

	oldEnd := (ctx.heap.brk + page.Size - 1) &^ (page.Size - 1)
	newEnd := (requested + page.Size - 1) &^ (page.Size - 1)
	if oldEnd < ctx.heap.start {
		oldEnd = ctx.heap.start
	}

	if requested > ctx.heap.brk && newEnd > oldEnd {
		if _, err := ctx.AS.Map(oldEnd, newEnd, vmm.VMRead|vmm.VMWrite, vmm.Backing{Kind: vmm.BackingAnonymous}); err != nil {
			return -1, err
		}
	} else if requested < ctx.heap.brk && newEnd < oldEnd {
		if err := ctx.AS.Unmap(newEnd, oldEnd); err != nil {
			return -1, err
		}
	}
	ctx.heap.brk = requested
	return int64(ctx.heap.brk), nil
}
