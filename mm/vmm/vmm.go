// Package vmm implements the address space / page fault core described
// in SPEC_FULL.md: an ordered VMA map and the classify->locate->
// permission->grow->handler->retry fault pipeline. It is grounded on
// original_source/kernel/src/arch/x86_64/mm/fault.rs's
// vma_access_permitted/vma_access_error decision tree, generalized from
// an x86-specific error-code bitmask into a portable FaultFlags value.
package vmm

import (
	"sort"
	"sync"

	"kcore/errors"
	"kcore/mm/page"
)

// VMAFlags describes a VMA's permissions and special behavior.
type VMAFlags uint32

const (
	VMRead VMAFlags = 1 << iota
	VMWrite
	VMExec
	VMShared
	VMGrowsDown
)

// BackingKind discriminates what a VMA's pages come from.
type BackingKind int

const (
	BackingAnonymous BackingKind = iota
	BackingFile
	BackingSpecial
)

// Backing describes where a VMA's content comes from. For BackingFile,
// Cache and Offset identify the page-cache-backed range.
type Backing struct {
	Kind   BackingKind
	Cache  FileBacking
	Offset uint64
}

// FileBacking is the minimal contract a page cache must provide to back
// a file-mapped VMA; mm/pagecache.Cache implements it.
type FileBacking interface {
	Fault(index uint64) (*page.Page, error)
}

// VMA is a single virtual memory area: [Start, End), its permissions,
// and what backs its pages.
type VMA struct {
	Start, End uint64
	Flags      VMAFlags
	Backing    Backing

	mu    sync.Mutex
	pages map[uint64]*page.Page // page-aligned offset within the VMA -> resident page
}

func (v *VMA) contains(addr uint64) bool { return addr >= v.Start && addr < v.End }

func (v *VMA) pageIndex(addr uint64) uint64 {
	return (addr - v.Start) / page.Size
}

// AddressSpace is a task's ordered, non-overlapping VMA map.
type AddressSpace struct {
	mu    sync.RWMutex
	vmas  []*VMA
	alloc page.FrameAllocator
}

// NewAddressSpace creates an empty address space backed by alloc for
// anonymous and copy-on-write page allocation.
func NewAddressSpace(alloc page.FrameAllocator) *AddressSpace {
	return &AddressSpace{alloc: alloc}
}

// Map installs a new VMA. It returns errors.Invalid if it overlaps an
// existing VMA.
func (as *AddressSpace) Map(start, end uint64, flags VMAFlags, backing Backing) (*VMA, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	for _, v := range as.vmas {
		if start < v.End && end > v.Start {
			return nil, errors.New(errors.Invalid, "mm/vmm", "map", "overlapping VMA")
		}
	}

	vma := &VMA{Start: start, End: end, Flags: flags, Backing: backing, pages: make(map[uint64]*page.Page)}
	as.vmas = append(as.vmas, vma)
	sort.Slice(as.vmas, func(i, j int) bool { return as.vmas[i].Start < as.vmas[j].Start })
	return vma, nil
}

// Unmap removes the VMA exactly covering [start, end), if present.
func (as *AddressSpace) Unmap(start, end uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i, v := range as.vmas {
		if v.Start == start && v.End == end {
			as.vmas = append(as.vmas[:i], as.vmas[i+1:]...)
			return nil
		}
	}
	return errors.New(errors.NotFound, "mm/vmm", "unmap", "no VMA at that range")
}

// Protect changes the permission bits of the VMA exactly covering
// [start, end), the mprotect(2) case this core supports; splitting a
// protection change across part of an existing VMA is not modeled.
func (as *AddressSpace) Protect(start, end uint64, flags VMAFlags) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, v := range as.vmas {
		if v.Start == start && v.End == end {
			v.mu.Lock()
			v.Flags = flags
			v.mu.Unlock()
			return nil
		}
	}
	return errors.New(errors.NotFound, "mm/vmm", "protect", "no VMA at that range")
}

// Find locates the VMA covering addr, if any.
func (as *AddressSpace) Find(addr uint64) (*VMA, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	for _, v := range as.vmas {
		if v.contains(addr) {
			return v, true
		}
	}
	return nil, false
}

// FaultFlags classifies a page fault, generalized from
// arch/x86_64/mm/fault.rs's X86PfErrorCode bitmask into a portable form.
type FaultFlags uint32

const (
	FaultWrite FaultFlags = 1 << iota
	FaultInstruction
	FaultUser
	FaultPresent
	FaultProtectionKey
	FaultReservedBit
	FaultRetryTried
)

// growDownLimit bounds automatic stack growth per fault, matching the
// conventional "bounded" extension called out in spec.md §4.6.
const growDownLimit = 64 * page.Size

// HandleFault runs the §4.6 classify->locate->permission->grow->handler
// pipeline for a user-space fault at addr. It returns the faulted-in
// page on success, or a KernelError wrapping errors.ErrSegvMapErr /
// errors.ErrSegvAccErr on failure.
func (as *AddressSpace) HandleFault(addr uint64, flags FaultFlags) (*page.Page, error) {
	const maxRetries = 4
	tried := flags&FaultRetryTried != 0

	for attempt := 0; attempt < maxRetries; attempt++ {
		vma, ok := as.Find(addr)
		if !ok {
			if grown, gok := as.tryGrowDown(addr); gok {
				vma = grown
			} else {
				return nil, errors.ErrSegvMapErr
			}
		}

		if !vmaAccessPermitted(vma, flags) {
			return nil, errors.ErrSegvAccErr
		}

		p, retry, err := as.handleVMAFault(vma, addr, flags)
		if err != nil {
			return nil, err
		}
		if !retry {
			return p, nil
		}
		if tried {
			return nil, errors.New(errors.Internal, "mm/vmm", "handle_fault", "fault retry livelock")
		}
		tried = true
		flags |= FaultRetryTried
	}
	return nil, errors.New(errors.Internal, "mm/vmm", "handle_fault", "exceeded fault retry budget")
}

// vmaAccessPermitted mirrors X86_64PageFault::vma_access_permitted /
// vma_access_error's decision tree in portable form: instruction fetches
// from an executable VMA are always fine; writes require VMWrite; reads
// require VMRead.
func vmaAccessPermitted(v *VMA, flags FaultFlags) bool {
	if flags&FaultInstruction != 0 {
		return v.Flags&VMExec != 0
	}
	if flags&FaultWrite != 0 {
		return v.Flags&VMWrite != 0
	}
	return v.Flags&VMRead != 0
}

func (as *AddressSpace) tryGrowDown(addr uint64) (*VMA, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, v := range as.vmas {
		if v.Flags&VMGrowsDown == 0 {
			continue
		}
		if addr >= v.Start {
			continue
		}
		if v.Start-addr > growDownLimit {
			continue
		}
		v.Start = addr &^ (page.Size - 1)
		return v, true
	}
	return nil, false
}

// handleVMAFault dispatches to the per-backing fault handler: anonymous
// zero-page population, copy-on-write break, or filemap_fault.
func (as *AddressSpace) handleVMAFault(v *VMA, addr uint64, flags FaultFlags) (*page.Page, bool, error) {
	idx := v.pageIndex(addr)

	v.mu.Lock()
	existing, present := v.pages[idx]
	v.mu.Unlock()

	if present {
		if flags&FaultWrite != 0 && v.Flags&VMShared == 0 && existing.GetOwner().Kind == page.OwnerAnon && existing.HasFlag(page.FlagLRU) {
			return as.breakCOW(v, idx, existing)
		}
		return existing, false, nil
	}

	switch v.Backing.Kind {
	case BackingAnonymous, BackingSpecial:
		p, err := as.alloc.Alloc()
		if err != nil {
			return nil, false, errors.ErrOutOfMemory
		}
		p.SetOwner(page.AnonOwner())
		p.SetFlag(page.FlagUptodate)
		v.mu.Lock()
		v.pages[idx] = p
		v.mu.Unlock()
		return p, false, nil
	case BackingFile:
		p, err := v.Backing.Cache.Fault(v.Backing.Offset/page.Size + idx)
		if err != nil {
			return nil, false, err
		}
		v.mu.Lock()
		v.pages[idx] = p
		v.mu.Unlock()
		return p, false, nil
	default:
		return nil, false, errors.New(errors.Invalid, "mm/vmm", "handle_fault", "unknown backing kind")
	}
}

// breakCOW allocates a private copy of a shared page for a writable
// private mapping, the classic copy-on-write break.
func (as *AddressSpace) breakCOW(v *VMA, idx uint64, shared *page.Page) (*page.Page, bool, error) {
	fresh, err := as.alloc.Alloc()
	if err != nil {
		return nil, false, errors.ErrOutOfMemory
	}
	fresh.SetOwner(page.AnonOwner())
	fresh.SetFlag(page.FlagUptodate | page.FlagDirty)

	v.mu.Lock()
	v.pages[idx] = fresh
	v.mu.Unlock()
	return fresh, false, nil
}
