// Package page implements the physical page/frame core described in
// SPEC_FULL.md: a Page descriptor with LRU/dirty/uptodate flags and a
// closed owner union, plus a bitmap-backed FrameAllocator built over a
// memblock.Region free list.
package page

import (
	"sync"

	"kcore/errors"
	"kcore/mm/memblock"
)

// Size is the fixed page size in bytes this allocator works in units of.
const Size = 4096

// Flags is a bitmask of per-page state flags.
type Flags uint32

const (
	// FlagLRU marks the page as tracked on an LRU reclaim list.
	FlagLRU Flags = 1 << iota
	// FlagDirty marks the page as having unwritten modifications.
	FlagDirty
	// FlagUptodate marks the page's contents as valid (populated from
	// backing store or explicitly zeroed).
	FlagUptodate
)

// OwnerKind discriminates the cases of Owner.
type OwnerKind int

const (
	// OwnerNone is an unowned, free frame.
	OwnerNone OwnerKind = iota
	// OwnerAnon is anonymous memory (heap, stack, anonymous mmap).
	OwnerAnon
	// OwnerCache is a page-cache page, identified by the cache it
	// belongs to and its offset within that cache.
	OwnerCache
)

// Owner is a closed tagged union identifying what a page currently
// backs. Cache and Index are only meaningful when Kind is OwnerCache.
type Owner struct {
	Kind  OwnerKind
	Cache interface{}
	Index uint64
}

// NoOwner is the zero-value unowned owner.
var NoOwner = Owner{Kind: OwnerNone}

// AnonOwner constructs an anonymous-memory owner.
func AnonOwner() Owner { return Owner{Kind: OwnerAnon} }

// CacheOwner constructs a page-cache owner.
func CacheOwner(cache interface{}, index uint64) Owner {
	return Owner{Kind: OwnerCache, Cache: cache, Index: index}
}

// Page is the per-frame descriptor.
type Page struct {
	mu    sync.Mutex
	Frame uint64
	Flags Flags
	Owner Owner
}

// SetFlag sets flag, returning the page for chaining.
func (p *Page) SetFlag(flag Flags) *Page {
	p.mu.Lock()
	p.Flags |= flag
	p.mu.Unlock()
	return p
}

// ClearFlag clears flag.
func (p *Page) ClearFlag(flag Flags) {
	p.mu.Lock()
	p.Flags &^= flag
	p.mu.Unlock()
}

// HasFlag reports whether flag is set.
func (p *Page) HasFlag(flag Flags) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Flags&flag != 0
}

// SetOwner assigns the page's owner.
func (p *Page) SetOwner(o Owner) {
	p.mu.Lock()
	p.Owner = o
	p.mu.Unlock()
}

// GetOwner returns the page's current owner.
func (p *Page) GetOwner() Owner {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Owner
}

// FrameAllocator allocates and frees physical frames.
type FrameAllocator interface {
	Alloc() (*Page, error)
	Free(p *Page) error
	Lookup(frame uint64) (*Page, bool)
}

// BitmapAllocator is a FrameAllocator backed by a free-bit bitmap over
// the Memory regions of a memblock.Registry.
type BitmapAllocator struct {
	mu      sync.Mutex
	frames  []uint64 // frame number of slot i
	pages   map[uint64]*Page
	used    []bool
	freeIdx int
}

// NewBitmapAllocator builds an allocator over every Memory-kind region in
// reg, carving it into Size-byte frames.
func NewBitmapAllocator(reg *memblock.Registry) *BitmapAllocator {
	a := &BitmapAllocator{pages: make(map[uint64]*Page)}
	for _, region := range reg.Regions() {
		if region.Kind != memblock.Memory {
			continue
		}
		for addr := region.Start; addr+Size <= region.End(); addr += Size {
			frame := addr / Size
			a.frames = append(a.frames, frame)
			a.used = append(a.used, false)
		}
	}
	return a
}

// Alloc reserves the first free frame and returns its descriptor. It
// returns errors.NoMemory if no frame is free.
func (a *BitmapAllocator) Alloc() (*Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < len(a.frames); i++ {
		idx := (a.freeIdx + i) % len(a.frames)
		if !a.used[idx] {
			a.used[idx] = true
			a.freeIdx = (idx + 1) % len(a.frames)
			frame := a.frames[idx]
			p := &Page{Frame: frame, Owner: NoOwner}
			a.pages[frame] = p
			return p, nil
		}
	}
	return nil, errors.New(errors.NoMemory, "mm/page", "alloc", "no free frames")
}

// Free releases p's frame back to the allocator. It returns
// errors.NotFound if the frame was not allocated by this allocator.
func (a *BitmapAllocator) Free(p *Page) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, frame := range a.frames {
		if frame == p.Frame {
			if !a.used[i] {
				return errors.New(errors.Invalid, "mm/page", "free", "double free")
			}
			a.used[i] = false
			delete(a.pages, frame)
			return nil
		}
	}
	return errors.New(errors.NotFound, "mm/page", "free", "frame not managed by this allocator")
}

// Lookup returns the Page descriptor currently allocated for frame.
func (a *BitmapAllocator) Lookup(frame uint64) (*Page, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pages[frame]
	return p, ok
}

// Total returns the total number of frames managed by the allocator.
func (a *BitmapAllocator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.frames)
}

// FreeCount returns the number of currently unallocated frames.
func (a *BitmapAllocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, u := range a.used {
		if !u {
			n++
		}
	}
	return n
}
