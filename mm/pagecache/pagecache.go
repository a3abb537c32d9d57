// Package pagecache implements the page cache core described in
// SPEC_FULL.md: an inode-scoped index of resident pages with
// single-flight population, grounded on the same memblock/page-backed
// frame allocation mm/vmm uses for anonymous memory.
package pagecache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"kcore/errors"
	"kcore/mm/page"
)

// Backing is the minimal contract a cache needs from its inode to
// populate a page on a miss and to learn the inode's current size for
// Resize bookkeeping.
type Backing interface {
	ReadPage(index uint64, dst *page.Page) error
	Size() uint64
}

// Cache is the per-inode page cache: an index of resident pages keyed
// by page-aligned offset, populated on demand from Backing and read
// back without a second trip to the backing store while a page stays
// resident.
type Cache struct {
	mu      sync.RWMutex
	backing Backing
	alloc   page.FrameAllocator
	pages   map[uint64]*page.Page
	size    uint64

	group singleflight.Group
}

// New creates a cache over backing, using alloc to populate pages on
// first access.
func New(backing Backing, alloc page.FrameAllocator) *Cache {
	return &Cache{
		backing: backing,
		alloc:   alloc,
		pages:   make(map[uint64]*page.Page),
		size:    backing.Size(),
	}
}

// Fault satisfies vmm.FileBacking: it returns the resident page at
// index, populating it first if necessary. Concurrent faults on the
// same index collapse into a single populate via singleflight, mirroring
// filemap_fault's behavior of blocking racing faulters on the first
// reader rather than issuing duplicate reads.
func (c *Cache) Fault(index uint64) (*page.Page, error) {
	return c.Read(index)
}

// Read returns the resident page at index, populating it on a miss.
func (c *Cache) Read(index uint64) (*page.Page, error) {
	c.mu.RLock()
	if p, ok := c.pages[index]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	key := fmt.Sprintf("%d", index)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		if p, ok := c.pages[index]; ok {
			c.mu.RUnlock()
			return p, nil
		}
		c.mu.RUnlock()

		p, err := c.alloc.Alloc()
		if err != nil {
			return nil, errors.ErrOutOfMemory
		}
		p.SetOwner(page.CacheOwner(c, index))
		if err := c.backing.ReadPage(index, p); err != nil {
			_ = c.alloc.Free(p)
			return nil, errors.Wrap(err, errors.Io, "mm/pagecache", "read")
		}
		p.SetFlag(page.FlagUptodate)

		c.mu.Lock()
		c.pages[index] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*page.Page), nil
}

// Write marks the resident page at index dirty, populating it first via
// Read if it is not yet resident. It does not itself push the page back
// to the backing store; writeback is a separate concern this core does
// not implement (no on-disk filesystem format is in scope).
func (c *Cache) Write(index uint64) (*page.Page, error) {
	p, err := c.Read(index)
	if err != nil {
		return nil, err
	}
	p.SetFlag(page.FlagDirty)
	return p, nil
}

// MarkDirty flags the already-resident page at index dirty. It returns
// errors.NotFound if the page is not resident.
func (c *Cache) MarkDirty(index uint64) error {
	c.mu.RLock()
	p, ok := c.pages[index]
	c.mu.RUnlock()
	if !ok {
		return errors.New(errors.NotFound, "mm/pagecache", "mark_dirty", "page not resident")
	}
	p.SetFlag(page.FlagDirty)
	return nil
}

// Resize truncates or extends the cache's view of the inode. Pages at or
// beyond the new size are evicted and freed back to the allocator;
// growing never faults pages in eagerly.
func (c *Cache) Resize(newSize uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.size = newSize
	lastIndex := newSize / page.Size
	if newSize%page.Size != 0 {
		lastIndex++
	}
	for index, p := range c.pages {
		if index >= lastIndex {
			_ = c.alloc.Free(p)
			delete(c.pages, index)
		}
	}
}

// Size returns the cache's current view of the inode's size.
func (c *Cache) Size() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Evict drops the resident page at index, if any, freeing its frame.
func (c *Cache) Evict(index uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[index]; ok {
		_ = c.alloc.Free(p)
		delete(c.pages, index)
	}
}

// Resident reports how many pages of this cache are currently in
// memory, used by reclaim accounting.
func (c *Cache) Resident() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}
