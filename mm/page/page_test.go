package page

import (
	"testing"

	"kcore/errors"
	"kcore/mm/memblock"
)

func newTestAllocator(t *testing.T, size uint64) *BitmapAllocator {
	t.Helper()
	reg := memblock.New()
	if err := reg.Add(0, size, memblock.Memory); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return NewBitmapAllocator(reg)
}

func TestPageFlags(t *testing.T) {
	p := &Page{}
	p.SetFlag(FlagDirty)
	if !p.HasFlag(FlagDirty) {
		t.Fatal("expected FlagDirty set")
	}
	if p.HasFlag(FlagLRU) {
		t.Fatal("FlagLRU should not be set")
	}
	p.ClearFlag(FlagDirty)
	if p.HasFlag(FlagDirty) {
		t.Fatal("expected FlagDirty cleared")
	}
}

func TestPageOwner(t *testing.T) {
	p := &Page{}
	if p.GetOwner().Kind != OwnerNone {
		t.Fatal("new page should be unowned")
	}
	p.SetOwner(AnonOwner())
	if p.GetOwner().Kind != OwnerAnon {
		t.Fatal("expected OwnerAnon")
	}
	p.SetOwner(CacheOwner("cache", 3))
	owner := p.GetOwner()
	if owner.Kind != OwnerCache || owner.Index != 3 {
		t.Fatalf("unexpected cache owner: %+v", owner)
	}
}

func TestBitmapAllocatorAllocFree(t *testing.T) {
	a := newTestAllocator(t, Size*4)
	if a.Total() != 4 {
		t.Fatalf("expected 4 frames, got %d", a.Total())
	}

	p1, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if a.FreeCount() != 3 {
		t.Fatalf("expected 3 free frames, got %d", a.FreeCount())
	}

	if err := a.Free(p1); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if a.FreeCount() != 4 {
		t.Fatalf("expected 4 free frames after Free, got %d", a.FreeCount())
	}
}

func TestBitmapAllocatorExhaustion(t *testing.T) {
	a := newTestAllocator(t, Size)
	if _, err := a.Alloc(); err != nil {
		t.Fatalf("first Alloc should succeed: %v", err)
	}
	if _, err := a.Alloc(); !errors.IsKind(err, errors.NoMemory) {
		t.Fatalf("expected NoMemory on exhaustion, got %v", err)
	}
}

func TestBitmapAllocatorDoubleFree(t *testing.T) {
	a := newTestAllocator(t, Size*2)
	p, _ := a.Alloc()
	if err := a.Free(p); err != nil {
		t.Fatalf("first Free failed: %v", err)
	}
	if err := a.Free(p); !errors.IsKind(err, errors.Invalid) {
		t.Fatalf("expected Invalid on double free, got %v", err)
	}
}

func TestBitmapAllocatorLookup(t *testing.T) {
	a := newTestAllocator(t, Size*2)
	p, _ := a.Alloc()
	found, ok := a.Lookup(p.Frame)
	if !ok || found != p {
		t.Fatal("Lookup should return the allocated page")
	}
	a.Free(p)
	if _, ok := a.Lookup(p.Frame); ok {
		t.Fatal("Lookup should not find a freed frame")
	}
}

func TestFreeUnmanagedFrame(t *testing.T) {
	a := newTestAllocator(t, Size)
	bogus := &Page{Frame: 0xdeadbeef}
	if err := a.Free(bogus); !errors.IsKind(err, errors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
