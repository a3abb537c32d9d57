package vmm

import (
	"testing"

	"kcore/errors"
	"kcore/mm/memblock"
	"kcore/mm/page"
)

func newTestAddressSpace(t *testing.T) *AddressSpace {
	t.Helper()
	reg := memblock.New()
	if err := reg.Add(0, 64*page.Size, memblock.Memory); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	alloc := page.NewBitmapAllocator(reg)
	return NewAddressSpace(alloc)
}

func TestMapRejectsOverlap(t *testing.T) {
	as := newTestAddressSpace(t)
	if _, err := as.Map(0x1000, 0x3000, VMRead, Backing{Kind: BackingAnonymous}); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if _, err := as.Map(0x2000, 0x4000, VMRead, Backing{Kind: BackingAnonymous}); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestFindLocatesCoveringVMA(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x1000, 0x3000, VMRead, Backing{Kind: BackingAnonymous})

	if _, ok := as.Find(0x1500); !ok {
		t.Fatal("expected to find VMA covering 0x1500")
	}
	if _, ok := as.Find(0x5000); ok {
		t.Fatal("did not expect a VMA covering 0x5000")
	}
}

func TestHandleFaultAnonymousPopulatesZeroPage(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x1000, 0x3000, VMRead|VMWrite, Backing{Kind: BackingAnonymous})

	p, err := as.HandleFault(0x1000, FaultUser)
	if err != nil {
		t.Fatalf("HandleFault failed: %v", err)
	}
	if !p.HasFlag(page.FlagUptodate) {
		t.Fatal("expected freshly populated page to be marked uptodate")
	}
	if p.GetOwner().Kind != page.OwnerAnon {
		t.Fatalf("expected anon owner, got %v", p.GetOwner().Kind)
	}
}

func TestHandleFaultUnmappedAddressIsSegvMapErr(t *testing.T) {
	as := newTestAddressSpace(t)
	_, err := as.HandleFault(0x9000, FaultUser)
	if !errors.Is(err, errors.ErrSegvMapErr) {
		t.Fatalf("expected ErrSegvMapErr, got %v", err)
	}
}

func TestHandleFaultWriteToReadOnlyIsSegvAccErr(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x1000, 0x3000, VMRead, Backing{Kind: BackingAnonymous})

	_, err := as.HandleFault(0x1000, FaultUser|FaultWrite)
	if !errors.Is(err, errors.ErrSegvAccErr) {
		t.Fatalf("expected ErrSegvAccErr, got %v", err)
	}
}

func TestHandleFaultInstructionRequiresExec(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x1000, 0x3000, VMRead|VMWrite, Backing{Kind: BackingAnonymous})

	_, err := as.HandleFault(0x1000, FaultUser|FaultInstruction)
	if !errors.Is(err, errors.ErrSegvAccErr) {
		t.Fatalf("expected ErrSegvAccErr for non-exec fetch, got %v", err)
	}
}

func TestHandleFaultRepeatedReadReturnsSamePage(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x1000, 0x3000, VMRead|VMWrite, Backing{Kind: BackingAnonymous})

	first, err := as.HandleFault(0x1000, FaultUser)
	if err != nil {
		t.Fatalf("first fault failed: %v", err)
	}
	second, err := as.HandleFault(0x1000, FaultUser)
	if err != nil {
		t.Fatalf("second fault failed: %v", err)
	}
	if first != second {
		t.Fatal("expected second fault on same address to return the same resident page")
	}
}

func TestHandleFaultGrowsDownStack(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x4000, 0x5000, VMRead|VMWrite|VMGrowsDown, Backing{Kind: BackingAnonymous})

	p, err := as.HandleFault(0x3000, FaultUser|FaultWrite)
	if err != nil {
		t.Fatalf("HandleFault failed to grow stack: %v", err)
	}
	if p == nil {
		t.Fatal("expected a page from the grown VMA")
	}
	vma, ok := as.Find(0x3000)
	if !ok || vma.Start > 0x3000 {
		t.Fatal("expected VMA to have grown to cover 0x3000")
	}
}

func TestHandleFaultGrowsDownRespectsLimit(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x41000, 0x42000, VMRead|VMWrite|VMGrowsDown, Backing{Kind: BackingAnonymous})

	_, err := as.HandleFault(0x0, FaultUser|FaultWrite)
	if !errors.Is(err, errors.ErrSegvMapErr) {
		t.Fatalf("expected ErrSegvMapErr for a grow-down attempt past the limit, got %v", err)
	}
}

func TestUnmapRemovesVMA(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x1000, 0x3000, VMRead, Backing{Kind: BackingAnonymous})
	if err := as.Unmap(0x1000, 0x3000); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if _, ok := as.Find(0x1500); ok {
		t.Fatal("expected VMA to be gone after Unmap")
	}
}

type fakeFileBacking struct {
	page *page.Page
	err  error
}

func (f *fakeFileBacking) Fault(index uint64) (*page.Page, error) {
	return f.page, f.err
}

func TestHandleFaultFileBackedDelegatesToCache(t *testing.T) {
	as := newTestAddressSpace(t)
	backingPage := &page.Page{}
	backingPage.SetOwner(page.CacheOwner(nil, 0))
	cache := &fakeFileBacking{page: backingPage}

	as.Map(0x1000, 0x3000, VMRead, Backing{Kind: BackingFile, Cache: cache})

	p, err := as.HandleFault(0x1000, FaultUser)
	if err != nil {
		t.Fatalf("HandleFault failed: %v", err)
	}
	if p != backingPage {
		t.Fatal("expected the page returned by the file backing's Fault")
	}
}

func TestHandleFaultCOWBreakOnSharedAnonWrite(t *testing.T) {
	as := newTestAddressSpace(t)
	as.Map(0x1000, 0x3000, VMRead|VMWrite, Backing{Kind: BackingAnonymous})

	original, err := as.HandleFault(0x1000, FaultUser)
	if err != nil {
		t.Fatalf("initial populate failed: %v", err)
	}
	original.SetFlag(page.FlagLRU)

	copied, _, err := as.handleVMAFault(mustFind(t, as, 0x1000), 0x1000, FaultUser|FaultWrite)
	if err != nil {
		t.Fatalf("COW break failed: %v", err)
	}
	if copied == original {
		t.Fatal("expected COW break to allocate a distinct page")
	}
	if !copied.HasFlag(page.FlagDirty) {
		t.Fatal("expected COW-broken page to be marked dirty")
	}
}

func mustFind(t *testing.T, as *AddressSpace, addr uint64) *VMA {
	t.Helper()
	vma, ok := as.Find(addr)
	if !ok {
		t.Fatalf("no VMA covers 0x%x", addr)
	}
	return vma
}
