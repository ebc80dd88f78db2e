package paging

import (
	"testing"

	"duskos/shared"
)

// fakePhysMem backs physical memory with a plain byte slice indexed
// directly by address, as a stand-in for a real identity-mapped or
// windowed PhysMem implementation.
type fakePhysMem struct {
	mem  []byte
	next uint64
}

func newFakePhysMem(size uint64) *fakePhysMem {
	return &fakePhysMem{mem: make([]byte, size)}
}

func (f *fakePhysMem) Translate(paddr shared.PhysAddr, size uint64) ([]byte, bool) {
	return f.TranslateMut(paddr, size)
}

func (f *fakePhysMem) TranslateMut(paddr shared.PhysAddr, size uint64) ([]byte, bool) {
	start := uint64(paddr)
	end := start + size
	if end > uint64(len(f.mem)) {
		return nil, false
	}
	return f.mem[start:end], true
}

func (f *fakePhysMem) AllocPhys(size, align uint64) (shared.PhysAddr, bool) {
	addr := (f.next + align - 1) &^ (align - 1)
	if addr+size > uint64(len(f.mem)) {
		return 0, false
	}
	f.next = addr + size
	return shared.PhysAddr(addr), true
}

func TestPageTableMap4K(t *testing.T) {
	pm := newFakePhysMem(16 * 1024 * 1024)

	table, err := NewPageTable(pm)
	if err != nil {
		t.Fatal(err)
	}

	const vaddr = shared.VirtAddr(0x0000_1000_0000_0000)
	err = table.Map(pm, MapRequest{
		VAddr:       vaddr,
		Size:        4096,
		PageType:    Page4K,
		Permissions: Permission{Write: true},
		Init: func(off uint64) byte {
			return byte(off)
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	phys, err := table.Translate(pm, vaddr)
	if err != nil {
		t.Fatal(err)
	}

	b, ok := pm.Translate(phys, 4)
	if !ok {
		t.Fatal("expected translated physical address to be readable")
	}
	if b[0] != 0 || b[1] != 1 || b[2] != 2 || b[3] != 3 {
		t.Errorf("unexpected init bytes: %v", b)
	}
}

func TestPageTableMapMultiplePages(t *testing.T) {
	pm := newFakePhysMem(16 * 1024 * 1024)
	table, err := NewPageTable(pm)
	if err != nil {
		t.Fatal(err)
	}

	const vaddr = shared.VirtAddr(0x0000_2000_0000_0000)
	err = table.Map(pm, MapRequest{
		VAddr:       vaddr,
		Size:        3 * 4096,
		Permissions: Permission{Write: true, Execute: false},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := uint64(0); i < 3; i++ {
		if _, err := table.Translate(pm, vaddr.Offset(i*4096)); err != nil {
			t.Errorf("page %d not mapped: %v", i, err)
		}
	}
}

func TestPageTableTranslateUnmapped(t *testing.T) {
	pm := newFakePhysMem(4 * 1024 * 1024)
	table, err := NewPageTable(pm)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := table.Translate(pm, shared.VirtAddr(0x1000)); err == nil {
		t.Error("expected an error translating an unmapped address")
	}
}

func TestPageTableMapBadAlignment(t *testing.T) {
	pm := newFakePhysMem(4 * 1024 * 1024)
	table, err := NewPageTable(pm)
	if err != nil {
		t.Fatal(err)
	}

	err = table.Map(pm, MapRequest{
		VAddr: shared.VirtAddr(0x1001),
		Size:  4096,
	})
	if err == nil {
		t.Error("expected an alignment error")
	}
}

func TestPageTableMapHugePage(t *testing.T) {
	pm := newFakePhysMem(8 * 1024 * 1024)
	table, err := NewPageTable(pm)
	if err != nil {
		t.Fatal(err)
	}

	err = table.Map(pm, MapRequest{
		VAddr:       shared.VirtAddr(0),
		Size:        2 * 1024 * 1024,
		PageType:    Page2M,
		Permissions: Permission{Write: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := table.Translate(pm, shared.VirtAddr(0x1000)); err != nil {
		t.Errorf("expected address within the huge page to translate, got %v", err)
	}
}
