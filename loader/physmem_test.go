package loader

import (
	"testing"
	"unsafe"

	"duskos/shared"
)

func TestTranslateIsIdentity(t *testing.T) {
	pm := NewPhysicalMemory(shared.NewShared())

	const paddr = shared.PhysAddr(0x2000)
	b, ok := pm.TranslateMut(paddr, 16)
	if !ok {
		t.Fatal("expected TranslateMut to succeed")
	}

	got := uintptr(unsafe.Pointer(&b[0]))
	if got != uintptr(paddr) {
		t.Fatalf("expected identity mapped address %#x, got %#x", paddr, got)
	}
}

func TestTranslateRejectsZeroSize(t *testing.T) {
	pm := NewPhysicalMemory(shared.NewShared())

	if _, ok := pm.TranslateMut(0x1000, 0); ok {
		t.Fatal("expected TranslateMut to reject a zero sized translation")
	}
}

func TestAllocPhysServesFromFreeMemory(t *testing.T) {
	s := shared.NewShared()

	rs := &shared.RangeSet{}
	r, err := shared.NewRange(0x40_0000, 0x50_0000)
	if err != nil {
		t.Fatalf("NewRange: %v", err)
	}
	if err := rs.Insert(r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	guard := s.FreeMemory.Lock()
	*guard.Value() = rs
	guard.Unlock()

	pm := NewPhysicalMemory(s)

	addr, ok := pm.AllocPhys(0x1000, 0x1000)
	if !ok {
		t.Fatal("expected AllocPhys to succeed")
	}
	if addr < 0x40_0000 || addr > 0x50_0000 {
		t.Fatalf("allocated address %#x outside the seeded range", addr)
	}
}

func TestAllocPhysFailsWithoutFreeMemory(t *testing.T) {
	pm := NewPhysicalMemory(shared.NewShared())

	if _, ok := pm.AllocPhys(0x1000, 0x1000); ok {
		t.Fatal("expected AllocPhys to fail when FreeMemory was never seeded")
	}
}
