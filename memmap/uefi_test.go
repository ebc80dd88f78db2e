package memmap

import "testing"

func TestHarvestFiltersAndSubtractsLegacyRegions(t *testing.T) {
	descs := []Descriptor{
		{Type: Reserved, PhysAddr: 0, NPages: 16},                  // skipped: not usable
		{Type: BootServicesCode, PhysAddr: 0x10000, NPages: 16},    // [0x10000, 0x1FFFF]
		{Type: ConventionalMemory, PhysAddr: 0xA0000, NPages: 0x80}, // [0xA0000, 0x11FFFF]
		{Type: MemoryMappedIO, PhysAddr: 0x200000, NPages: 16},     // skipped: not usable
	}

	rs, err := Harvest(descs)
	if err != nil {
		t.Fatal(err)
	}

	entries := rs.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after subtracting legacy regions, got %d: %v", len(entries), entries)
	}

	if entries[0].Start != 0x10000 || entries[0].End != 0x1FFFF {
		t.Errorf("unexpected first entry: %v", entries[0])
	}

	// The ConventionalMemory region [0xA0000, 0x11FFFF] had [0xA0000,
	// 0xFFFFF] subtracted, leaving [0x100000, 0x11FFFF].
	if entries[1].Start != 0x100000 || entries[1].End != 0x11FFFF {
		t.Errorf("expected video hole to be subtracted, leaving [0x100000, 0x11FFFF], got %v", entries[1])
	}
}

func TestHarvestSkipsZeroPageDescriptors(t *testing.T) {
	descs := []Descriptor{
		{Type: ConventionalMemory, PhysAddr: 0x100000, NPages: 0},
	}

	rs, err := Harvest(descs)
	if err != nil {
		t.Fatal(err)
	}
	if !rs.IsEmpty() {
		t.Error("expected an empty rangeset for a zero-page descriptor")
	}
}
