package loader

import (
	"testing"

	"duskos/kerror"
	"duskos/memmap"
	"duskos/shared"
)

// fakePhysMem backs physical memory with a plain byte slice, the same
// stand-in paging's own tests use for a real identity-mapped or windowed
// PhysMem implementation.
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

// fakeBootServices implements BootServices against canned responses, and
// counts calls so tests can assert the first-boot-only members are never
// touched on a cached re-entry.
type fakeBootServices struct {
	descs          []memmap.Descriptor
	memoryMapErr   error
	exitErr        error
	rsdpAddr       shared.PhysAddr
	rsdpOK         bool
	memoryMapCalls int
	exitCalls      int
	rsdpCalls      int
}

func (f *fakeBootServices) MemoryMap() ([]memmap.Descriptor, error) {
	f.memoryMapCalls++
	return f.descs, f.memoryMapErr
}

func (f *fakeBootServices) ExitBootServices() error {
	f.exitCalls++
	return f.exitErr
}

func (f *fakeBootServices) ACPI20RSDP() (shared.PhysAddr, bool) {
	f.rsdpCalls++
	return f.rsdpAddr, f.rsdpOK
}

func conventionalDesc(addr shared.PhysAddr, npages uint64) memmap.Descriptor {
	return memmap.Descriptor{Type: memmap.ConventionalMemory, PhysAddr: addr, NPages: npages}
}

func TestHarvestMemorySkipsIfAlreadyPopulated(t *testing.T) {
	s := shared.NewShared()
	guard := s.FreeMemory.Lock()
	*guard.Value() = &shared.RangeSet{}
	guard.Unlock()

	bs := &fakeBootServices{}
	if err := harvestMemory(s, bs); err != nil {
		t.Fatalf("harvestMemory: %v", err)
	}
	if bs.memoryMapCalls != 0 || bs.exitCalls != 0 {
		t.Fatalf("expected a cached FreeMemory to skip BootServices entirely, got %+v", bs)
	}
	if s.LoaderEntry.Load() != 0 {
		t.Fatal("expected LoaderEntry to stay unset when FreeMemory was already populated")
	}
}

func TestHarvestMemoryHarvestsFromBootServices(t *testing.T) {
	s := shared.NewShared()
	bs := &fakeBootServices{
		descs:  []memmap.Descriptor{conventionalDesc(0x10_0000, 16)},
		rsdpOK: false,
	}

	if err := harvestMemory(s, bs); err != nil {
		t.Fatalf("harvestMemory: %v", err)
	}
	if bs.memoryMapCalls != 1 || bs.exitCalls != 1 {
		t.Fatalf("expected exactly one memory map harvest and boot services exit, got %+v", bs)
	}

	guard := s.FreeMemory.Lock()
	rs := *guard.Value()
	guard.Unlock()
	if rs == nil || rs.IsEmpty() {
		t.Fatal("expected FreeMemory to be populated from the harvested memory map")
	}

	if s.LoaderEntry.Load() == 0 {
		t.Fatal("expected LoaderEntry to be recorded on first boot")
	}
}

func TestHarvestMemoryFailsOnEmptyMap(t *testing.T) {
	s := shared.NewShared()
	bs := &fakeBootServices{descs: []memmap.Descriptor{{Type: memmap.Reserved, PhysAddr: 0x10_0000, NPages: 16}}}

	if err := harvestMemory(s, bs); err != errFreeMemoryUnset {
		t.Fatalf("expected errFreeMemoryUnset, got %v", err)
	}
}

func TestHarvestMemoryPropagatesBootServicesErrors(t *testing.T) {
	s := shared.NewShared()
	wantErr := &kerror.Error{Module: "test", Message: "boom"}
	bs := &fakeBootServices{memoryMapErr: wantErr}

	if err := harvestMemory(s, bs); err != wantErr {
		t.Fatalf("expected the BootServices error to propagate, got %v", err)
	}
}

// fakeKernelImage implements KernelImage against a canned entry point and
// segment list.
type fakeKernelImage struct {
	entry shared.VirtAddr
	segs  []Segment
}

func (f *fakeKernelImage) Entry() shared.VirtAddr { return f.entry }
func (f *fakeKernelImage) Segments() []Segment    { return f.segs }

func TestBuildKernelImageNilEmbeddedFails(t *testing.T) {
	s := shared.NewShared()
	pm := newFakePhysMem(1 * 1024 * 1024)

	if _, _, _, err := buildKernelImage(s, pm, nil); err != errKernelUnset {
		t.Fatalf("expected errKernelUnset, got %v", err)
	}
}

func TestBuildKernelImageMapsSegmentsAndStack(t *testing.T) {
	s := shared.NewShared()
	pm := newFakePhysMem(32 * 1024 * 1024)

	img := &fakeKernelImage{
		entry: shared.VirtAddr(shared.KernelCodeBase),
		segs: []Segment{
			{VAddr: shared.VirtAddr(shared.KernelCodeBase), Size: 4096, Write: false, Execute: true, Bytes: []byte{0xde, 0xad}},
		},
	}

	table, entry, stack, err := buildKernelImage(s, pm, img)
	if err != nil {
		t.Fatalf("buildKernelImage: %v", err)
	}
	if entry != img.entry {
		t.Fatalf("expected entry %#x, got %#x", img.entry, entry)
	}
	if stack != shared.VirtAddr(shared.KernelStackBase) {
		t.Fatalf("expected stack top to be KernelStackBase, got %#x", stack)
	}

	phys, err := table.Translate(pm, img.entry)
	if err != nil {
		t.Fatalf("expected the kernel segment to be mapped: %v", err)
	}
	b, ok := pm.Translate(phys, 2)
	if !ok || b[0] != 0xde || b[1] != 0xad {
		t.Fatalf("expected segment bytes to be copied into the mapping, got %v ok=%v", b, ok)
	}

	if _, err := table.Translate(pm, shared.VirtAddr(shared.KernelStackBase-1)); err != nil {
		t.Errorf("expected the kernel stack to be mapped: %v", err)
	}

	guard := s.KernelTable.Lock()
	storedRoot := *guard.Value()
	guard.Unlock()
	if storedRoot != table.Root() {
		t.Errorf("expected s.KernelTable to record the new table's root")
	}

	if s.NextStack.Load() != shared.KernelStackBase {
		t.Errorf("expected NextStack to be reset to KernelStackBase, got %#x", s.NextStack.Load())
	}
}

func TestBuildKernelImageAlwaysRebuildsTable(t *testing.T) {
	s := shared.NewShared()
	pm := newFakePhysMem(32 * 1024 * 1024)
	img := &fakeKernelImage{
		entry: shared.VirtAddr(shared.KernelCodeBase),
		segs:  []Segment{{VAddr: shared.VirtAddr(shared.KernelCodeBase), Size: 4096, Execute: true}},
	}

	first, _, _, err := buildKernelImage(s, pm, img)
	if err != nil {
		t.Fatalf("first buildKernelImage: %v", err)
	}

	guard := s.KernelImage.Lock()
	*guard.Value() = shared.KernelImageRef{Addr: shared.PhysAddr(img.entry), Size: 1}
	guard.Unlock()

	second, _, _, err := buildKernelImage(s, pm, img)
	if err != nil {
		t.Fatalf("second buildKernelImage: %v", err)
	}

	if first.Root() == second.Root() {
		t.Error("expected every call to buildKernelImage to allocate a fresh page table, even when a kernel image was already cached")
	}
}

func TestLocateACPIFirstBootCachesXSDT(t *testing.T) {
	s := shared.NewShared()
	pm := newFakePhysMem(0x2000)

	const (
		rsdpAddr = 0x0
		xsdtAddr = 0x100
		madtAddr = 0x400
	)
	buf, ok := pm.TranslateMut(0, 0x2000)
	if !ok {
		t.Fatal("expected the fake physical memory to be fully mapped")
	}
	writeRSDPAndTables(buf, rsdpAddr, xsdtAddr, madtAddr)

	bs := &fakeBootServices{rsdpAddr: shared.PhysAddr(rsdpAddr), rsdpOK: true}

	madt, srat, err := locateACPI(s, pm, bs)
	if err != nil {
		t.Fatalf("locateACPI: %v", err)
	}
	if srat != nil {
		t.Fatalf("expected no SRAT, got %+v", srat)
	}
	if madt == nil || len(madt.Apics) != 1 || madt.Apics[0] != 5 {
		t.Fatalf("expected a single APIC id 5, got %+v", madt)
	}
	if bs.rsdpCalls != 1 {
		t.Fatalf("expected exactly one RSDP lookup on first boot, got %d", bs.rsdpCalls)
	}
	if !s.XSDT.Initialized() || *s.XSDT.Get() != shared.PhysAddr(xsdtAddr) {
		t.Fatal("expected the XSDT base to be cached after first boot")
	}
}

func TestLocateACPIReusesCachedXSDT(t *testing.T) {
	s := shared.NewShared()
	pm := newFakePhysMem(0x2000)

	const (
		rsdpAddr = 0x0
		xsdtAddr = 0x100
		madtAddr = 0x400
	)
	buf, ok := pm.TranslateMut(0, 0x2000)
	if !ok {
		t.Fatal("expected the fake physical memory to be fully mapped")
	}
	writeRSDPAndTables(buf, rsdpAddr, xsdtAddr, madtAddr)
	s.XSDT.Set(shared.PhysAddr(xsdtAddr))

	bs := &fakeBootServices{}

	madt, _, err := locateACPI(s, pm, bs)
	if err != nil {
		t.Fatalf("locateACPI: %v", err)
	}
	if madt == nil || len(madt.Apics) != 1 || madt.Apics[0] != 5 {
		t.Fatalf("expected a single APIC id 5, got %+v", madt)
	}
	if bs.rsdpCalls != 0 {
		t.Fatal("expected a cached XSDT to skip the RSDP lookup entirely")
	}
}

func TestLocateACPINoRSDPFails(t *testing.T) {
	s := shared.NewShared()
	pm := newFakePhysMem(0x1000)
	bs := &fakeBootServices{rsdpOK: false}

	if _, _, err := locateACPI(s, pm, bs); err != errNoRSDP {
		t.Fatalf("expected errNoRSDP, got %v", err)
	}
}

func putU32At(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func putU64At(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v)
		v >>= 8
	}
}

func checksumFixupAt(table []byte, checksumOffset int) {
	table[checksumOffset] = 0
	var sum uint8
	for _, b := range table {
		sum += b
	}
	table[checksumOffset] = 0 - sum
}

// writeRSDPAndTables lays out a minimal, checksum-valid RSDP -> XSDT -> MADT
// chain with a single enabled local APIC (id 5) into buf, mirroring the
// fixture acpi's own tests build against a flat byte buffer.
func writeRSDPAndTables(buf []byte, rsdpAddr, xsdtAddr, madtAddr int) {
	const sdtHeaderSize = 36

	copy(buf[rsdpAddr:], "RSD PTR ")
	buf[rsdpAddr+15] = 2 // revision
	putU32At(buf, rsdpAddr+20, 36)
	putU64At(buf, rsdpAddr+24, uint64(xsdtAddr))
	checksumFixupAt(buf[rsdpAddr:rsdpAddr+36], 32)

	xsdtLen := uint32(sdtHeaderSize + 8)
	copy(buf[xsdtAddr:xsdtAddr+4], "XSDT")
	putU32At(buf, xsdtAddr+4, xsdtLen)
	putU64At(buf, xsdtAddr+sdtHeaderSize, uint64(madtAddr))
	checksumFixupAt(buf[xsdtAddr:xsdtAddr+int(xsdtLen)], 9)

	madtEntriesOff := madtAddr + sdtHeaderSize + 8
	madtLen := uint32(sdtHeaderSize + 8 + 8)
	copy(buf[madtAddr:madtAddr+4], "APIC")
	putU32At(buf, madtAddr+4, madtLen)
	buf[madtEntriesOff+0] = 0 // type: local APIC
	buf[madtEntriesOff+1] = 8 // len
	buf[madtEntriesOff+3] = 5 // apic id
	putU32At(buf, madtEntriesOff+4, 1)
	checksumFixupAt(buf[madtAddr:madtAddr+int(madtLen)], 9)
}
