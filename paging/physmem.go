package paging

import "duskos/shared"

// PhysMem gives the page table builder read/write access to physical memory
// and the ability to allocate more of it. It is implemented twice: once by
// duskos/loader, backed by UEFI's identity map, and once by duskos/kernel,
// backed by the fixed physical window established at boot.
type PhysMem interface {
	// Translate returns a read-only view of size bytes of physical
	// memory starting at paddr.
	Translate(paddr shared.PhysAddr, size uint64) ([]byte, bool)

	// TranslateMut returns a writable view of size bytes of physical
	// memory starting at paddr.
	TranslateMut(paddr shared.PhysAddr, size uint64) ([]byte, bool)

	// AllocPhys allocates size bytes of physical memory aligned to
	// align.
	AllocPhys(size, align uint64) (shared.PhysAddr, bool)
}

// AllocPhysZeroed allocates size bytes of physical memory aligned to align
// and zeroes it before returning.
func AllocPhysZeroed(pm PhysMem, size, align uint64) (shared.PhysAddr, bool) {
	addr, ok := pm.AllocPhys(size, align)
	if !ok {
		return 0, false
	}
	b, ok := pm.TranslateMut(addr, size)
	if !ok {
		return 0, false
	}
	shared.Memset(b, 0)
	return addr, true
}
