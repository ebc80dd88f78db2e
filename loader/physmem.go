// Package loader implements the UEFI-resident half of duskos: harvesting
// the memory map, building the ACPI-derived view of the system, bringing up
// application processors and handing control to the kernel image, both on
// first boot and on every soft reboot afterwards.
package loader

import (
	"unsafe"

	"duskos/shared"
)

// PhysicalMemory implements duskos/paging.PhysMem for the loader, where
// UEFI's own identity mapping means a physical address and its virtual
// address are numerically identical: no window offset is needed, unlike
// the kernel side. Allocation is served out of the same Shared.FreeMemory
// rangeset the kernel allocates from, so loader and kernel allocations
// never collide across a soft reboot.
type PhysicalMemory struct {
	shared *shared.Shared
}

// NewPhysicalMemory returns a PhysicalMemory that allocates out of s's
// FreeMemory rangeset.
func NewPhysicalMemory(s *shared.Shared) *PhysicalMemory {
	return &PhysicalMemory{shared: s}
}

// Translate returns a read-only view of size bytes of physical memory
// starting at paddr.
func (pm *PhysicalMemory) Translate(paddr shared.PhysAddr, size uint64) ([]byte, bool) {
	return pm.TranslateMut(paddr, size)
}

// TranslateMut returns a writable view of size bytes of physical memory
// starting at paddr.
func (pm *PhysicalMemory) TranslateMut(paddr shared.PhysAddr, size uint64) ([]byte, bool) {
	if size == 0 {
		return nil, false
	}

	end := uint64(paddr) + (size - 1)
	if end < uint64(paddr) {
		return nil, false
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(paddr))), int(size)), true
}

// AllocPhys allocates size bytes of physical memory aligned to align out of
// the Shared region's FreeMemory rangeset.
func (pm *PhysicalMemory) AllocPhys(size, align uint64) (shared.PhysAddr, bool) {
	guard := pm.shared.FreeMemory.Lock()
	defer guard.Unlock()

	rs := *guard.Value()
	if rs == nil {
		return 0, false
	}

	addr, ok, err := rs.Allocate(size, align)
	if err != nil || !ok {
		return 0, false
	}
	return shared.PhysAddr(addr), true
}
