package kernel

import (
	"unsafe"

	"duskos/shared"
)

// PhysicalMemory implements duskos/paging.PhysMem against the kernel's fixed
// physical window: the loader's buildKernelImage maps all of physical
// memory, with 1GiB pages, to the linear range [shared.KernelPhysWindowBase,
// shared.KernelPhysWindowBase+shared.KernelPhysWindowSize), so translating a
// physical address is pointer arithmetic rather than a page-table walk.
// Allocation is served out of the Shared region's FreeMemory rangeset, the
// same backing store the loader allocates from, so memory carved out by
// either side before or after a soft reboot never collides.
type PhysicalMemory struct {
	shared *shared.Shared
}

// NewPhysicalMemory returns a PhysicalMemory that allocates out of s's
// FreeMemory rangeset.
func NewPhysicalMemory(s *shared.Shared) *PhysicalMemory {
	return &PhysicalMemory{shared: s}
}

// Translate returns a read-only view of size bytes of physical memory
// starting at paddr, by way of the kernel's physical window.
func (pm *PhysicalMemory) Translate(paddr shared.PhysAddr, size uint64) ([]byte, bool) {
	return pm.TranslateMut(paddr, size)
}

// TranslateMut returns a writable view of size bytes of physical memory
// starting at paddr, by way of the kernel's physical window.
func (pm *PhysicalMemory) TranslateMut(paddr shared.PhysAddr, size uint64) ([]byte, bool) {
	if size == 0 {
		return nil, false
	}

	end := uint64(paddr) + (size - 1)
	if end < uint64(paddr) || end >= shared.KernelPhysWindowSize {
		return nil, false
	}

	vaddr := shared.KernelPhysWindowBase + uint64(paddr)
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(vaddr))), int(size)), true
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
