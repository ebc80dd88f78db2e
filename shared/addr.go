package shared

// PhysAddr is a physical memory address. It is a distinct type from
// VirtAddr so the two can never be silently interchanged.
type PhysAddr uint64

// VirtAddr is a virtual memory address.
type VirtAddr uint64

// AlignDown rounds a down to the nearest multiple of align, which must be a
// power of 2.
func (a PhysAddr) AlignDown(align uint64) PhysAddr {
	return PhysAddr(uint64(a) &^ (align - 1))
}

// AlignUp rounds a up to the nearest multiple of align, which must be a
// power of 2.
func (a PhysAddr) AlignUp(align uint64) PhysAddr {
	return PhysAddr((uint64(a) + align - 1) &^ (align - 1))
}

// Offset returns a+delta.
func (a PhysAddr) Offset(delta uint64) PhysAddr {
	return a + PhysAddr(delta)
}

// AlignDown rounds a down to the nearest multiple of align, which must be a
// power of 2.
func (a VirtAddr) AlignDown(align uint64) VirtAddr {
	return VirtAddr(uint64(a) &^ (align - 1))
}

// AlignUp rounds a up to the nearest multiple of align, which must be a
// power of 2.
func (a VirtAddr) AlignUp(align uint64) VirtAddr {
	return VirtAddr((uint64(a) + align - 1) &^ (align - 1))
}

// Offset returns a+delta.
func (a VirtAddr) Offset(delta uint64) VirtAddr {
	return a + VirtAddr(delta)
}
