package apic

import (
	"unsafe"

	"duskos/shared"
)

// unsafeUint32Slice views the n 32-bit registers starting at vaddr as a Go
// slice, for direct MMIO access to the xAPIC register block.
func unsafeUint32Slice(vaddr shared.VirtAddr, n int) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(vaddr))), n)
}
