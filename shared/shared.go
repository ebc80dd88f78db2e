package shared

import "sync/atomic"

// BootloaderState is the small blob copied next to each AP's real-mode
// entry code so that, once an AP switches to long mode, it knows where to
// jump back into Go code, which stack to use and which page table to load.
type BootloaderState struct {
	// Entry is the virtual address the AP should jump to once it has
	// switched into long mode.
	Entry VirtAddr

	// Stack is the virtual address of the top of this AP's stack.
	Stack VirtAddr

	// TableAddr is the physical address of the page table the AP should
	// load into CR3 before jumping to Entry.
	TableAddr PhysAddr

	// SharedAddr is the physical address of the Shared region.
	SharedAddr PhysAddr

	// CoreID is the APIC ID of the AP this blob was prepared for.
	CoreID uint32
}

// Shared is the hand-off region whose physical address is threaded through
// every loader<->kernel soft-reboot transition. Each field is independently
// lockable or atomic so that one core touching, say, FreeMemory never
// blocks another core reading LoaderEntry.
type Shared struct {
	// FreeMemory describes all memory available for use by both the
	// loader and the kernel at the same time. It is harvested once from
	// the UEFI memory map and never grows afterwards.
	FreeMemory *Locked[*RangeSet]

	// KernelImage is the physical address and size of the kernel ELF
	// image to boot, set by the loader before the first boot.
	KernelImage *Locked[KernelImageRef]

	// KernelTable is the physical address of the root of the kernel's
	// page tables.
	KernelTable *Locked[PhysAddr]

	// LoaderTable is the physical address of the root of the loader's
	// page tables, needed so the kernel can hand control back on a soft
	// reboot.
	LoaderTable *Locked[PhysAddr]

	// NextStack is the virtual address of the next unallocated per-core
	// kernel stack slot. It counts down from KernelStackBase.
	NextStack atomic.Uint64

	// LoaderEntry is the virtual entry point of the loader, used by the
	// kernel's soft-reboot path to jump back in. Zero means unset.
	LoaderEntry atomic.Uint64

	// XSDT is the physical address of the ACPI XSDT, discovered once by
	// the loader and reused by the kernel without re-parsing ACPI.
	XSDT OnceCell[PhysAddr]

	// Rebooting is a soft-reboot flag in the hand-off region. Nothing in
	// this module sets or reads it: the kernel's SoftReboot records a
	// reboot in its own package-level flag (kernel.Rebooting), and no AP
	// bring-up path checks either flag.
	Rebooting atomic.Bool
}

// KernelImageRef describes where the kernel image to boot lives in physical
// memory. An empty value means the kernel image built into the loader
// should be used instead.
type KernelImageRef struct {
	Addr PhysAddr
	Size uint64
}

// NewShared returns a Shared region with its stack cursor initialized to
// the base of the kernel stack region.
func NewShared() *Shared {
	s := &Shared{
		FreeMemory:  NewLocked[*RangeSet](nil),
		KernelImage: NewLocked(KernelImageRef{}),
		KernelTable: NewLocked[PhysAddr](0),
		LoaderTable: NewLocked[PhysAddr](0),
	}
	s.NextStack.Store(KernelStackBase)
	return s
}
