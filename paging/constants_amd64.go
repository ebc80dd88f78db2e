package paging

// Levels indicates the number of page table levels supported by the amd64
// architecture in 4-level (non-5-level) paging mode.
const Levels = 4

// ptePhysPageMask extracts the physical frame address encoded in a page
// table entry. Bits 12-51 hold the address.
const ptePhysPageMask = uint64(0x000f_ffff_ffff_f000)

// levelBits gives the number of virtual address bits consumed by each page
// table level, outermost first.
var levelBits = [Levels]uint8{9, 9, 9, 9}

// levelShifts gives the bit shift used to extract each level's index out of
// a virtual address, outermost first.
var levelShifts = [Levels]uint8{39, 30, 21, 12}

// PageTableEntryFlag is a bit that can be set on a page table entry.
type PageTableEntryFlag uint64

const (
	// FlagPresent marks the entry as backed by memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagWrite marks the entry as writable.
	FlagWrite

	// FlagUser marks the entry as accessible from user mode.
	FlagUser

	// FlagWriteThrough selects write-through caching for this entry.
	FlagWriteThrough

	// FlagNoCache disables caching entirely for this entry.
	FlagNoCache

	// FlagAccessed is set by the CPU the first time the entry is used in
	// a translation.
	FlagAccessed

	// FlagDirty is set by the CPU the first time the entry is written
	// through.
	FlagDirty

	// FlagHugePage marks an intermediate-level entry as a 2MiB or 1GiB
	// leaf instead of a pointer to the next level.
	FlagHugePage

	// FlagGlobal exempts the entry's TLB cache line from invalidation on
	// a CR3 reload.
	FlagGlobal
)

// FlagNoExecute marks the entry's memory as non-executable. It occupies
// the top bit of the entry, well outside the iota run above.
const FlagNoExecute PageTableEntryFlag = 1 << 63
