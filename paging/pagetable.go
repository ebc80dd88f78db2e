package paging

import (
	"duskos/kerror"
	"duskos/shared"
)

var (
	errBadAlignment      = &kerror.Error{Module: "paging", Message: "virtual address is not aligned to the requested page size"}
	errZeroSizeMapping   = &kerror.Error{Module: "paging", Message: "mapping size must be non-zero"}
	errHugePageCollision = &kerror.Error{Module: "paging", Message: "encountered a huge page while walking to a lower level"}
	errOutOfPhysMem      = &kerror.Error{Module: "paging", Message: "physical memory allocator is out of memory"}
	errInvalidMapping    = &kerror.Error{Module: "paging", Message: "virtual address does not point to a mapped physical page"}
)

// PageType selects the leaf page size used by a mapping request.
type PageType uint64

const (
	Page4K PageType = 4096
	Page2M PageType = 2 * 1024 * 1024
	Page1G PageType = 1024 * 1024 * 1024
)

// sizeBit returns FlagHugePage for any page type larger than 4K.
func (p PageType) sizeBit() PageTableEntryFlag {
	if p == Page4K {
		return 0
	}
	return FlagHugePage
}

// leafLevel returns the page table level (0-indexed, 0 = top) at which a
// mapping of this page type terminates.
func (p PageType) leafLevel() uint8 {
	switch p {
	case Page1G:
		return 1
	case Page2M:
		return 2
	default:
		return Levels - 1
	}
}

// Permission describes the protection bits applied to a mapping. Read
// access is implicit for any present page.
type Permission struct {
	Write   bool
	Execute bool
	User    bool
}

func (p Permission) bits() PageTableEntryFlag {
	var f PageTableEntryFlag
	if p.Write {
		f |= FlagWrite
	}
	if p.User {
		f |= FlagUser
	}
	if !p.Execute {
		f |= FlagNoExecute
	}
	return f
}

// MapRequest describes a single mapping operation against a PageTable.
type MapRequest struct {
	// VAddr is the virtual address the mapping begins at. Must be
	// aligned to PageType.
	VAddr shared.VirtAddr

	// Size is the length of the mapping in bytes. Rounded up to a
	// multiple of PageType by Map.
	Size uint64

	// PageType selects the leaf page size. Defaults to Page4K.
	PageType PageType

	// Permissions are the protection bits applied to every page in the
	// mapping.
	Permissions Permission

	// Init, if non-nil, is called once per byte of the new mapping with
	// the offset from VAddr; its return value initializes that byte.
	// When nil, newly allocated pages are left zeroed.
	Init func(offset uint64) byte
}

// PageTable is a 4-level x86_64 page table hierarchy rooted at a physical
// address.
type PageTable struct {
	root shared.PhysAddr
}

// NewPageTable allocates a fresh, zeroed top-level page table using pm.
func NewPageTable(pm PhysMem) (*PageTable, error) {
	root, ok := AllocPhysZeroed(pm, 4096, 4096)
	if !ok {
		return nil, errOutOfPhysMem
	}
	return &PageTable{root: root}, nil
}

// FromCR3 wraps an already-built page table whose root is known, e.g. the
// one the loader is currently running under.
func FromCR3(root shared.PhysAddr) *PageTable {
	return &PageTable{root: root}
}

// Root returns the physical address of the top-level table.
func (t *PageTable) Root() shared.PhysAddr {
	return t.root
}

func index(vaddr uint64, level uint8) uint64 {
	return (vaddr >> levelShifts[level]) & ((1 << levelBits[level]) - 1)
}

// Map installs req into the page table, allocating any missing intermediate
// tables and leaf pages via pm.
func (t *PageTable) Map(pm PhysMem, req MapRequest) error {
	pageType := req.PageType
	if pageType == 0 {
		pageType = Page4K
	}
	if req.Size == 0 {
		return errZeroSizeMapping
	}
	if uint64(req.VAddr)&(uint64(pageType)-1) != 0 {
		return errBadAlignment
	}

	pageSize := uint64(pageType)
	endVAddr := uint64(req.VAddr) + req.Size - 1
	leaf := pageType.leafLevel()

	for vaddr := uint64(req.VAddr); vaddr <= endVAddr; vaddr += pageSize {
		page, ok := pm.AllocPhys(pageSize, pageSize)
		if !ok {
			return errOutOfPhysMem
		}

		if req.Init != nil {
			b, ok := pm.TranslateMut(page, pageSize)
			if !ok {
				return errOutOfPhysMem
			}
			base := vaddr - uint64(req.VAddr)
			for i := range b {
				b[i] = req.Init(base + uint64(i))
			}
		}

		entry := pageTableEntry(uint64(page)) | pageTableEntry(FlagPresent) |
			pageTableEntry(req.Permissions.bits()) | pageTableEntry(pageType.sizeBit())

		if err := t.installLeaf(pm, vaddr, leaf, entry); err != nil {
			return err
		}
	}

	return nil
}

// MapRaw installs entry verbatim as the leaf for vaddr at the level
// pageType terminates at, allocating any missing intermediate tables via
// pm. No leaf page is allocated: entry carries its own frame address and
// flags, which lets callers map MMIO with their own cache bits.
func (t *PageTable) MapRaw(pm PhysMem, vaddr shared.VirtAddr, pageType PageType, entry uint64) error {
	if pageType == 0 {
		pageType = Page4K
	}
	if uint64(vaddr)&(uint64(pageType)-1) != 0 {
		return errBadAlignment
	}
	return t.installLeaf(pm, uint64(vaddr), pageType.leafLevel(), pageTableEntry(entry))
}

// installLeaf walks the table hierarchy down to level leaf, allocating
// intermediate tables on demand, and stores entry at the final level.
func (t *PageTable) installLeaf(pm PhysMem, vaddr uint64, leaf uint8, entry pageTableEntry) error {
	tableAddr := t.root

	for level := uint8(0); level <= leaf; level++ {
		idx := index(vaddr, level)

		if level == leaf {
			return boolErr(writePTE(pm, tableAddr, idx, entry))
		}

		pte, ok := readPTE(pm, tableAddr, idx)
		if !ok {
			return errOutOfPhysMem
		}

		if pte.HasFlags(FlagHugePage) {
			return errHugePageCollision
		}

		if !pte.HasFlags(FlagPresent) {
			child, ok := AllocPhysZeroed(pm, 4096, 4096)
			if !ok {
				return errOutOfPhysMem
			}
			pte = pageTableEntry(uint64(child)) | pageTableEntry(FlagPresent) | pageTableEntry(FlagWrite)
			if !writePTE(pm, tableAddr, idx, pte) {
				return errOutOfPhysMem
			}
		}

		tableAddr = pte.Frame()
	}

	return nil
}

func boolErr(ok bool) error {
	if ok {
		return nil
	}
	return errOutOfPhysMem
}

// Translate walks the table to find the physical address mapped to vaddr.
func (t *PageTable) Translate(pm PhysMem, vaddr shared.VirtAddr) (shared.PhysAddr, error) {
	tableAddr := t.root
	v := uint64(vaddr)

	for level := uint8(0); level < Levels; level++ {
		idx := index(v, level)
		pte, ok := readPTE(pm, tableAddr, idx)
		if !ok || !pte.HasFlags(FlagPresent) {
			return 0, errInvalidMapping
		}

		if level == Levels-1 || pte.HasFlags(FlagHugePage) {
			offset := v & (uint64(1)<<levelShifts[level] - 1)
			return pte.Frame().Offset(offset), nil
		}

		tableAddr = pte.Frame()
	}

	return 0, errInvalidMapping
}
