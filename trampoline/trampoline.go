// Package trampoline installs the small fixed-address code stub that both
// the loader's kernel hand-off and the kernel's soft-reboot path jump
// through. Only the data layout and the mapping of the stub are this
// package's concern; the stub's actual machine code is produced by
// duskos/tools/apblob and linked in as a data blob, not assembled here.
package trampoline

import (
	"duskos/kernel/cpu"
	"duskos/paging"
	"duskos/shared"
)

// Func is the calling convention the trampoline stub is written against: it
// never returns, so callers invoke it through Jump rather than a normal Go
// call.
//
//	entry        - virtual address of the destination's entry point
//	stack        - virtual address of the destination's stack top
//	table        - physical address of the page table to switch to
//	sharedAddr   - physical address of the shared hand-off region
//	coreID       - APIC ID of the calling core
type Func func(entry shared.VirtAddr, stack shared.VirtAddr, table shared.PhysAddr, sharedAddr shared.PhysAddr, coreID uint32)

// Install maps blob at shared.TrampolineAddr, identically, into both pt and
// the currently active page table, so the jump survives the page table
// switch the stub itself performs. It must be called with the UEFI (or
// otherwise identity-mapped) page table active.
func Install(pt *paging.PageTable, pm paging.PhysMem, blob []byte) error {
	if uint64(len(blob)) > shared.MaxTrampolineSize {
		return errTrampolineTooLarge
	}

	req := paging.MapRequest{
		VAddr:       shared.VirtAddr(shared.TrampolineAddr),
		Size:        shared.MaxTrampolineSize,
		PageType:    paging.Page4K,
		Permissions: paging.Permission{Write: false, Execute: true},
		Init: func(offset uint64) byte {
			if offset < uint64(len(blob)) {
				return blob[offset]
			}
			return 0
		},
	}

	if err := pt.Map(pm, req); err != nil {
		return err
	}

	active := paging.FromCR3(shared.PhysAddr(activePDT()))
	if active.Root() == pt.Root() {
		return nil
	}

	cr0 := readCR0()
	writeCR0(cr0 &^ (1 << 16)) // clear CR0.WP: UEFI write-protects its own tables
	err := active.Map(pm, req)
	writeCR0(cr0)

	return err
}

var (
	activePDT = cpu.ActivePDT
	readCR0   = cpu.ReadCR0
	writeCR0  = cpu.WriteCR0
)

// Get reinterprets the mapped trampoline bytes at shared.TrampolineAddr as
// a callable Func. The mapping must already have been established by
// Install, in the page table that is about to become (or remain) active.
func Get() Func {
	return trampolineFuncAt(shared.VirtAddr(shared.TrampolineAddr))
}
