package loader

import (
	"reflect"
	"unsafe"

	"duskos/acpi"
	"duskos/apic"
	"duskos/kerror"
	"duskos/kernel/cpu"
	"duskos/memmap"
	"duskos/mp"
	"duskos/paging"
	"duskos/shared"
	"duskos/trampoline"
)

var (
	errNoRSDP          = &kerror.Error{Module: "loader", Message: "no ACPI 2.0 RSDP in the UEFI configuration table"}
	errNoMADT          = &kerror.Error{Module: "loader", Message: "ACPI tables contained no MADT"}
	errFreeMemoryUnset = &kerror.Error{Module: "loader", Message: "exited boot services without any usable memory"}
	errKernelUnset     = &kerror.Error{Module: "loader", Message: "no kernel image available on first boot"}
)

// Config bundles everything Boot needs to bring a duskos system from
// firmware control to the kernel's entry point, on both the very first boot
// and every soft reboot after it. Not every field is consulted on every
// call: BootServices is only touched while Shared still lacks the state it
// would otherwise discover, which is exactly the first-boot case, since a
// soft reboot re-enters Boot with Shared already populated and UEFI boot
// services already exited.
type Config struct {
	// Shared is the hand-off region: fresh (from shared.NewShared) on the
	// very first boot, already populated on a soft-reboot re-entry.
	Shared *shared.Shared

	BootServices BootServices

	// Kernel is mapped by every Boot call, first boot and soft reboot
	// alike; Shared.KernelImage is not consulted when choosing it.
	Kernel KernelImage

	// APEntryBlob is the real-mode code every AP starts executing at
	// physical address 0x8000, produced by duskos/tools/apblob.
	APEntryBlob []byte

	// TrampolineBlob is the position-independent stub installed at
	// shared.TrampolineAddr, also produced by duskos/tools/apblob.
	TrampolineBlob []byte

	// CurAPICID is the calling core's own APIC ID. Boot only ever runs on
	// the bootstrap processor, so this is the BSP's ID.
	CurAPICID uint32
}

// savedCollaborators records the whole last Config Boot ran with; reenter
// overwrites its Shared and CurAPICID fields (which vary per call) with the
// values the trampoline jump carries. reenter reads it back
// to rebuild a Config when the trampoline jumps back into the loader on a
// soft reboot, since that jump only carries the five trampoline.Func
// arguments, not a whole Config.
var savedCollaborators Config

// Boot drives the loader from firmware (or soft-reboot re-entry) control to
// the kernel's entry point. It never returns on success: the final step
// jumps through the trampoline into the kernel image, and execution
// continues there, not in this function. Any failure before that point is
// returned so the caller can report it and halt.
func Boot(cfg Config) error {
	savedCollaborators = cfg

	s := cfg.Shared
	pm := NewPhysicalMemory(s)
	loaderTable := paging.FromCR3(shared.PhysAddr(cpu.ActivePDT()))

	if err := harvestMemory(s, cfg.BootServices); err != nil {
		return err
	}

	kernelTable, kernelEntry, kernelStack, err := buildKernelImage(s, pm, cfg.Kernel)
	if err != nil {
		return err
	}

	madt, srat, err := locateACPI(s, pm, cfg.BootServices)
	if err != nil {
		return err
	}
	if madt == nil || len(madt.Apics) == 0 {
		return errNoMADT
	}

	// Registration only: the per-domain allocator that would consume this
	// topology is a documented future refinement, not implemented here.
	mp.RegisterNUMA(srat)

	lapic, err := apic.Init(loaderTable, pm, shared.VirtAddr(shared.ApicMMIOVAddr))
	if err != nil {
		return err
	}

	bootState := &shared.BootloaderState{
		Entry:      kernelEntry,
		Stack:      kernelStack,
		TableAddr:  kernelTable.Root(),
		SharedAddr: shared.PhysAddr(uintptr(unsafe.Pointer(s))),
		CoreID:     cfg.CurAPICID,
	}

	if err := mp.InitSystem(pm, lapic, madt.Apics, cfg.CurAPICID, cfg.APEntryBlob, bootState); err != nil {
		return err
	}

	if err := trampoline.Install(kernelTable, pm, cfg.TrampolineBlob); err != nil {
		return err
	}

	guard := s.LoaderTable.Lock()
	*guard.Value() = loaderTable.Root()
	guard.Unlock()

	jump := trampoline.Get()
	jump(bootState.Entry, bootState.Stack, bootState.TableAddr, bootState.SharedAddr, bootState.CoreID)

	for {
	}
}

// harvestMemory populates s.FreeMemory from the UEFI memory map, unless a
// prior call (on an earlier boot) already did so.
func harvestMemory(s *shared.Shared, bs BootServices) error {
	guard := s.FreeMemory.Lock()
	defer guard.Unlock()

	if *guard.Value() != nil {
		return nil
	}

	descs, err := bs.MemoryMap()
	if err != nil {
		return err
	}
	if err := bs.ExitBootServices(); err != nil {
		return err
	}

	freeMemory, err := memmap.Harvest(descs)
	if err != nil {
		return err
	}
	if freeMemory.IsEmpty() {
		return errFreeMemoryUnset
	}

	*guard.Value() = freeMemory

	// Record reenter's address so a later soft reboot can jump straight
	// back into the loader, bypassing UEFI firmware entirely. Done here,
	// under the same first-boot gate as the memory harvest above, since
	// this only needs to happen once.
	s.LoaderEntry.Store(uint64(reflect.ValueOf(reenter).Pointer()))

	return nil
}

// reenter is the trampoline jump target recorded in Shared.LoaderEntry: it
// matches trampoline.Func's calling convention, not Boot's, since that is
// what a soft reboot actually invokes. It rebuilds a Config from
// savedCollaborators and the Shared region's own physical address, then
// re-enters Boot exactly as if this were a fresh call, only with Shared
// already populated so every step that already ran once is skipped.
func reenter(_ shared.VirtAddr, _ shared.VirtAddr, _ shared.PhysAddr, sharedAddr shared.PhysAddr, coreID uint32) {
	cfg := savedCollaborators
	cfg.Shared = (*shared.Shared)(unsafe.Pointer(uintptr(sharedAddr)))
	cfg.CurAPICID = coreID

	if err := Boot(cfg); err != nil {
		panic(err)
	}
}

// buildKernelImage builds a fresh kernel page table, maps every segment of
// the kernel image into it and maps a fresh BSP stack, on every single
// boot - first boot and every soft reboot alike, so a soft reboot never
// hands the kernel a stack still holding the previous run's contents. The
// image mapped is always embedded: the function writes a reference (the
// entry address, size 1) into s.KernelImage but never reads it back. Returns the new kernel page table,
// its entry point and the virtual address of the top of the freshly mapped
// BSP stack.
func buildKernelImage(s *shared.Shared, pm paging.PhysMem, embedded KernelImage) (*paging.PageTable, shared.VirtAddr, shared.VirtAddr, error) {
	if embedded == nil {
		return nil, 0, 0, errKernelUnset
	}

	table, err := paging.NewPageTable(pm)
	if err != nil {
		return nil, 0, 0, err
	}

	for _, seg := range embedded.Segments() {
		seg := seg
		req := paging.MapRequest{
			VAddr:       seg.VAddr,
			Size:        seg.Size,
			PageType:    paging.Page4K,
			Permissions: paging.Permission{Write: seg.Write, Execute: seg.Execute},
			Init: func(offset uint64) byte {
				if offset < uint64(len(seg.Bytes)) {
					return seg.Bytes[offset]
				}
				return 0
			},
		}
		if err := table.Map(pm, req); err != nil {
			return nil, 0, 0, err
		}
	}

	// Reset the stack cursor to its base on every boot: a soft reboot
	// gets the BSP a clean stack, not the tail of whatever was left on
	// it before the reboot.
	s.NextStack.Store(shared.KernelStackBase)
	stackBase := shared.KernelStackBase - shared.KernelStackSize
	stackReq := paging.MapRequest{
		VAddr:       shared.VirtAddr(stackBase),
		Size:        shared.KernelStackSize,
		PageType:    paging.Page4K,
		Permissions: paging.Permission{Write: true, Execute: false},
	}
	if err := table.Map(pm, stackReq); err != nil {
		return nil, 0, 0, err
	}

	// Map all of physical memory linearly at KernelPhysWindowBase with
	// 1GiB pages: the window the kernel's PhysicalMemory translates through.
	for off := uint64(0); off < shared.KernelPhysWindowSize; off += uint64(paging.Page1G) {
		pte := off | uint64(paging.FlagPresent|paging.FlagWrite|paging.FlagHugePage|paging.FlagNoExecute)
		if err := table.MapRaw(pm, shared.VirtAddr(shared.KernelPhysWindowBase+off), paging.Page1G, pte); err != nil {
			return nil, 0, 0, err
		}
	}

	entry := embedded.Entry()

	imgGuard := s.KernelImage.Lock()
	*imgGuard.Value() = shared.KernelImageRef{Addr: shared.PhysAddr(uintptr(entry)), Size: 1}
	imgGuard.Unlock()

	tableGuard := s.KernelTable.Lock()
	*tableGuard.Value() = table.Root()
	tableGuard.Unlock()

	return table, entry, shared.VirtAddr(shared.KernelStackBase), nil
}

// locateACPI returns the parsed MADT and SRAT. On first boot the RSDP is
// located via the UEFI configuration table and the resulting XSDT address
// is cached in s.XSDT; every later call re-enumerates the XSDT's tables
// from that cached address without touching BootServices at all, since
// that GUID lookup is only meaningful while the UEFI configuration table
// the loader was handed is still the one firmware set up.
func locateACPI(s *shared.Shared, pm paging.PhysMem, bs BootServices) (*acpi.Madt, *acpi.Srat, error) {
	var (
		xsdtBase shared.PhysAddr
		n        int
		err      error
	)

	if s.XSDT.Initialized() {
		xsdtBase = *s.XSDT.Get()
		n, err = acpi.XSDTEntryCount(pm.Translate, xsdtBase)
		if err != nil {
			return nil, nil, err
		}
	} else {
		rsdpAddr, ok := bs.ACPI20RSDP()
		if !ok {
			return nil, nil, errNoRSDP
		}
		xsdtBase, n, err = acpi.LocateXSDT(pm.Translate, rsdpAddr)
		if err != nil {
			return nil, nil, err
		}
		s.XSDT.Set(xsdtBase)
	}

	return acpi.EnumerateTables(pm.Translate, xsdtBase, n)
}
