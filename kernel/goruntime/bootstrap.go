// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"sync/atomic"
	"unsafe"

	"duskos/kerror"
	"duskos/kernel/mem"
	"duskos/paging"
	"duskos/shared"
)

var errHeapUninitialized = &kerror.Error{Module: "goruntime", Message: "Init has not been called"}

var (
	heapTable *paging.PageTable
	heapPhys  paging.PhysMem

	// arenaNext is the next unused address in the kernel's virtual
	// allocation arena (shared.KernelVmemBase for shared.KernelVmemSize
	// bytes). sysReserve and sysAlloc both draw from it; nothing ever
	// gives a region back, the same way the arena itself is never
	// reused across a soft reboot.
	arenaNext atomic.Uint64
)

// Init installs the page table and physical memory allocator the Go
// runtime's sysReserve/sysMap/sysAlloc hooks below map pages into. Must be
// called once, on the bootstrap processor's entry path, before any Go
// allocation that isn't already satisfied by the runtime's static arena;
// every call resets the arena cursor to shared.KernelVmemBase.
func Init(table *paging.PageTable, pm paging.PhysMem) {
	heapTable = table
	heapPhys = pm
	arenaNext.Store(shared.KernelVmemBase)
}

// reserveRegion hands out the next regionSize-byte range of the virtual
// allocation arena, without mapping anything into it.
func reserveRegion(regionSize mem.Size) (uintptr, error) {
	top := arenaNext.Add(uint64(regionSize))
	if top > shared.KernelVmemBase+shared.KernelVmemSize {
		return 0, &kerror.Error{Module: "goruntime", Message: "virtual allocation arena exhausted"}
	}
	return uintptr(top - uint64(regionSize)), nil
}

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)
	regionStartAddr, err := reserveRegion(regionSize)
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(regionStartAddr)
}

// sysMap establishes a mapping for a particular memory region that has been
// reserved previously via a call to sysReserve.
//
// This function replaces runtime.sysMap and is required for initializing the
// Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}
	if heapTable == nil {
		panic(errHeapUninitialized)
	}

	// We trust the allocator to call sysMap with an address inside a reserved region.
	regionStartAddr := (uintptr(virtAddr) + uintptr(mem.PageSize-1)) &^ uintptr(mem.PageSize-1)
	regionSize := uint64((mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1))

	req := paging.MapRequest{
		VAddr:       shared.VirtAddr(regionStartAddr),
		Size:        regionSize,
		PageType:    paging.Page4K,
		Permissions: paging.Permission{Write: true, Execute: false},
	}
	if err := heapTable.Map(heapPhys, req); err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// sysAlloc reserves enough physical frames to satisfy the allocation request
// and establishes a contiguous virtual page mapping for them, returning the
// pointer to the virtual region start.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	if heapTable == nil {
		panic(errHeapUninitialized)
	}

	regionSize := (mem.Size(size) + mem.PageSize - 1) &^ (mem.PageSize - 1)
	regionStartAddr, err := reserveRegion(regionSize)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	req := paging.MapRequest{
		VAddr:       shared.VirtAddr(regionStartAddr),
		Size:        uint64(regionSize),
		PageType:    paging.Page4K,
		Permissions: paging.Permission{Write: true, Execute: false},
	}
	if err := heapTable.Map(heapPhys, req); err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

func init() {
	// Touch sysReserve once at package init, same as the rest of this
	// file's dummy-call tradition. sysMap and sysAlloc aren't exercised
	// here: both panic until Init has installed a heap table, which
	// hasn't happened yet this early.
	var reserved bool
	sysReserve(unsafe.Pointer(uintptr(0)), 0, &reserved)
}
