package kernel

import (
	"unsafe"

	"duskos/apic"
	"duskos/kernel/cpu"
	"duskos/kernel/goruntime"
	"duskos/kernel/hal"
	"duskos/kernel/kfmt/early"
	"duskos/mp"
	"duskos/paging"
	"duskos/shared"
)

// Framebuffer geometry for the early console. Nothing in this module
// decodes a UEFI GOP mode to fill these in; whatever build links a real
// loader.BootServices implementation into the root package is expected to
// set these alongside it, the same way it supplies the embedded kernel
// image and the AP entry/trampoline blobs.
var (
	FramebufferWidth  uint16
	FramebufferHeight uint16
	FramebufferAddr   uintptr
)

// Entry is the kernel's side of the hand-off: the address every core lands
// on after the trampoline switches it onto the kernel's page table. It
// runs on the bootstrap processor on the very first boot, on every
// application processor mp.InitSystem launches, and on the bootstrap
// processor again after each soft reboot rebuilds the kernel image and
// re-enters here. Its parameter list matches trampoline.Func, the
// signature the trampoline invokes its jump target with - entry and stack
// aren't consulted here since the jump itself already used them to get
// this core executing kernel code on a live stack.
func Entry(_, _ shared.VirtAddr, tableAddr, sharedAddr shared.PhysAddr, coreID uint32) {
	s := (*shared.Shared)(unsafe.Pointer(uintptr(sharedAddr)))
	pm := NewPhysicalMemory(s)
	table := paging.FromCR3(tableAddr)

	// The bootstrap processor is already marked online by the time its
	// own trampoline jump lands here; every application processor is
	// still Launched until its own CheckIn below. That ordering, not a
	// separately carried flag, is what tells a core which one it is.
	st, err := mp.State(coreID)
	if err != nil {
		panic(err)
	}
	isBSP := st == mp.StateOnline

	lapic, err := apic.Init(table, pm, shared.VirtAddr(shared.ApicMMIOVAddr))
	if err != nil {
		panic(err)
	}

	SetCurrentCore(&CoreState{
		APICID:    coreID,
		IsBSP:     isBSP,
		LocalAPIC: shared.NewSpinLock(lapic),
	})

	if isBSP {
		hal.InitTerminal(FramebufferWidth, FramebufferHeight, FramebufferAddr)
		early.Printf("duskos: bootstrap processor %d online, waiting for %d core(s) to check in\n", coreID, mp.TotalCores())

		// Safe to install the kernel's own heap arena only once, on the
		// core that is about to become the only one running Go code
		// that allocates before the others check in.
		goruntime.Init(table, pm)
	}

	mp.CheckIn(coreID, isBSP)

	if isBSP {
		early.Printf("duskos: all cores checked in\n")
	}

	for {
		cpu.Halt()
	}
}
