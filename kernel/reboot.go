package kernel

import (
	"sync/atomic"

	"duskos/shared"
	"duskos/trampoline"
)

// PurgeFunc is a cleanup hook run, in registration order, during a soft
// reboot: after the other cores are halted and before the APIC reset and
// the jump back to the loader. PCI device reset
// is the motivating use: letting in-flight DMA finish or abort cleanly
// before the physical memory it targets is reused across the reboot.
type PurgeFunc func()

var purgeFuncs []PurgeFunc

// RegisterPurgeFunc appends fn to the list SoftReboot runs before resetting
// the APIC and jumping to the trampoline. Must be called before any
// SoftReboot, from single-core kernel init.
func RegisterPurgeFunc(fn PurgeFunc) {
	purgeFuncs = append(purgeFuncs, fn)
}

// rebooting is observable by any core so a core mid-panic, or about to
// check in, can tell a reboot is already underway.
var rebooting atomic.Bool

// Rebooting reports whether a soft reboot has been initiated.
func Rebooting() bool { return rebooting.Load() }

// SoftReboot halts every other core, runs every registered PurgeFunc, resets
// the calling core's APIC to its pre-duskos state and jumps through the
// trampoline back into the loader. It must be called on the bootstrap
// processor and never returns.
func SoftReboot(bstate *shared.BootloaderState) {
	bsp := CurrentCore()
	if bsp == nil || !bsp.IsBSP {
		panic("SoftReboot must be called on the bootstrap processor")
	}

	rebooting.Store(true)

	disableOtherCores(bsp)

	for _, fn := range purgeFuncs {
		fn()
	}

	lapic := bsp.LocalAPIC.Shatter()
	if *lapic != nil {
		(*lapic).Reset()
	}

	tramp := trampoline.Get()
	tramp(bstate.Entry, bstate.Stack, bstate.TableAddr, bstate.SharedAddr, bstate.CoreID)

	for {
	}
}
