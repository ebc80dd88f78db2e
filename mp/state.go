// Package mp brings up the system's secondary processors and tracks their
// execution state across the lifetime of a boot (and any soft reboot that
// follows it).
package mp

import (
	"sync/atomic"

	"duskos/kerror"
	"duskos/kernel/cpu"
)

// ApicState is the execution state of a single core, indexed by APIC ID.
type ApicState uint8

const (
	// StateOnline means the core is registered and running inside the
	// kernel.
	StateOnline ApicState = 1

	// StateLaunched means the core has been sent INIT-SIPI-SIPI but has
	// not yet checked in.
	StateLaunched ApicState = 2

	// StateOffline means the core is present (named in the MADT) but has
	// not been launched.
	StateOffline ApicState = 3

	// StateNone means this APIC ID does not exist.
	StateNone ApicState = 4

	// StateHalted means the core has disabled interrupts and is parked
	// forever, e.g. during panic shutdown.
	StateHalted ApicState = 5
)

var errUnknownAPICID = &kerror.Error{Module: "mp", Message: "APIC ID has no registered state"}

// states holds one atomic.Uint32 per possible APIC ID, indexed directly by
// ID, sized to the largest ID seen in the MADT.
var (
	states     []atomic.Uint32
	totalCores atomic.Uint32
	checkedIn  atomic.Uint32
)

// SetState stores the execution state of the core with the given APIC ID.
func SetState(id uint32, state ApicState) {
	states[id].Store(uint32(state))
}

// TotalCores returns the number of cores InitSystem registered.
func TotalCores() uint32 {
	return totalCores.Load()
}

// State returns the execution state of the core with the given APIC ID.
func State(id uint32) (ApicState, error) {
	if int(id) >= len(states) {
		return 0, errUnknownAPICID
	}
	return ApicState(states[id].Load()), nil
}

// CheckIn transitions the calling core's state from Launched to Online (or
// asserts it is already Online, for the bootstrap processor) and then
// blocks until every registered core has done the same. It must be called
// exactly once per core, early in that core's kernel entry path.
func CheckIn(apicID uint32, isBSP bool) {
	cur := ApicState(states[apicID].Swap(uint32(StateOnline)))

	if isBSP {
		if cur != StateOnline {
			panic("bootstrap processor not marked online in APIC state")
		}
	} else {
		if cur != StateLaunched {
			panic("invalid core state transition during check-in")
		}
	}

	checkedIn.Add(1)

	total := totalCores.Load()
	if total == 0 {
		panic("CheckIn called before InitSystem recorded the core count")
	}
	for checkedIn.Load() != total {
		cpuRelax()
	}
}

var cpuRelax = cpu.Pause
