package kernel

import (
	"unsafe"

	"duskos/apic"
	"duskos/kernel/cpu"
	"duskos/shared"
)

// CoreState is the per-core context duskos keeps reachable from any code
// running on that core, via the GS segment base rather than a side table
// keyed by APIC ID - the same reason general-purpose kernels keep a
// per-CPU area there instead of doing a lookup on every access.
type CoreState struct {
	APICID    uint32
	IsBSP     bool
	LocalAPIC *shared.SpinLock[*apic.LocalApic]
}

// SetCurrentCore installs c as the calling core's per-core context. Must be
// called once, early in that core's entry path, before anything that might
// call CurrentCore (including a panic).
func SetCurrentCore(c *CoreState) {
	cpu.WriteGSBase(uintptr(unsafe.Pointer(c)))
}

// CurrentCore returns the calling core's per-core context. Returns nil if
// SetCurrentCore has not run yet on this core.
func CurrentCore() *CoreState {
	base := cpu.ReadGSBase()
	if base == 0 {
		return nil
	}
	return (*CoreState)(unsafe.Pointer(base))
}
