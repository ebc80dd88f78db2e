package mp

import (
	"duskos/acpi"
	"duskos/shared"
)

// Topology is the NUMA layout derived from a parsed SRAT: which domain each
// APIC belongs to, and which physical memory ranges belong to each domain.
type Topology struct {
	ApicToDomain   map[uint32]uint32
	DomainToRanges map[uint32]*shared.RangeSet
}

// RegisterNUMA converts a parsed SRAT into a Topology. It is a thin
// adapter: duskos keeps domain membership as a first-class query rather
// than leaving it bundled inside the ACPI package. Nothing in this module
// consumes the result; the physical memory allocators do not consult it.
func RegisterNUMA(srat *acpi.Srat) *Topology {
	if srat == nil {
		return &Topology{
			ApicToDomain:   map[uint32]uint32{},
			DomainToRanges: map[uint32]*shared.RangeSet{},
		}
	}
	return &Topology{
		ApicToDomain:   srat.ApicToDomain,
		DomainToRanges: srat.DomainToRanges,
	}
}

// Domain returns the NUMA domain the given APIC ID belongs to, and whether
// that APIC had a SRAT entry at all (systems with a single domain often
// omit processor affinity entries entirely).
func (t *Topology) Domain(apicID uint32) (uint32, bool) {
	d, ok := t.ApicToDomain[apicID]
	return d, ok
}
