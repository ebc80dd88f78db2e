package acpi

import "duskos/shared"

// Srat is the result of parsing a System Resource Affinity Table.
type Srat struct {
	// ApicToDomain maps an APIC ID to the NUMA domain it belongs to.
	ApicToDomain map[uint32]uint32

	// DomainToRanges maps a NUMA domain to the physical memory ranges
	// assigned to it.
	DomainToRanges map[uint32]*shared.RangeSet
}

// ParseSrat parses the SRAT whose raw bytes (header included) are table.
func ParseSrat(table []byte) (*Srat, error) {
	entries, err := ParseTableEntries(table, sdtHeaderSize, 12)
	if err != nil {
		return nil, err
	}

	srat := &Srat{
		ApicToDomain:   make(map[uint32]uint32),
		DomainToRanges: make(map[uint32]*shared.RangeSet),
	}

	for _, e := range entries {
		switch e.Typ {
		case 0: // Processor Local APIC/SAPIC Affinity
			if e.Len != 16 {
				return nil, errSizeMismatch
			}
			id := uint32(e.ReadU8(3))
			flags := e.ReadU32(4)
			// The 32-bit domain is split across two non-contiguous
			// parts of the structure (low byte at offset 2, the
			// remaining three bytes at offsets 9-11) - an ACPI-spec
			// quirk, not a parsing bug.
			domain := uint32(e.ReadU8(2)) |
				uint32(e.ReadU8(9))<<8 |
				uint32(e.ReadU8(10))<<16 |
				uint32(e.ReadU8(11))<<24

			if flags&enabled != 0 {
				srat.ApicToDomain[id] = domain
			}

		case 1: // Memory Affinity
			if e.Len != 40 {
				return nil, errSizeMismatch
			}
			domain := e.ReadU32(2)
			start := e.ReadU64(8)
			length := e.ReadU64(16)
			flags := e.ReadU32(28)

			if length > 0 && flags&enabled != 0 {
				end := start + (length - 1)
				if end < start {
					return nil, errSizeMismatch
				}
				r, err := shared.NewRange(start, end)
				if err != nil {
					return nil, err
				}
				rs, ok := srat.DomainToRanges[domain]
				if !ok {
					rs = &shared.RangeSet{}
					srat.DomainToRanges[domain] = rs
				}
				if err := rs.Insert(r); err != nil {
					return nil, err
				}
			}

		case 2: // Processor Local x2APIC Affinity
			if e.Len != 24 {
				return nil, errSizeMismatch
			}
			domain := e.ReadU32(4)
			id := e.ReadU32(8)
			flags := e.ReadU32(12)

			if flags&enabled != 0 {
				srat.ApicToDomain[id] = domain
			}

		default:
			// Unrecognized entry types are skipped.
		}
	}

	return srat, nil
}
