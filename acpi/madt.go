package acpi

// enabled and onlineCapable are MADT local-APIC entry flag bits.
const (
	enabled       = 1 << 0
	onlineCapable = 1 << 1
)

// IOApic describes a single IO APIC entry parsed from the MADT.
type IOApic struct {
	ID      uint8
	Addr    uint32
	GSIBase uint32
}

// Madt is the result of parsing a Multiple APIC Description Table.
type Madt struct {
	// Apics lists the APIC IDs of every usable (enabled or
	// online-capable) logical processor on the system, including the
	// BSP.
	Apics []uint32

	// IOApics lists every IO APIC on the system.
	IOApics []IOApic
}

// ParseMadt parses the MADT whose raw bytes (header included) are table.
// MADT type-2 (interrupt source override) entries are present on real
// hardware but are not acted upon: duskos never reprograms the legacy PIC
// redirection table, so there is nothing for an override entry to change.
func ParseMadt(table []byte) (*Madt, error) {
	entries, err := ParseTableEntries(table, sdtHeaderSize, 2*4)
	if err != nil {
		return nil, err
	}

	madt := &Madt{}

	for _, e := range entries {
		switch e.Typ {
		case 0: // Processor Local APIC
			if e.Len != 8 {
				return nil, errSizeMismatch
			}
			id := uint32(e.ReadU8(3))
			flags := e.ReadU32(4)
			if flags&(enabled|onlineCapable) != 0 {
				madt.Apics = append(madt.Apics, id)
			}

		case 1: // IO APIC
			if e.Len != 12 {
				return nil, errSizeMismatch
			}
			madt.IOApics = append(madt.IOApics, IOApic{
				ID:      e.ReadU8(2),
				Addr:    e.ReadU32(4),
				GSIBase: e.ReadU32(8),
			})

		case 2: // Interrupt Source Override - ignored, see doc comment.

		case 9: // Processor Local x2APIC
			if e.Len != 16 {
				return nil, errSizeMismatch
			}
			id := e.ReadU32(4)
			flags := e.ReadU32(8)
			if flags&(enabled|onlineCapable) != 0 {
				madt.Apics = append(madt.Apics, id)
			}

		default:
			// Unrecognized entry types are skipped; the ACPI spec
			// requires parsers to tolerate unknown MADT entries.
		}
	}

	return madt, nil
}
