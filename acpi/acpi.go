package acpi

import "duskos/shared"

// Reader gives the ACPI parser read access to physical memory. Both the
// loader (identity map) and the kernel (fixed physical window) can satisfy
// it trivially, so it is kept narrower than the full paging.PhysMem
// interface to avoid a dependency from acpi on paging.
type Reader func(addr shared.PhysAddr, size uint64) ([]byte, bool)

// ErrMissingRSDP is returned when no ACPI 2.0 configuration table entry is
// found in the UEFI configuration table array.
var ErrMissingRSDP = errAcpi20NotFound

// LocateXSDT validates the extended RSDP at rsdpAddr and returns the
// physical address and entry count of the XSDT it points to.
func LocateXSDT(read Reader, rsdpAddr shared.PhysAddr) (base shared.PhysAddr, nEntries int, err error) {
	raw, ok := read(rsdpAddr, 36)
	if !ok {
		return 0, 0, errSizeMismatch
	}
	rsdp := decodeExtRSDP(raw)

	full, ok := read(rsdpAddr, uint64(rsdp.Length))
	if !ok {
		return 0, 0, errSizeMismatch
	}
	if err := ValidateRSDP(&rsdp, full); err != nil {
		return 0, 0, err
	}

	xsdtAddr := shared.PhysAddr(rsdp.XSDTAddr)
	hdrBytes, ok := read(xsdtAddr, sdtHeaderSize)
	if !ok {
		return 0, 0, errSizeMismatch
	}
	hdr := decodeSDTHeader(hdrBytes)

	table, ok := read(xsdtAddr, uint64(hdr.Length))
	if !ok {
		return 0, 0, errSizeMismatch
	}
	if err := ValidateXSDT(&hdr, table); err != nil {
		return 0, 0, err
	}

	n := (int(hdr.Length) - sdtHeaderSize) / 8
	return xsdtAddr, n, nil
}

// XSDTEntryCount reads the XSDT header at xsdtBase and returns the number
// of table pointers that follow it, without re-validating the RSDP that
// pointed to it. Used to re-derive EnumerateTables' n argument from a
// cached XSDT address (e.g. shared.Shared.XSDT), skipping the RSDP walk
// LocateXSDT performs on first boot.
func XSDTEntryCount(read Reader, xsdtBase shared.PhysAddr) (int, error) {
	hdrBytes, ok := read(xsdtBase, sdtHeaderSize)
	if !ok {
		return 0, errSizeMismatch
	}
	hdr := decodeSDTHeader(hdrBytes)
	return (int(hdr.Length) - sdtHeaderSize) / 8, nil
}

// EnumerateTables walks the n pointers following the XSDT header at
// xsdtBase, parsing every MADT and SRAT it finds. Unrecognized tables are
// skipped.
func EnumerateTables(read Reader, xsdtBase shared.PhysAddr, n int) (*Madt, *Srat, error) {
	var (
		madt *Madt
		srat *Srat
	)

	for i := 0; i < n; i++ {
		ptrBytes, ok := read(xsdtBase.Offset(uint64(sdtHeaderSize+i*8)), 8)
		if !ok {
			return nil, nil, errSizeMismatch
		}
		tableAddr := shared.PhysAddr(leUint64Local(ptrBytes))

		hdrBytes, ok := read(tableAddr, sdtHeaderSize)
		if !ok {
			return nil, nil, errSizeMismatch
		}
		hdr := decodeSDTHeader(hdrBytes)

		table, ok := read(tableAddr, uint64(hdr.Length))
		if !ok {
			return nil, nil, errSizeMismatch
		}
		if !checksumValid(table) {
			continue
		}

		switch string(hdr.Signature[:]) {
		case "APIC":
			m, err := ParseMadt(table)
			if err != nil {
				return nil, nil, err
			}
			madt = m
		case "SRAT":
			s, err := ParseSrat(table)
			if err != nil {
				return nil, nil, err
			}
			srat = s
		}
	}

	return madt, srat, nil
}

func leUint64Local(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func decodeSDTHeader(b []byte) SDTHeader {
	var h SDTHeader
	copy(h.Signature[:], b[0:4])
	h.Length = uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	h.Revision = b[8]
	h.Checksum = b[9]
	copy(h.OEMID[:], b[10:16])
	copy(h.OEMTableID[:], b[16:24])
	h.OEMRevision = leUint32Local(b[24:28])
	h.CreatorID = leUint32Local(b[28:32])
	h.CreatorRevision = leUint32Local(b[32:36])
	return h
}

func decodeExtRSDP(b []byte) ExtRSDPDescriptor {
	var r ExtRSDPDescriptor
	copy(r.Signature[:], b[0:8])
	r.Checksum = b[8]
	copy(r.OEMID[:], b[9:15])
	r.Revision = b[15]
	r.RSDTAddr = leUint32Local(b[16:20])
	r.Length = leUint32Local(b[20:24])
	r.XSDTAddr = leUint64Local(b[24:32])
	r.ExtendedChecksum = b[32]
	return r
}

func leUint32Local(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
