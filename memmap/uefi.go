// Package memmap turns a raw UEFI memory map, harvested by an out-of-scope
// UEFI boot-services collaborator, into the RangeSet of memory that both the
// loader and the kernel are free to use.
package memmap

import (
	"duskos/kerror"
	"duskos/shared"
)

var errMemoryMapOverflow = &kerror.Error{Module: "memmap", Message: "memory map descriptor size overflowed"}

// MemoryType classifies a UEFI memory descriptor. Values match the UEFI
// specification's EFI_MEMORY_TYPE enumeration.
type MemoryType uint32

const (
	Reserved MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
)

// AvailablePostBootServicesExit reports whether memory of this type remains
// usable after ExitBootServices has been called.
func (t MemoryType) AvailablePostBootServicesExit() bool {
	switch t {
	case BootServicesCode, BootServicesData, ConventionalMemory, PersistentMemory:
		return true
	default:
		return false
	}
}

// Descriptor is a single entry of the memory map returned by UEFI's
// GetMemoryMap boot service.
type Descriptor struct {
	Type     MemoryType
	PhysAddr shared.PhysAddr
	VirtAddr shared.VirtAddr
	NPages   uint64
}

// legacyNullGuard and legacyVideoHole are subtracted unconditionally from
// every harvested memory map: the first page (and, conservatively, the
// first 64KiB) to guard against stray null-pointer writes, and the
// classic BIOS/VGA hole in case firmware reports it as conventional memory
// when it technically should not.
var (
	legacyNullGuard = mustRange(0x0000, 0xFFFF)
	legacyVideoHole = mustRange(0xA0000, 0xFFFFF)
)

func mustRange(start, end uint64) shared.Range {
	r, err := shared.NewRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// Harvest builds the RangeSet of memory usable by both the loader and the
// kernel from a raw UEFI memory map. descs is typically produced just
// before ExitBootServices is called.
func Harvest(descs []Descriptor) (*shared.RangeSet, error) {
	freeMemory := &shared.RangeSet{}

	for _, d := range descs {
		if !d.Type.AvailablePostBootServicesExit() {
			continue
		}

		offset := d.NPages * 4096
		if offset == 0 {
			continue
		}

		end := uint64(d.PhysAddr) + (offset - 1)
		if end < uint64(d.PhysAddr) {
			return nil, errMemoryMapOverflow
		}

		r, err := shared.NewRange(uint64(d.PhysAddr), end)
		if err != nil {
			return nil, err
		}
		if err := freeMemory.Insert(r); err != nil {
			return nil, err
		}
	}

	if _, err := freeMemory.Remove(legacyNullGuard); err != nil {
		return nil, err
	}
	if _, err := freeMemory.Remove(legacyVideoHole); err != nil {
		return nil, err
	}

	return freeMemory, nil
}
