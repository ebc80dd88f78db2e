package loader

import (
	"duskos/memmap"
	"duskos/shared"
)

// Segment is a single loadable segment of the kernel ELF image: a virtual
// address range, its permissions and the file bytes to initialize it with.
// Parsing the ELF container itself is an out-of-scope collaborator (no ELF
// parser is implemented in this module); Boot only consumes the already
// decoded segment list a KernelImage provides.
type Segment struct {
	VAddr   shared.VirtAddr
	Size    uint64
	Write   bool
	Execute bool

	// Bytes is the segment's file content. Any byte beyond len(Bytes), up
	// to Size, is zeroed (the BSS tail of a segment).
	Bytes []byte
}

// KernelImage is the decoded kernel ELF image Boot maps in. Implementations
// either embed a build-time kernel binary or load one handed to the loader
// by some other means; both are out of scope here.
type KernelImage interface {
	Entry() shared.VirtAddr
	Segments() []Segment
}

// BootServices is the subset of the UEFI boot-services and
// configuration-table surface Boot needs. A real implementation calls
// through the UEFI system table; implementing that call is an out-of-scope
// collaborator; Boot only needs the narrow interface below to compile and
// be testable against a fake.
type BootServices interface {
	// MemoryMap returns the raw UEFI memory map. Boot harvests it into a
	// RangeSet and then calls ExitBootServices with whatever map key the
	// implementation tracked internally from this same call.
	MemoryMap() ([]memmap.Descriptor, error)

	// ExitBootServices tears down UEFI boot services. No boot service may
	// be called after this returns successfully.
	ExitBootServices() error

	// ACPI20RSDP returns the physical address of the ACPI 2.0 RSDP, found
	// in the UEFI configuration table by GUID
	// 8868E871-E4F1-11D3-BC22-0080C73C8881, and whether an entry was
	// found at all.
	ACPI20RSDP() (shared.PhysAddr, bool)
}
