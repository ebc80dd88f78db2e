package main

import (
	"duskos/loader"
	"duskos/shared"
)

// firmware and embeddedKernel are the two collaborators main needs from
// outside this module: a real UEFI boot-services binding and a decoded
// kernel ELF image, respectively. Neither is implemented here - see
// duskos/loader's BootServices and KernelImage for the narrow interfaces a
// real build wires concrete values into before linking this program into a
// bootable UEFI image.
var (
	firmware       loader.BootServices
	embeddedKernel loader.KernelImage

	// apEntryBlob and trampolineBlob are produced from pre-assembled code
	// by duskos/tools/apblob and linked in by that same build step.
	apEntryBlob    []byte
	trampolineBlob []byte
)

// main is duskos's UEFI entry point. It is invoked once, by firmware, on
// the very first boot; every soft reboot after that jumps the trampoline
// straight back into the loader package instead of calling main again, so
// this function is intentionally a thin wrapper around loader.Boot rather
// than where any boot logic lives.
func main() {
	err := loader.Boot(loader.Config{
		Shared:         shared.NewShared(),
		BootServices:   firmware,
		Kernel:         embeddedKernel,
		APEntryBlob:    apEntryBlob,
		TrampolineBlob: trampolineBlob,
		CurAPICID:      0,
	})
	if err != nil {
		panic(err)
	}
}
