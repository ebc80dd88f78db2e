package trampoline

import (
	"unsafe"

	"duskos/shared"
)

// funcval mirrors the runtime's internal representation of a Go function
// value: a single pointer to the function's entry point. Constructing one
// by hand is only valid because the trampoline stub is raw machine code
// written to the Func calling convention, not a Go function - the same
// trick the runtime bootstrap code uses to hand the scheduler a code
// pointer it did not compile itself.
type funcval struct {
	fn uintptr
}

// trampolineFuncAt reinterprets the code mapped at vaddr as a Func value.
func trampolineFuncAt(vaddr shared.VirtAddr) Func {
	fv := &funcval{fn: uintptr(vaddr)}
	return *(*Func)(unsafe.Pointer(&fv))
}
