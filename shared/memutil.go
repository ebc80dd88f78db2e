package shared

import "unsafe"

// Memset fills dst with b. It exists for use before the Go allocator (and
// therefore the usual compiler-generated memclr) is safe to call, i.e.
// before paging is set up.
func Memset(dst []byte, b byte) {
	for i := range dst {
		dst[i] = b
	}
}

// Memcopy copies src into dst, which must be at least len(src) long. It is
// a thin wrapper so call sites touching raw physical-memory slices read the
// same regardless of whether the backing store is a Go slice or a pointer
// reinterpreted via unsafe.Slice.
func Memcopy(dst, src []byte) {
	copy(dst, src)
}

// BytesOf reinterprets a pointer to a fixed-size value as a byte slice,
// without copying. Used to lay out structs such as BootloaderState directly
// into a physical memory page.
func BytesOf[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}
