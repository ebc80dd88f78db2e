// Package cpu exposes the x86_64 instructions duskos needs that have no Go
// equivalent: interrupt control, the PAUSE hint, MSR/CR access and CPUID.
// Each function below is implemented in assembly and has no Go body.
package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt.
func Halt()

// Pause executes the PAUSE instruction, hinting to the processor that the
// calling core is in a busy-wait spin loop.
func Pause()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR0 returns the value of the CR0 control register.
func ReadCR0() uint64

// WriteCR0 writes val into the CR0 control register.
func WriteCR0(val uint64)

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ReadMSR returns the value of the model-specific register msr.
func ReadMSR(msr uint32) uint64

// WriteMSR writes val into the model-specific register msr.
func WriteMSR(msr uint32, val uint64)

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// In8 reads a single byte from the I/O port.
func In8(port uint16) uint8

// Out8 writes a single byte to the I/O port.
func Out8(port uint16, val uint8)

// ReadGSBase returns the value of the GS segment base, used to reach the
// calling core's per-core data without a side table.
func ReadGSBase() uintptr

// WriteGSBase sets the GS segment base to base.
func WriteGSBase(base uintptr)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasX2APIC reports whether the processor supports x2APIC mode, per CPUID
// leaf 1, ECX bit 21.
func HasX2APIC() bool {
	_, _, ecx, _ := cpuidFn(1)
	return ecx&(1<<21) != 0
}
