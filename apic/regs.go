// Package apic drives the per-core Local APIC, in either legacy xAPIC
// (MMIO) or x2APIC (MSR) mode. IO-APIC redirection table programming and
// the 256 interrupt vector stubs that would dispatch on an EOI are out of
// scope: this package only owns what it takes to send IPIs, signal EOI and
// tear the APIC back down for a soft reboot.
package apic

// Register is an offset into the APIC's 4KiB MMIO register window. In
// x2APIC mode the same offsets address MSRs via (0x800 + offset/16).
type Register uint32

const (
	RegID                      Register = 0x20
	RegEndOfInterrupt          Register = 0xb0
	RegSpuriousInterruptVector Register = 0xf0
	RegISR0                    Register = 0x100
	RegISR1                    Register = 0x110
	RegISR2                    Register = 0x120
	RegISR3                    Register = 0x130
	RegISR4                    Register = 0x140
	RegISR5                    Register = 0x150
	RegISR6                    Register = 0x160
	RegISR7                    Register = 0x170
	RegIRR0                    Register = 0x200
	RegIRR1                    Register = 0x210
	RegIRR2                    Register = 0x220
	RegIRR3                    Register = 0x230
	RegIRR4                    Register = 0x240
	RegIRR5                    Register = 0x250
	RegIRR6                    Register = 0x260
	RegIRR7                    Register = 0x270
	RegLvtTimer                Register = 0x320
	RegInitialCount            Register = 0x380
	RegDivideConfiguration     Register = 0x3E0

	// icrLow and icrHigh are only meaningful in xAPIC (MMIO) mode; x2APIC
	// writes the whole ICR through a single MSR instead.
	icrLow  Register = 0x300
	icrHigh Register = 0x310
)

const (
	// apicBase is the physical address the local APIC is mapped at in
	// xAPIC mode, unless firmware relocated it.
	apicBase uint64 = 0xFEE0_0000

	// ia32ApicBaseMSR is the MSR controlling APIC enablement and mode.
	ia32ApicBaseMSR uint32 = 0x1B

	ia32ApicBaseExtd uint64 = 1 << 10 // x2APIC enable bit
	ia32ApicBaseEn   uint64 = 1 << 11 // global enable bit

	x2apicMSRBase uint32 = 0x800

	lvtMask       uint32 = 1 << 16 // masks an LVT entry
	svrAPICEnable uint32 = 1 << 8  // software-enable bit in the SVR
)
