package apic

import (
	"duskos/kerror"
	"duskos/kernel/cpu"
	"duskos/paging"
	"duskos/shared"
)

var (
	errAPICUnsupported = &kerror.Error{Module: "apic", Message: "processor does not support an on-die APIC"}
	errAPICDisabled    = &kerror.Error{Module: "apic", Message: "APIC globally disabled by firmware"}
)

// legacy PIC command/data ports, masked off for the lifetime of the APIC.
const (
	pic1DataPort uint16 = 0x21
	pic2DataPort uint16 = 0xA1
)

// mode distinguishes the two ways register reads/writes reach the APIC.
type mode int

const (
	modeXAPIC mode = iota
	modeX2APIC
)

// origState is the set of values Init saves and Reset restores, so a soft
// reboot hands firmware back an APIC that looks untouched.
type origState struct {
	apicBaseMSR uint64
	svr         uint32
	lvtTimer    uint32
	initCount   uint32
	divideConf  uint32
	pic1Mask    uint8
	pic2Mask    uint8
}

// LocalApic drives the calling core's local APIC. One instance exists per
// core; callers that need a lock-free EOI path wrap it in a
// shared.SpinLock and call EOI with that lock instead of going through a
// regular Lock/Unlock pair.
type LocalApic struct {
	mode mode
	mmio []uint32 // valid only in modeXAPIC
	id   uint32
	orig origState
}

// mmioWindowPages is the number of 4KiB pages the xAPIC register block
// occupies.
const mmioWindowPages = 1

// Init brings the calling core's local APIC online: it saves the firmware's
// APIC configuration, enables the APIC (selecting x2APIC when the processor
// supports it), masks the legacy 8259 PIC and arms the spurious interrupt
// vector. pt/pm are only consulted when the processor lacks x2APIC support
// and the xAPIC register block must be mapped into virtual memory.
func Init(pt *paging.PageTable, pm paging.PhysMem, mmioVAddr shared.VirtAddr) (*LocalApic, error) {
	if _, _, _, edx := cpuidFn(1); edx&(1<<9) == 0 {
		return nil, errAPICUnsupported
	}

	base := readMSR(ia32ApicBaseMSR)
	if base&ia32ApicBaseEn == 0 {
		return nil, errAPICDisabled
	}

	a := &LocalApic{orig: origState{apicBaseMSR: base}}

	useX2APIC := hasX2APIC()
	newBase := (base &^ (apicBase | 0xFFF)) | apicBase | ia32ApicBaseEn
	if useX2APIC {
		newBase |= ia32ApicBaseExtd
		a.mode = modeX2APIC
	} else {
		a.mode = modeXAPIC
	}

	a.orig.pic1Mask = in8(pic1DataPort)
	a.orig.pic2Mask = in8(pic2DataPort)
	out8(pic2DataPort, 0xFF)
	out8(pic1DataPort, 0xFF)

	writeMSR(ia32ApicBaseMSR, newBase)

	if a.mode == modeXAPIC {
		entry := apicBase | uint64(paging.FlagPresent|paging.FlagWrite|
			paging.FlagWriteThrough|paging.FlagNoCache|paging.FlagNoExecute)
		if err := pt.MapRaw(pm, mmioVAddr, paging.Page4K, entry); err != nil {
			return nil, err
		}
		a.mmio = unsafeUint32Slice(mmioVAddr, int(mmioWindowPages*paging.Page4K)/4)
	}

	a.orig.svr = a.read(RegSpuriousInterruptVector)
	a.orig.lvtTimer = a.read(RegLvtTimer)
	a.orig.initCount = a.read(RegInitialCount)
	a.orig.divideConf = a.read(RegDivideConfiguration)

	a.write(RegSpuriousInterruptVector, svrAPICEnable|0xFF)

	a.id = a.read(RegID)
	if a.mode == modeXAPIC {
		// xAPIC packs the ID into the top byte of the ID register;
		// x2APIC's ID register already holds the full 32-bit ID.
		a.id >>= 24
	}

	return a, nil
}

// ID returns the APIC ID of the core LocalApic was initialized on.
func (a *LocalApic) ID() uint32 { return a.id }

func (a *LocalApic) read(reg Register) uint32 {
	if a.mode == modeX2APIC {
		return uint32(readMSR(x2apicMSRBase + uint32(reg)/16))
	}
	return a.mmio[reg/4]
}

func (a *LocalApic) write(reg Register, val uint32) {
	if a.mode == modeX2APIC {
		writeMSR(x2apicMSRBase+uint32(reg)/16, uint64(val))
		return
	}
	a.mmio[reg/4] = val
}

func (a *LocalApic) writeICR(destID uint32, vector uint32) {
	if a.mode == modeX2APIC {
		writeMSR(x2apicMSRBase+uint32(icrLow)/16, uint64(destID)<<32|uint64(vector))
		return
	}
	a.mmio[icrHigh/4] = destID << 24
	a.mmio[icrLow/4] = vector
}

// IPI sends an inter-processor interrupt encoded in ipi (the usual
// delivery-mode/vector bit pattern written to the ICR) to the core whose
// APIC ID is destID.
func (a *LocalApic) IPI(destID uint32, ipi uint32) {
	a.writeICR(destID, ipi)
}

// EOI signals end-of-interrupt through lock, which must guard a *LocalApic.
// It goes through Shatter rather than Lock/Unlock: an interrupt handler
// must never block waiting for a lock some other context holds, even if
// that other context is itself mid-reset.
func EOI(lock *shared.SpinLock[*LocalApic]) {
	a := lock.Shatter()
	if *a != nil {
		(*a).write(RegEndOfInterrupt, 0)
	}
}

// ISR returns the in-service bitmask as 8 little-endian 32-bit words.
func (a *LocalApic) ISR() [8]uint32 {
	return [8]uint32{
		a.read(RegISR0), a.read(RegISR1), a.read(RegISR2), a.read(RegISR3),
		a.read(RegISR4), a.read(RegISR5), a.read(RegISR6), a.read(RegISR7),
	}
}

// IRR returns the interrupt-request bitmask as 8 little-endian 32-bit words.
func (a *LocalApic) IRR() [8]uint32 {
	return [8]uint32{
		a.read(RegIRR0), a.read(RegIRR1), a.read(RegIRR2), a.read(RegIRR3),
		a.read(RegIRR4), a.read(RegIRR5), a.read(RegIRR6), a.read(RegIRR7),
	}
}

// EnableRebootTimer programs a periodic LVT timer at vector so the soft
// reboot path has a heartbeat to fall back on if an AP wedges during
// shutdown instead of checking in.
func (a *LocalApic) EnableRebootTimer(vector uint8, initialCount uint32) {
	a.write(RegDivideConfiguration, 0)
	a.write(RegInitialCount, initialCount)
	a.write(RegLvtTimer, uint32(vector)|1<<17) // bit 17: periodic mode
}

// Reset masks the timer, drains outstanding in-service interrupts, restores
// the timer/SVR/APIC_BASE state Init saved and restores the legacy PIC
// masks Init saved. It
// must run with interrupts disabled on the calling core and leaves them
// disabled on return.
func (a *LocalApic) Reset() {
	disableInts()

	a.write(RegLvtTimer, a.read(RegLvtTimer)|lvtMask)

	for {
		var pending uint32
		for _, w := range a.ISR() {
			pending |= w
		}
		if pending == 0 {
			break
		}
		a.write(RegEndOfInterrupt, 0)
	}

	a.write(RegDivideConfiguration, a.orig.divideConf)
	a.write(RegInitialCount, a.orig.initCount)
	a.write(RegLvtTimer, a.orig.lvtTimer)
	a.write(RegSpuriousInterruptVector, a.orig.svr)

	writeMSR(ia32ApicBaseMSR, a.orig.apicBaseMSR)

	out8(pic1DataPort, a.orig.pic1Mask)
	out8(pic2DataPort, a.orig.pic2Mask)
}

var (
	cpuidFn     = cpu.ID
	readMSR     = cpu.ReadMSR
	writeMSR    = cpu.WriteMSR
	in8         = cpu.In8
	out8        = cpu.Out8
	hasX2APIC   = cpu.HasX2APIC
	disableInts = cpu.DisableInterrupts
)
