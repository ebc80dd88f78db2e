package mp

import (
	"sync/atomic"

	"duskos/kerror"
	"duskos/paging"
	"duskos/shared"
)

var (
	errNoAPICs            = &kerror.Error{Module: "mp", Message: "no APIC IDs supplied to InitSystem"}
	errEntryBlobTooLarge  = &kerror.Error{Module: "mp", Message: "AP entry code blob does not leave room for the bootloader state tail"}
	errCurrentCoreMissing = &kerror.Error{Module: "mp", Message: "current core's APIC ID is not present in the supplied list"}
)

// IPISender is the subset of *apic.LocalApic that AP bring-up needs. Kept
// as a narrow interface here, rather than importing duskos/apic directly,
// so this package's tests can drive InitSystem without a real APIC.
type IPISender interface {
	IPI(destID uint32, ipi uint32)
}

// entryAddr is the physical, real-mode-reachable address the AP entry blob
// is installed at. It must match the [org] the blob was assembled with.
const entryAddr shared.PhysAddr = 0x8000

// Delivery-mode encodings written to the ICR by InitSystem.
const (
	icrInit     = 0x4500
	icrSIPIBase = 0x4600
)

// initDelayMicros and sipiDelayMicros are the delays the Intel MP
// specification recommends between INIT and the first SIPI, and between
// the two SIPIs, respectively.
const (
	initDelayMicros = 10_000
	sipiDelayMicros = 200
	pollDelayMicros = 1_000
)

// InitSystem allocates per-core state for every APIC ID in apics, marks the
// calling core online, then launches every other core with INIT-SIPI-SIPI
// and waits for each to check in. entryBlob is the real-mode code APs start
// executing at; state is copied over the last bytes of the installed blob
// (which the blob leaves free for it) so each AP can recover its stack and
// entry point without a side channel.
func InitSystem(pm paging.PhysMem, lapic IPISender, apics []uint32, curID uint32, entryBlob []byte, state *shared.BootloaderState) error {
	if len(apics) == 0 {
		return errNoAPICs
	}

	maxID := uint32(0)
	found := false
	for _, id := range apics {
		if id > maxID {
			maxID = id
		}
		if id == curID {
			found = true
		}
	}
	if !found {
		return errCurrentCoreMissing
	}

	states = make([]atomic.Uint32, int(maxID)+1)
	for i := range states {
		states[i].Store(uint32(StateNone))
	}
	checkedIn.Store(0)

	for _, id := range apics {
		SetState(id, StateOffline)
	}
	SetState(curID, StateOnline)

	totalCores.Store(uint32(len(apics)))

	if err := installEntryBlob(pm, entryBlob, state); err != nil {
		return err
	}

	for _, id := range apics {
		if id == curID {
			continue
		}

		SetState(id, StateLaunched)

		entryPage := uint32(entryAddr) / 0x1000
		lapic.IPI(id, icrInit)
		microSleep(initDelayMicros)
		lapic.IPI(id, icrSIPIBase+entryPage)
		microSleep(sipiDelayMicros)
		lapic.IPI(id, icrSIPIBase+entryPage)

		for {
			st, err := State(id)
			if err != nil {
				return err
			}
			if st == StateOnline {
				break
			}
			microSleep(pollDelayMicros)
		}
	}

	return nil
}

// installEntryBlob copies entryBlob to the fixed real-mode entry address
// and writes state over the blob's last len(state) bytes, matching the
// layout the entry blob's assembly expects. pm's Translate/TranslateMut
// views physical memory directly, independent of any page table, so no
// page table mutation is needed to reach a low physical address: the
// byte range just has to be backed by real RAM, which the memory map
// harvested at boot already guarantees for this reserved region.
func installEntryBlob(pm paging.PhysMem, entryBlob []byte, state *shared.BootloaderState) error {
	stateBytes := shared.BytesOf(state)
	if len(stateBytes) > len(entryBlob) {
		return errEntryBlobTooLarge
	}

	dst, ok := pm.TranslateMut(entryAddr, uint64(len(entryBlob)))
	if !ok {
		return errEntryBlobTooLarge
	}

	copy(dst, entryBlob)
	copy(dst[len(entryBlob)-len(stateBytes):], stateBytes)
	return nil
}
