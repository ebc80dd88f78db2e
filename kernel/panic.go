package kernel

import (
	"sync/atomic"

	"duskos/kerror"
	"duskos/kernel/cpu"
	"duskos/kernel/kfmt/early"
	"duskos/mp"
)

// nmiICR is the ICR delivery-mode/vector encoding for a non-maskable
// interrupt: delivery mode 4 (NMI) in bits 8-10, level (assert) bit 14 set.
const nmiICR uint32 = (1 << 14) | (4 << 8)

// initICR re-launches a parked core via INIT, the same encoding AP bring-up
// uses.
const initICR uint32 = 0x4500

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kerror.Error{Module: "rt", Message: "unknown cause"}

	// inPanic is set once the bootstrap processor has begun unwinding a
	// panic, so a second core panicking concurrently knows to defer to it
	// instead of racing to print its own banner.
	inPanic atomic.Bool

	// pendingNonBSPPanic holds the error a non-BSP core panicked with, for
	// the BSP to print once it takes over.
	pendingNonBSPPanic atomic.Pointer[kerror.Error]
)

// Panic outputs the supplied error (if not nil) to the console and halts
// the CPU. Calls to Panic never return. Panic also works as a redirection
// target for calls to panic() (resolved via runtime.gopanic).
//
// On a multi-core system, a panic on any core converges on the bootstrap
// processor: a non-BSP core records its error, NMIs core 0 and halts; the
// BSP - whether it panicked itself or was NMI'd here by another core -
// prints both panics (if both exist), disables every other online core and
// halts.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	cpu.DisableInterrupts()

	err := normalizePanic(e)
	core := CurrentCore()

	if core != nil && !core.IsBSP {
		if !inPanic.Load() {
			pendingNonBSPPanic.Store(err)
			notifyBSP(core)
		}
		cpuHaltFn()
		for {
		}
	}

	inPanic.Store(true)

	printPanic("non-BSP", pendingNonBSPPanic.Load())
	printPanic("BSP", err)

	if core != nil {
		disableOtherCores(core)
	}

	cpuHaltFn()
}

func normalizePanic(e interface{}) *kerror.Error {
	switch t := e.(type) {
	case *kerror.Error:
		return t
	case string:
		return &kerror.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		return &kerror.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	default:
		return nil
	}
}

func printPanic(who string, err *kerror.Error) {
	if err == nil {
		return
	}
	early.Printf("\n-----------------------------------\n")
	early.Printf("[%s] unrecoverable error (%s): %s\n", who, err.Module, err.Message)
	early.Printf("*** kernel panic: system halted ***")
	early.Printf("\n-----------------------------------\n")
}

// notifyBSP sends an NMI to APIC ID 0, which every duskos system treats as
// the bootstrap processor.
func notifyBSP(core *CoreState) {
	lapic := core.LocalAPIC.Shatter()
	if *lapic != nil {
		(*lapic).IPI(0, nmiICR)
	}
}

// disableOtherCores NMIs every other online core and waits for it to reach
// StateHalted, then sends it an INIT so it parks cleanly.
func disableOtherCores(bsp *CoreState) {
	if !bsp.IsBSP {
		panic("disableOtherCores called from a non-BSP core")
	}

	lapic := bsp.LocalAPIC.Shatter()
	if *lapic == nil {
		return
	}

	for id := uint32(0); ; id++ {
		st, err := mp.State(id)
		if err != nil {
			break // id is past the highest registered APIC ID
		}
		if id == bsp.APICID || st != mp.StateOnline {
			continue
		}

		for {
			cur, _ := mp.State(id)
			if cur == mp.StateHalted {
				break
			}
			(*lapic).IPI(id, nmiICR)
			spinDelay()
		}

		(*lapic).IPI(id, initICR)
		spinDelay()
	}
}

var spinDelay = func() {
	for i := 0; i < 100000; i++ {
		cpu.Pause()
	}
}
