package kernel

import (
	"testing"

	"duskos/apic"
	"duskos/shared"
)

// TestSoftRebootRequiresBSP exercises the guard at the top of SoftReboot.
// The trampoline jump itself is never reached in a unit test: trampoline.Get
// returns a function that never returns, and the real jump depends on a
// physical page table and real-mode entry code neither of which exist in
// this process. Only the BSP guard is covered here; purge-func ordering is
// covered by TestRegisterPurgeFuncOrdering, and disabling other cores and
// resetting the APIC are not exercised by this file.
func TestSoftRebootRequiresBSP(t *testing.T) {
	defer SetCurrentCore(nil)

	t.Run("no core installed", func(t *testing.T) {
		SetCurrentCore(nil)

		defer func() {
			if recover() == nil {
				t.Fatal("expected SoftReboot to panic with no CoreState installed")
			}
		}()
		SoftReboot(&shared.BootloaderState{})
	})

	t.Run("non-BSP core", func(t *testing.T) {
		core := &CoreState{APICID: 1, IsBSP: false, LocalAPIC: shared.NewSpinLock[*apic.LocalApic](nil)}
		SetCurrentCore(core)

		defer func() {
			if recover() == nil {
				t.Fatal("expected SoftReboot to panic when called from a non-BSP core")
			}
		}()
		SoftReboot(&shared.BootloaderState{})
	})
}

// TestRegisterPurgeFuncOrdering checks that purge funcs run in registration
// order. It exercises the loop in SoftReboot directly rather than calling
// SoftReboot itself, since SoftReboot always continues on to the
// unrecoverable trampoline jump.
func TestRegisterPurgeFuncOrdering(t *testing.T) {
	saved := purgeFuncs
	defer func() { purgeFuncs = saved }()
	purgeFuncs = nil

	var order []int
	RegisterPurgeFunc(func() { order = append(order, 1) })
	RegisterPurgeFunc(func() { order = append(order, 2) })
	RegisterPurgeFunc(func() { order = append(order, 3) })

	for _, fn := range purgeFuncs {
		fn()
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected purge funcs to run in registration order, got %v", order)
	}
}

func TestRebooting(t *testing.T) {
	defer rebooting.Store(false)

	rebooting.Store(false)
	if Rebooting() {
		t.Fatal("expected Rebooting to report false before a reboot is initiated")
	}

	rebooting.Store(true)
	if !Rebooting() {
		t.Fatal("expected Rebooting to report true once set")
	}
}
