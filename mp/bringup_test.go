package mp

import (
	"testing"

	"duskos/shared"
)

type fakePhysMem struct {
	buf []byte
}

func (m *fakePhysMem) Translate(addr shared.PhysAddr, size uint64) ([]byte, bool) {
	return m.TranslateMut(addr, size)
}

func (m *fakePhysMem) TranslateMut(addr shared.PhysAddr, size uint64) ([]byte, bool) {
	start := uint64(addr)
	end := start + size
	if end > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[start:end], true
}

func (m *fakePhysMem) AllocPhys(size, align uint64) (shared.PhysAddr, bool) {
	return 0, false
}

type fakeIPISender struct {
	sent []uint32
}

func (f *fakeIPISender) IPI(destID uint32, ipi uint32) {
	f.sent = append(f.sent, ipi)
}

func withNoSleep(t *testing.T) {
	t.Helper()
	orig := microSleep
	microSleep = func(uint32) {}
	t.Cleanup(func() { microSleep = orig })
}

func TestInitSystemLaunchesAllOtherCores(t *testing.T) {
	withNoSleep(t)
	resetForTest(0)

	pm := &fakePhysMem{buf: make([]byte, 0x10000)}
	lapic := &fakeIPISender{}
	blob := make([]byte, 64)
	bstate := &shared.BootloaderState{CoreID: 7}

	apics := []uint32{0, 1, 2}
	curID := uint32(0)

	// InitSystem polls State(id) until it reports Online; simulate the
	// AP coming online as soon as it has been marked Launched.
	done := make(chan error, 1)
	go func() {
		done <- InitSystem(pm, lapic, apics, curID, blob, bstate)
	}()

	// Bring each AP "online" once it has been marked Launched.
	for _, id := range []uint32{1, 2} {
		for {
			if st, err := State(id); err == nil && st == StateLaunched {
				SetState(id, StateOnline)
				break
			}
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("InitSystem: %v", err)
	}

	if len(lapic.sent) != 6 {
		t.Fatalf("expected 3 IPIs (INIT+SIPI+SIPI) per AP, got %d sends", len(lapic.sent))
	}

	if st, _ := State(curID); st != StateOnline {
		t.Errorf("expected the calling core to remain online")
	}

	tail := shared.BytesOf(bstate)
	blobEnd := int(entryAddr) + len(blob)
	got := pm.buf[blobEnd-len(tail) : blobEnd]
	for i := range tail {
		if got[i] != tail[i] {
			t.Fatalf("bootloader state tail not copied into entry blob page")
		}
	}
}

func TestInitSystemRejectsEmptyAPICList(t *testing.T) {
	if err := InitSystem(&fakePhysMem{}, &fakeIPISender{}, nil, 0, nil, &shared.BootloaderState{}); err != errNoAPICs {
		t.Fatalf("expected errNoAPICs, got %v", err)
	}
}

func TestInitSystemRejectsMissingCurrentCore(t *testing.T) {
	err := InitSystem(&fakePhysMem{buf: make([]byte, 0x100)}, &fakeIPISender{}, []uint32{1, 2}, 9, make([]byte, 8), &shared.BootloaderState{})
	if err != errCurrentCoreMissing {
		t.Fatalf("expected errCurrentCoreMissing, got %v", err)
	}
}

func TestInstallEntryBlobRejectsOversizedState(t *testing.T) {
	pm := &fakePhysMem{buf: make([]byte, 0x100)}
	tinyBlob := make([]byte, 4)
	if err := installEntryBlob(pm, tinyBlob, &shared.BootloaderState{}); err != errEntryBlobTooLarge {
		t.Fatalf("expected errEntryBlobTooLarge, got %v", err)
	}
}
