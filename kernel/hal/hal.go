package hal

import (
	"duskos/kernel/driver/tty"
	"duskos/kernel/driver/video/console"
)

var (
	egaConsole = &console.Ega{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some
// output till everything is properly setup. The framebuffer geometry comes
// from whatever firmware handed the loader - multiboot's info struct in the
// original bring-up, a UEFI GOP mode on this one - so it is the caller's job
// to supply it rather than this package reaching for a protocol-specific
// source of its own.
func InitTerminal(width, height uint16, physAddr uintptr) {
	egaConsole.Init(width, height, physAddr)
	ActiveTerminal.AttachTo(egaConsole)
}
