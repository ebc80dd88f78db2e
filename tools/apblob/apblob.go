// Command apblob converts a raw, already-assembled real-mode or
// position-independent code blob into a Go source file embedding it as a
// byte slice, the same way tools/makelogo turns an image file into a Go
// source file embedding pixel data. Assembling the blob itself (the AP
// entry stub, the trampoline) is out of scope for this tool and for
// duskos: apblob only packages bytes someone else produced, and checks
// they fit the layout duskos expects before it does.
package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/format"
	"os"

	"duskos/shared"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[apblob] error: %s\n", err.Error())
	os.Exit(1)
}

// validate checks that blob fits the layout its kind expects. apentry
// blobs must leave room at their tail for a shared.BootloaderState, the
// same room mp.installEntryBlob fills in at boot; trampoline blobs must
// fit inside the fixed page shared.MaxTrampolineSize reserves for them.
func validate(kind string, blob []byte) error {
	switch kind {
	case "apentry":
		tail := binary.Size(shared.BootloaderState{})
		if tail < 0 {
			return errors.New("duskos/shared.BootloaderState has no fixed binary size")
		}
		if len(blob) <= tail {
			return fmt.Errorf("entry blob is %d bytes, too small to leave room for the %d-byte bootloader state tail", len(blob), tail)
		}
	case "trampoline":
		if uint64(len(blob)) > shared.MaxTrampolineSize {
			return fmt.Errorf("trampoline blob is %d bytes, exceeds the %d-byte budget", len(blob), shared.MaxTrampolineSize)
		}
	default:
		return fmt.Errorf("unknown blob kind %q (want apentry or trampoline)", kind)
	}
	return nil
}

func genBlobFile(pkg, varName string, blob []byte) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "package %s\n\n", pkg)
	fmt.Fprintf(&buf, "// %s is generated by duskos/tools/apblob. Do not edit by hand.\n", varName)
	fmt.Fprintf(&buf, "var %s = []byte{", varName)
	for i, b := range blob {
		if i%16 == 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "0x%02x, ", b)
	}
	fmt.Fprint(&buf, "\n}\n")

	return format.Source(buf.Bytes())
}

func runTool() error {
	in := flag.String("in", "", "path to the raw code blob to embed")
	out := flag.String("out", "-", "output Go file, or - for STDOUT")
	pkg := flag.String("pkg", "main", "package name for the generated file")
	varName := flag.String("var-name", "Blob", "variable name for the generated byte slice")
	kind := flag.String("kind", "apentry", "blob kind: apentry (leaves room for the bootloader state tail) or trampoline (capped at shared.MaxTrampolineSize)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "apblob: embed a pre-assembled AP entry or trampoline blob as a Go byte slice\n\n")
		fmt.Fprint(os.Stderr, "Usage: apblob [options] blob-file\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *in == "" {
		if flag.NArg() != 1 {
			exit(errors.New("missing blob file argument (or -in)"))
		}
		*in = flag.Arg(0)
	}

	blob, err := os.ReadFile(*in)
	if err != nil {
		return err
	}

	if err := validate(*kind, blob); err != nil {
		return err
	}

	src, err := genBlobFile(*pkg, *varName, blob)
	if err != nil {
		return err
	}

	switch *out {
	case "-":
		_, err = os.Stdout.Write(src)
		return err
	default:
		return os.WriteFile(*out, src, 0o644)
	}
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
