//go:build linux

package loader

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/spork/internal/protocol"
	"github.com/mattjoyce/spork/internal/sigstate"
)

// applySignal sets what the target will inherit for sig. Ignore and Default
// go straight to the kernel: os/signal skips signals the runtime reserves,
// and the runtime's handlers would hide an inherited SIG_IGN.
func applySignal(sig unix.Signal, d protocol.Disposition) error {
	switch d {
	case protocol.DispositionIgnore:
		return sigstate.Ignore(sig)
	case protocol.DispositionDefault:
		return sigstate.Default(sig)
	case protocol.DispositionBlock:
		var set unix.Sigset_t
		sigaddset(&set, sig)
		if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
			return fmt.Errorf("block %v: %w", sig, err)
		}
		return nil
	}
	return fmt.Errorf("unknown disposition %d", int32(d))
}

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	n := uint(sig - 1)
	w := uint(unsafe.Sizeof(set.Val[0]) * 8)
	set.Val[n/w] |= 1 << (n % w)
}

func dupOnto(oldFD, newFD int) error {
	return unix.Dup3(oldFD, newFD, 0)
}
