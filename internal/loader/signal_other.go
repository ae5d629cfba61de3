//go:build !linux

package loader

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/spork/internal/protocol"
)

func applySignal(sig unix.Signal, d protocol.Disposition) error {
	switch d {
	case protocol.DispositionIgnore:
		signal.Ignore(sig)
		if !signal.Ignored(sig) {
			return fmt.Errorf("ignore %v: reserved by the runtime", sig)
		}
		return nil
	case protocol.DispositionDefault:
		signal.Notify(make(chan os.Signal, 1), sig)
		return nil
	case protocol.DispositionBlock:
		return fmt.Errorf("block %v: %w", sig, unix.ENOSYS)
	}
	return fmt.Errorf("unknown disposition %d", int32(d))
}

func dupOnto(oldFD, newFD int) error {
	return unix.Dup2(oldFD, newFD)
}
