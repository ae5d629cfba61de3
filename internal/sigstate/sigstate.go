// Package sigstate reads and writes signal state at the kernel level.
//
// A Go program cannot see its inherited signal state through os/signal: at
// startup the runtime replaces most inherited SIG_IGN dispositions with its
// own handlers, and exec turns those back into SIG_DFL. Anything that runs a
// Go helper between the caller and the target has to carry the caller's
// state across explicitly.
package sigstate

import (
	"fmt"
	"syscall"

	"github.com/mattjoyce/spork/internal/protocol"
)

// Inherited returns the changes that reproduce in a fresh process the signal
// state an exec from the calling thread would pass on: every signal whose
// disposition is SIG_IGN, then every signal in the thread's blocked mask.
func Inherited() ([]protocol.StateChange, error) {
	ignored, err := Ignored()
	if err != nil {
		return nil, fmt.Errorf("read signal dispositions: %w", err)
	}
	blocked, err := Blocked()
	if err != nil {
		return nil, fmt.Errorf("read signal mask: %w", err)
	}

	out := make([]protocol.StateChange, 0, len(ignored)+len(blocked))
	for _, sig := range ignored {
		out = append(out, protocol.Signal(sig, protocol.DispositionIgnore))
	}
	for _, sig := range blocked {
		out = append(out, protocol.Signal(sig, protocol.DispositionBlock))
	}
	return out, nil
}

// settable reports whether sig's disposition can be changed at all.
func settable(sig syscall.Signal) bool {
	return sig != syscall.SIGKILL && sig != syscall.SIGSTOP
}
