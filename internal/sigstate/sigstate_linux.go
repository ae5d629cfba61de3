//go:build linux

package sigstate

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	handlerDefault uintptr = 0 // SIG_DFL
	handlerIgnore  uintptr = 1 // SIG_IGN
)

// kernelSigaction covers every Linux struct sigaction layout; only the
// handler word is ever read or set.
type kernelSigaction [8]uintptr

func rtSigaction(sig syscall.Signal, act, old *kernelSigaction) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_RT_SIGACTION,
		uintptr(sig),
		uintptr(unsafe.Pointer(act)),
		uintptr(unsafe.Pointer(old)),
		sigsetBytes, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func handler(sig syscall.Signal) (uintptr, error) {
	var old kernelSigaction
	if err := rtSigaction(sig, nil, &old); err != nil {
		return 0, err
	}
	return old[handlerIndex], nil
}

func setHandler(sig syscall.Signal, h uintptr) error {
	if !settable(sig) {
		return fmt.Errorf("disposition of %v cannot be changed", sig)
	}
	var act kernelSigaction
	act[handlerIndex] = h
	if err := rtSigaction(sig, &act, nil); err != nil {
		return fmt.Errorf("rt_sigaction %v: %w", sig, err)
	}
	return nil
}

// Ignore sets sig to SIG_IGN behind the runtime's back. It works for
// signals the runtime reserves, which signal.Ignore silently skips.
func Ignore(sig syscall.Signal) error { return setHandler(sig, handlerIgnore) }

// Default sets sig to SIG_DFL behind the runtime's back.
func Default(sig syscall.Signal) error { return setHandler(sig, handlerDefault) }

// IsIgnored reports whether the kernel disposition of sig is SIG_IGN.
func IsIgnored(sig syscall.Signal) (bool, error) {
	h, err := handler(sig)
	if err != nil {
		return false, fmt.Errorf("rt_sigaction %v: %w", sig, err)
	}
	return h == handlerIgnore, nil
}

// Ignored lists the signals whose kernel disposition is SIG_IGN.
func Ignored() ([]syscall.Signal, error) {
	var out []syscall.Signal
	for sig := syscall.Signal(1); sig <= maxSignal; sig++ {
		if !settable(sig) {
			continue
		}
		ign, err := IsIgnored(sig)
		if err != nil {
			return nil, err
		}
		if ign {
			out = append(out, sig)
		}
	}
	return out, nil
}

// Blocked lists the signals in the calling thread's mask. Callers that need
// a stable answer must hold runtime.LockOSThread across the read and the
// spawn that depends on it.
func Blocked() ([]syscall.Signal, error) {
	var cur unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, nil, &cur); err != nil {
		return nil, err
	}
	var out []syscall.Signal
	w := uint(unsafe.Sizeof(cur.Val[0]) * 8)
	for sig := syscall.Signal(1); sig <= maxSignal; sig++ {
		n := uint(sig - 1)
		if cur.Val[n/w]>>(n%w)&1 != 0 && settable(sig) {
			out = append(out, sig)
		}
	}
	return out, nil
}
