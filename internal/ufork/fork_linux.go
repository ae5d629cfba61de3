//go:build linux && !s390x

package ufork

import (
	"syscall"
	_ "unsafe" // go:linkname
)

const supported = true

//go:linkname runtimeBeforeFork syscall.runtime_BeforeFork
func runtimeBeforeFork()

//go:linkname runtimeAfterFork syscall.runtime_AfterFork
func runtimeAfterFork()

func fork() (int, error) {
	syscall.ForkLock.Lock()
	pid, errno := rawFork()
	syscall.ForkLock.Unlock()
	if errno != 0 {
		return -1, errno
	}
	return int(pid), nil
}

// rawFork runs between the runtime's fork hooks, where the stack cannot
// grow and nothing may allocate.
//
// The child also calls runtimeAfterFork rather than the in-child variant:
// that one resets signal handlers in preparation for exec, while our child
// keeps running Go code.
//
//go:nosplit
//go:norace
func rawFork() (uintptr, syscall.Errno) {
	runtimeBeforeFork()
	r1, _, errno := syscall.RawSyscall(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0)
	runtimeAfterFork()
	return r1, errno
}
