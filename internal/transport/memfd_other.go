//go:build !linux

package transport

import (
	"os"
	"syscall"
)

func openMemfd(string) (*os.File, error) {
	return nil, os.NewSyscallError("memfd_create", syscall.ENOSYS)
}

// MemfdSupported reports whether the running kernel accepts memfd_create.
func MemfdSupported() bool { return false }
