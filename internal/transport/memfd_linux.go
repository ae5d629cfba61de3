//go:build linux

package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

func openMemfd(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("memfd_create", err)
	}
	return os.NewFile(uintptr(fd), "memfd:"+name), nil
}

// MemfdSupported reports whether the running kernel accepts memfd_create.
func MemfdSupported() bool {
	f, err := openMemfd("spork-probe")
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
