//go:build !linux || s390x

package ufork

import "syscall"

const supported = false

func fork() (int, error) {
	return -1, syscall.ENOSYS
}
