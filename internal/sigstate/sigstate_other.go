//go:build !linux

package sigstate

import "syscall"

// Ignored is not implemented outside Linux; no dispositions are carried.
func Ignored() ([]syscall.Signal, error) { return nil, nil }

// Blocked is not implemented outside Linux; no mask is carried.
func Blocked() ([]syscall.Signal, error) { return nil, nil }
