// Package spawn wraps the platform's atomic create-and-execute primitive.
// Both the direct path and the primed path go through a Spawner so tests can
// observe exactly how many processes a dispatch started.
package spawn

import (
	"errors"
	"os"
	"syscall"

	"github.com/mattjoyce/spork/internal/log"
)

// Request describes one process to start. Files are installed as
// descriptors 3, 4, ... in the child in order; stdio follows the Spawner.
type Request struct {
	Path  string
	Argv  []string
	Env   []string
	Dir   string
	Files []*os.File
}

// Spawner starts a process and returns its pid without waiting for it.
type Spawner interface {
	Spawn(req Request) (int, error)
}

// Native starts processes with os.StartProcess. A nil stdio field inherits
// the caller's corresponding descriptor.
type Native struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// NewNative returns a Native that shares the caller's stdio.
func NewNative() *Native {
	return &Native{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Spawn starts req.Path and releases the handle. The child stays a child of
// the calling process and must be reaped with wait4.
func (n *Native) Spawn(req Request) (int, error) {
	if req.Path == "" {
		return 0, &os.PathError{Op: "spawn", Path: req.Path, Err: syscall.ENOENT}
	}
	argv := req.Argv
	if len(argv) == 0 {
		argv = []string{req.Path}
	}

	files := make([]*os.File, 0, 3+len(req.Files))
	files = append(files, orStd(n.Stdin, os.Stdin), orStd(n.Stdout, os.Stdout), orStd(n.Stderr, os.Stderr))
	files = append(files, req.Files...)

	p, err := os.StartProcess(req.Path, argv, &os.ProcAttr{
		Dir:   req.Dir,
		Env:   req.Env,
		Files: files,
	})
	if err != nil {
		return 0, err
	}
	pid := p.Pid
	// The child exists either way; a failed release only leaks the handle.
	if err := releaseProcess(p); err != nil {
		log.WithComponent("spawn").Warn("failed to release process handle", "pid", pid, "error", err)
	}
	return pid, nil
}

var releaseProcess = (*os.Process).Release

func orStd(f, std *os.File) *os.File {
	if f == nil {
		return std
	}
	return f
}

// Errno extracts the native error number from a spawn failure, or 0.
func Errno(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}
