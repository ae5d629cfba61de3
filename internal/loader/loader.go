// Package loader is the body of the spork-primer executable. It reads one
// payload from its transport, applies the state changes to itself in order,
// and replaces its image with the target program.
//
// The loader never returns to its caller on success. It deliberately avoids
// anything that would start background work in the runtime (os.File reads,
// timers, network pollers) so that descriptor and signal changes act on a
// quiet process.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/spork/internal/log"
	"github.com/mattjoyce/spork/internal/protocol"
)

// Exit statuses. A parent sees these through wait4 when the loader could not
// reach the target program.
const (
	ExitUsage     = 2
	ExitMalformed = 3
	ExitApply     = 4
	ExitTransport = 5
	ExitExec      = 127
)

// Main runs the loader with args (excluding argv[0]) and returns an exit
// status only on failure.
func Main(args []string) int {
	logger := log.New(os.Stderr, os.Getenv("SPORK_LOG_LEVEL"), "text").With(slog.String("component", "loader"))

	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(os.Stderr, "usage: spork-primer <transport-id>")
		return ExitUsage
	}

	data, err := ReadTransport(args[0])
	if err != nil {
		logger.Error("read transport", "transport", args[0], "error", err)
		return ExitTransport
	}

	p, err := protocol.Decode(bytes.NewReader(data))
	if err != nil {
		logger.Error("decode payload", "error", err)
		return ExitMalformed
	}

	for i, c := range p.Changes {
		if err := Apply(c); err != nil {
			logger.Error("apply state change", "index", i, "change", c.String(), "error", err)
			return ExitApply
		}
	}

	argv := p.Target.Argv
	if len(argv) == 0 {
		argv = []string{p.Target.Path}
	}
	err = unix.Exec(p.Target.Path, argv, os.Environ())
	logger.Error("exec target", "path", p.Target.Path, "error", err)
	return ExitExec
}

// ReadTransport reads the whole payload from id and closes it. id is either
// "fd:N" for an inherited descriptor or a filesystem path.
func ReadTransport(id string) ([]byte, error) {
	fd, err := openTransport(id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	chunk := make([]byte, 64<<10)
	for {
		n, err := unix.Read(fd, chunk)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			break
		}
		buf.Write(chunk[:n])
		if buf.Len() > maxPayload {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("payload exceeds %d bytes", maxPayload)
		}
	}
	if err := unix.Close(fd); err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	return buf.Bytes(), nil
}

// maxPayload bounds what a well-formed payload can occupy.
const maxPayload = 1<<30 + 1<<20

func openTransport(id string) (int, error) {
	if rest, ok := strings.CutPrefix(id, "fd:"); ok {
		fd, err := strconv.Atoi(rest)
		if err != nil || fd < 0 {
			return -1, fmt.Errorf("invalid descriptor %q", rest)
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
			return -1, fmt.Errorf("descriptor %d: %w", fd, err)
		}
		return fd, nil
	}
	fd, err := unix.Open(id, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, &os.PathError{Op: "open", Path: id, Err: err}
	}
	return fd, nil
}

// Apply performs one state change on the calling process.
func Apply(c protocol.StateChange) error {
	switch c.Action {
	case protocol.ActionNone:
		return nil
	case protocol.ActionSignal:
		return applySignal(unix.Signal(c.Signum), c.Disposition)
	case protocol.ActionCloseFD:
		err := unix.Close(int(c.FD))
		if errors.Is(err, unix.EBADF) {
			return nil
		}
		return err
	case protocol.ActionDupFD:
		return dup(int(c.FD), int(c.NewFD))
	case protocol.ActionSetEnv:
		return os.Setenv(c.Name, c.Value)
	case protocol.ActionChdir:
		if err := unix.Chdir(c.Path); err != nil {
			return &os.PathError{Op: "chdir", Path: c.Path, Err: err}
		}
		return nil
	case protocol.ActionSetGID:
		return unix.Setgid(int(c.ID))
	case protocol.ActionSetUID:
		return unix.Setuid(int(c.ID))
	}
	return fmt.Errorf("unknown action %d", int32(c.Action))
}

func dup(oldFD, newFD int) error {
	if oldFD == newFD {
		// dup2 with equal descriptors only checks validity; keep the
		// descriptor across exec.
		if _, err := unix.FcntlInt(uintptr(oldFD), unix.F_SETFD, 0); err != nil {
			return fmt.Errorf("descriptor %d: %w", oldFD, err)
		}
		return nil
	}
	if err := dupOnto(oldFD, newFD); err != nil {
		return fmt.Errorf("dup %d onto %d: %w", oldFD, newFD, err)
	}
	return nil
}
