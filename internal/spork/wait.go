package spork

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Wait blocks until pid exits and returns its raw wait status. Children
// created by DirectSpawn, PrimedSpawn and FullDuplication are all reaped
// this way.
func Wait(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return ws, err
	}
}

// ExitCode flattens a wait status the way a shell does: the exit status for
// normal exits and 128+signal for signalled processes.
func ExitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}
