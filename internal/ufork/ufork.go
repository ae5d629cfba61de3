// Package ufork is the full-duplication fallback: a real fork of the calling
// process, for callers that need the child to keep running their own code.
//
// A forked Go process has exactly one thread in the child. The runtime's
// other threads (scheduler, GC workers, timers) do not exist there, so the
// child must do only a small amount of straight-line work and then call
// exec or exit. Anything that waits on another thread, including a garbage
// collection cycle, will hang.
package ufork

// Native is the platform fork.
type Native struct{}

// Fork invokes the fork primitive exactly once. It returns the child's pid in
// the parent and 0 in the child. On failure it returns -1 and the native
// errno (a syscall.Errno) unaltered.
func (Native) Fork() (int, error) {
	return fork()
}

// Supported reports whether Fork can succeed on this platform.
func Supported() bool { return supported }
