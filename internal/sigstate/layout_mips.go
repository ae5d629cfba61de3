//go:build linux && (mips || mipsle || mips64 || mips64le)

package sigstate

// MIPS puts sa_flags first and has a 128-signal sigset.
const (
	handlerIndex = 1
	sigsetBytes  = 16
	maxSignal    = 64
)
