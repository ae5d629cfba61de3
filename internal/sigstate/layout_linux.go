//go:build linux && !mips && !mipsle && !mips64 && !mips64le

package sigstate

const (
	handlerIndex = 0
	sigsetBytes  = 8
	maxSignal    = 64
)
