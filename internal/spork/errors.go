package spork

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorKind classifies dispatch failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindInvalidContext is an internal invariant violation.
	KindInvalidContext
	// KindResourceExhausted: the context or its argument copies could not be built.
	KindResourceExhausted
	// KindTransportUnavailable: the private loader channel could not be created.
	KindTransportUnavailable
	// KindStateTransferFailed: writing the payload failed; nothing was spawned.
	KindStateTransferFailed
	// KindSpawnFailed: the native spawn primitive failed. Errno is preserved.
	KindSpawnFailed
	// KindLoaderMalformedInput is only observed as the loader's exit status.
	KindLoaderMalformedInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidContext:
		return "invalid_context"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindTransportUnavailable:
		return "transport_unavailable"
	case KindStateTransferFailed:
		return "state_transfer_failed"
	case KindSpawnFailed:
		return "spawn_failed"
	case KindLoaderMalformedInput:
		return "loader_malformed_input"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrInvalidContext       = &Error{Kind: KindInvalidContext}
	ErrResourceExhausted    = &Error{Kind: KindResourceExhausted}
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrStateTransferFailed  = &Error{Kind: KindStateTransferFailed}
	ErrSpawnFailed          = &Error{Kind: KindSpawnFailed}
	ErrLoaderMalformedInput = &Error{Kind: KindLoaderMalformedInput}
)

// Error is a classified dispatch failure.
type Error struct {
	Kind  ErrorKind
	Errno syscall.Errno
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Errno != 0 && (e.Err == nil || !errors.Is(e.Err, e.Errno)) {
		msg += fmt.Sprintf(" (errno %d: %s)", int(e.Errno), e.Errno.Error())
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so callers can test against the
// package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Wrap classifies err. A nil err still yields a non-nil *Error.
func Wrap(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// SpawnFailed classifies a spawn error and keeps its native errno.
func SpawnFailed(err error) *Error {
	e := &Error{Kind: KindSpawnFailed, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	return e
}

// KindOf returns the kind of err, or KindUnknown when err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
