package dispatch

import "github.com/mattjoyce/spork/internal/spork"

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/spork/internal/dispatch FastPath,Forker

// FastPath starts a context's planned exec target without duplicating the
// caller.
type FastPath interface {
	Spawn(c *spork.Context) (spork.Result, error)
}

// Forker duplicates the calling process.
type Forker interface {
	Fork() (int, error)
}
