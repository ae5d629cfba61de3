package facade

import (
	"github.com/mattjoyce/spork/internal/spawn"
	"github.com/mattjoyce/spork/internal/spork"
)

//go:generate mockgen -destination=mocks/mock_facade.go -package=mocks github.com/mattjoyce/spork/internal/facade Spawner,Launcher

// Spawner runs the direct create-and-exec primitive.
type Spawner interface {
	Spawn(req spawn.Request) (int, error)
}

// Launcher runs the state-transfer path.
type Launcher interface {
	Launch(c *spork.Context, env []string) (int, error)
}
