package primer

import "github.com/mattjoyce/spork/internal/spawn"

//go:generate mockgen -destination=mocks/mock_spawner.go -package=mocks github.com/mattjoyce/spork/internal/primer Spawner

// Spawner starts the loader process.
type Spawner interface {
	Spawn(req spawn.Request) (int, error)
}
