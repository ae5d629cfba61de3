// Package facade is the fast path for dispatches that will end in exec. A
// context with no pending state changes goes straight to the spawn
// primitive; anything else goes through the primer.
package facade

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattjoyce/spork/internal/spawn"
	"github.com/mattjoyce/spork/internal/spork"
)

// Facade picks between DirectSpawn and PrimedSpawn.
type Facade struct {
	spawner  Spawner
	launcher Launcher
	logger   *slog.Logger
}

// New creates a Facade.
func New(spawner Spawner, launcher Launcher, logger *slog.Logger) *Facade {
	return &Facade{
		spawner:  spawner,
		launcher: launcher,
		logger:   logger.With(slog.String("component", "facade")),
	}
}

// Spawn starts c's target. The returned pid belongs to a process that is
// already running the target (DirectSpawn) or the loader (PrimedSpawn).
func (f *Facade) Spawn(c *spork.Context) (spork.Result, error) {
	if c == nil || c.Target == nil {
		return spork.Result{PID: -1}, spork.Errorf(spork.KindInvalidContext, "fast path needs a planned exec target")
	}

	env := c.Target.Env
	if env == nil {
		env = os.Environ()
	}

	if len(c.Changes) == 0 {
		pid, err := f.spawner.Spawn(spawn.Request{
			Path: c.Target.Path,
			Argv: c.Target.Argv,
			Env:  env,
		})
		if err != nil {
			return spork.Result{PID: -1, Strategy: spork.DirectSpawn},
				spork.SpawnFailed(fmt.Errorf("spawn %s: %w", c.Target.Path, err))
		}
		f.logger.Debug("direct spawn", "dispatch_id", c.ID, "pid", pid, "target", c.Target.Path)
		return spork.Result{PID: pid, Strategy: spork.DirectSpawn}, nil
	}

	pid, err := f.launcher.Launch(c, env)
	if err != nil {
		return spork.Result{PID: -1, Strategy: spork.PrimedSpawn}, err
	}
	f.logger.Debug("primed spawn", "dispatch_id", c.ID, "pid", pid, "target", c.Target.Path, "changes", len(c.Changes))
	return spork.Result{PID: pid, Strategy: spork.PrimedSpawn}, nil
}
