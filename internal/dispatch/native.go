package dispatch

import (
	"log/slog"

	"github.com/mattjoyce/spork/internal/config"
	"github.com/mattjoyce/spork/internal/facade"
	"github.com/mattjoyce/spork/internal/primer"
	"github.com/mattjoyce/spork/internal/spawn"
	"github.com/mattjoyce/spork/internal/spork"
	"github.com/mattjoyce/spork/internal/ufork"
)

// NewNative wires a Dispatcher to the real primitives: os.StartProcess for
// the fast path, the spork-primer loader for primed spawns, and fork for
// full duplication. spawner may be nil to share the caller's stdio.
func NewNative(cfg config.DispatcherConfig, spawner *spawn.Native, logger *slog.Logger, opts ...Option) *Dispatcher {
	if spawner == nil {
		spawner = spawn.NewNative()
	}
	p := primer.New(primer.ConfigFrom(cfg), spawner, logger)
	f := facade.New(spawner, p, logger)

	base := []Option{
		WithLogger(logger),
		WithLimits(spork.Limits{MaxChanges: cfg.MaxChanges, MaxArgs: cfg.MaxArgs}),
	}
	return New(f, ufork.Native{}, append(base, opts...)...)
}
