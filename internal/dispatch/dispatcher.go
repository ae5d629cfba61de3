package dispatch

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/spork/internal/log"
	"github.com/mattjoyce/spork/internal/protocol"
	"github.com/mattjoyce/spork/internal/spork"
)

// Dispatcher routes duplication requests.
//
// Dispatch is safe for concurrent use. The SetNext*/Fork sequence is not:
// the stored hints belong to whichever Fork runs next, so callers that share
// a Dispatcher across goroutines must hold their own lock around the hint
// calls and the Fork that consumes them.
type Dispatcher struct {
	fast     FastPath
	forker   Forker
	observer spork.Observer
	logger   *slog.Logger
	limits   spork.Limits
	newID    func() string

	mu   sync.Mutex
	next spork.Hints
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver adds observers that receive one event per dispatch in the
// parent process.
func WithObserver(obs ...spork.Observer) Option {
	return func(d *Dispatcher) {
		if existing, ok := d.observer.(spork.Observers); ok {
			d.observer = append(existing, obs...)
			return
		}
		d.observer = spork.Observers(obs)
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l.With(slog.String("component", "dispatch")) }
}

// WithLimits bounds the contexts the dispatcher will build.
func WithLimits(l spork.Limits) Option {
	return func(d *Dispatcher) { d.limits = l }
}

// WithIDSource replaces the dispatch id generator.
func WithIDSource(f func() string) Option {
	return func(d *Dispatcher) { d.newID = f }
}

// New creates a Dispatcher over a fast path and a forker.
func New(fast FastPath, forker Forker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		fast:     fast,
		forker:   forker,
		observer: spork.Discard,
		logger:   log.WithComponent("dispatch"),
		limits:   spork.DefaultLimits(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetNextPattern declares the intent of the next Fork.
func (d *Dispatcher) SetNextPattern(p spork.Pattern) {
	d.mu.Lock()
	d.next.Pattern = p
	d.mu.Unlock()
}

// SetNextExecParams declares the program the next Fork's child will run.
// A nil env means the child inherits the environment at dispatch time.
func (d *Dispatcher) SetNextExecParams(path string, argv, env []string) {
	t := &spork.ExecTarget{Path: path, Argv: slices.Clone(argv), Env: slices.Clone(env)}
	d.mu.Lock()
	d.next.Target = t
	d.mu.Unlock()
}

// AddNextStateChange appends changes to apply in the next Fork's child
// before it execs, in order.
func (d *Dispatcher) AddNextStateChange(changes ...protocol.StateChange) {
	d.mu.Lock()
	d.next.Changes = append(d.next.Changes, changes...)
	d.mu.Unlock()
}

// takeHints returns the stored hints and resets them.
func (d *Dispatcher) takeHints() spork.Hints {
	d.mu.Lock()
	h := d.next
	d.next = spork.Hints{}
	d.mu.Unlock()
	return h
}

// Fork is the drop-in replacement for fork: the child's pid in the parent,
// 0 in a duplicated child, -1 and an error on failure. Stored hints are
// consumed whatever the outcome.
func (d *Dispatcher) Fork() (int, error) {
	res, err := d.Dispatch(context.Background(), d.takeHints())
	if err != nil {
		return -1, err
	}
	if res.InChild {
		return 0, nil
	}
	return res.PID, nil
}

// Dispatch builds a context from h and runs the selected strategy. ctx is
// consulted only before a primitive is invoked.
func (d *Dispatcher) Dispatch(ctx context.Context, h spork.Hints) (spork.Result, error) {
	start := time.Now()
	id := d.newID()

	c, err := spork.NewContext(id, h, d.limits)
	if err != nil {
		d.finish(id, h.Pattern, h.Target, len(h.Changes), spork.Result{PID: -1}, err, start)
		return spork.Result{PID: -1}, err
	}
	if err := ctx.Err(); err != nil {
		d.finish(id, c.Pattern, c.Target, len(c.Changes), spork.Result{PID: -1}, err, start)
		return spork.Result{PID: -1}, err
	}

	if c.Pattern == spork.ForkExec || c.HasPlannedExec() {
		var res spork.Result
		if !c.HasPlannedExec() {
			err = spork.Errorf(spork.KindInvalidContext, "fork-exec pattern without an exec target")
			res = spork.Result{PID: -1}
		} else {
			res, err = d.fast.Spawn(c)
		}
		d.finish(id, c.Pattern, c.Target, len(c.Changes), res, err, start)
		return res, err
	}

	pid, err := d.forker.Fork()
	if err == nil && pid == 0 {
		// Child of a full duplication: single-threaded, report nothing.
		return spork.Result{PID: 0, Strategy: spork.FullDuplication, InChild: true}, nil
	}
	res := spork.Result{PID: pid, Strategy: spork.FullDuplication}
	if err != nil {
		res.PID = -1
	}
	d.finish(id, c.Pattern, nil, len(c.Changes), res, err, start)
	return res, err
}

func (d *Dispatcher) finish(id string, p spork.Pattern, t *spork.ExecTarget, changes int, res spork.Result, err error, start time.Time) {
	ev := spork.Event{
		ID:       id,
		Pattern:  p,
		Strategy: res.Strategy,
		PID:      res.PID,
		Changes:  changes,
		Duration: time.Since(start),
		At:       start,
		Err:      err,
	}
	if t != nil {
		ev.Target = t.Path
	}

	if err != nil {
		d.logger.Warn("dispatch failed",
			"dispatch_id", id,
			"pattern", p.String(),
			"strategy", res.Strategy.String(),
			"error_kind", ev.ErrorKind(),
			"error", err,
		)
	} else {
		d.logger.Debug("dispatched",
			"dispatch_id", id,
			"pattern", p.String(),
			"strategy", res.Strategy.String(),
			"pid", res.PID,
			"duration", ev.Duration,
		)
	}
	d.observer.ObserveDispatch(ev)
}
