// Package spork holds the domain types shared by the dispatcher and its
// strategies: the duplication pattern, the per-call context, results, error
// kinds and the observer contract.
package spork

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/spork/internal/protocol"
)

// Pattern is the caller's declared intent for a duplication request.
type Pattern int

const (
	// AutoDetect is used when no hint was supplied.
	AutoDetect Pattern = iota
	// ForkExec: the child will replace its image with another program.
	ForkExec
	// Worker: the child keeps running parent code.
	Worker
	// Snapshot: the child inspects a point-in-time copy of parent memory.
	Snapshot
)

var patternNames = []string{"auto", "fork-exec", "worker", "snapshot"}

func (p Pattern) String() string {
	if p >= AutoDetect && int(p) < len(patternNames) {
		return patternNames[p]
	}
	return fmt.Sprintf("pattern(%d)", int(p))
}

// ParsePattern accepts the names printed by String plus a few aliases.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "autodetect", "auto-detect":
		return AutoDetect, nil
	case "fork-exec", "forkexec", "exec":
		return ForkExec, nil
	case "worker":
		return Worker, nil
	case "snapshot":
		return Snapshot, nil
	}
	return AutoDetect, fmt.Errorf("unknown pattern %q (want auto, fork-exec, worker or snapshot)", s)
}

func (p Pattern) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Pattern) UnmarshalText(b []byte) error {
	v, err := ParsePattern(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Strategy is the path a dispatch actually took.
type Strategy int

const (
	StrategyNone Strategy = iota
	DirectSpawn
	PrimedSpawn
	FullDuplication
)

func (s Strategy) String() string {
	switch s {
	case DirectSpawn:
		return "direct-spawn"
	case PrimedSpawn:
		return "primed-spawn"
	case FullDuplication:
		return "full-duplication"
	default:
		return "none"
	}
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ExecTarget is the program a fork-exec caller plans to run. A nil Env means
// the child inherits the caller's environment at dispatch time.
type ExecTarget struct {
	Path string   `json:"path"`
	Argv []string `json:"argv,omitempty"`
	Env  []string `json:"env,omitempty"`
}

// Hints is what a caller knows about the next duplication.
type Hints struct {
	Pattern Pattern                `json:"pattern"`
	Target  *ExecTarget            `json:"target,omitempty"`
	Changes []protocol.StateChange `json:"changes,omitempty"`
}

// Limits bound the size of a single context.
type Limits struct {
	MaxChanges int
	MaxArgs    int
}

// DefaultLimits are the wire limits.
func DefaultLimits() Limits {
	return Limits{MaxChanges: protocol.MaxChanges, MaxArgs: protocol.MaxArgs}
}

// Context is built once per dispatch call and owned by that call. Its target
// and change list are private copies of the caller's hints.
type Context struct {
	ID      string
	Pattern Pattern
	Target  *ExecTarget
	Changes []protocol.StateChange
	Created time.Time
}

// HasPlannedExec is true iff a target is present.
func (c *Context) HasPlannedExec() bool { return c.Target != nil }

// Descriptor returns the wire form of the planned target.
func (c *Context) Descriptor() protocol.TargetDescriptor {
	if c.Target == nil {
		return protocol.TargetDescriptor{}
	}
	return protocol.TargetDescriptor{Path: c.Target.Path, Argv: c.Target.Argv}
}

// NewContext copies h into a fresh Context. Oversized hints fail with
// ResourceExhausted; hints that could never be transported fail with
// InvalidContext.
func NewContext(id string, h Hints, lim Limits) (*Context, error) {
	if lim.MaxChanges <= 0 || lim.MaxChanges > protocol.MaxChanges {
		lim.MaxChanges = protocol.MaxChanges
	}
	if lim.MaxArgs <= 0 || lim.MaxArgs > protocol.MaxArgs {
		lim.MaxArgs = protocol.MaxArgs
	}

	if len(h.Changes) > lim.MaxChanges {
		return nil, Errorf(KindResourceExhausted, "%d state changes exceeds limit %d", len(h.Changes), lim.MaxChanges)
	}
	for i, ch := range h.Changes {
		if err := ch.Validate(); err != nil {
			return nil, Wrap(KindInvalidContext, fmt.Errorf("change[%d]: %w", i, err))
		}
	}

	c := &Context{
		ID:      id,
		Pattern: h.Pattern,
		Changes: slices.Clone(h.Changes),
		Created: time.Now(),
	}
	if c.Changes == nil {
		c.Changes = []protocol.StateChange{}
	}

	if h.Target != nil {
		if len(h.Target.Argv) > lim.MaxArgs || len(h.Target.Env) > lim.MaxArgs {
			return nil, Errorf(KindResourceExhausted, "argument or environment vector exceeds limit %d", lim.MaxArgs)
		}
		t := &ExecTarget{
			Path: h.Target.Path,
			Argv: slices.Clone(h.Target.Argv),
			Env:  slices.Clone(h.Target.Env),
		}
		if len(t.Argv) == 0 {
			t.Argv = []string{t.Path}
		}
		if err := (protocol.TargetDescriptor{Path: t.Path, Argv: t.Argv}).Validate(); err != nil {
			return nil, Wrap(KindInvalidContext, err)
		}
		c.Target = t
	}
	return c, nil
}

// Result replaces the native duplication call's return value. InChild is set
// only on the child side of a FullDuplication.
type Result struct {
	PID      int      `json:"pid"`
	Strategy Strategy `json:"strategy"`
	InChild  bool     `json:"-"`
}
