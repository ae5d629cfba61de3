package protocol

import (
	"fmt"
	"strings"
	"syscall"
)

// Action tags a StateChange. The numeric values are the wire tags.
type Action int32

const (
	ActionNone Action = iota
	ActionSignal
	ActionCloseFD
	ActionDupFD
	ActionSetEnv
	ActionChdir
	ActionSetUID
	ActionSetGID
)

var actionNames = map[Action]string{
	ActionNone:    "none",
	ActionSignal:  "signal",
	ActionCloseFD: "close_fd",
	ActionDupFD:   "dup_fd",
	ActionSetEnv:  "setenv",
	ActionChdir:   "chdir",
	ActionSetUID:  "setuid",
	ActionSetGID:  "setgid",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int32(a))
}

// Valid reports whether a is a known tag.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("unknown action %d", int32(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	want := strings.ToLower(strings.TrimSpace(string(b)))
	for tag, name := range actionNames {
		if name == want {
			*a = tag
			return nil
		}
	}
	return fmt.Errorf("unknown action %q", string(b))
}

// Disposition is the signal behaviour a loader installs before exec. Handler
// addresses are meaningless in the replaced image, so only these named
// dispositions travel over the wire.
type Disposition int32

const (
	DispositionDefault Disposition = iota
	DispositionIgnore
	DispositionBlock
)

func (d Disposition) String() string {
	switch d {
	case DispositionDefault:
		return "default"
	case DispositionIgnore:
		return "ignore"
	case DispositionBlock:
		return "block"
	default:
		return fmt.Sprintf("disposition(%d)", int32(d))
	}
}

func (d Disposition) MarshalText() ([]byte, error) {
	if d < DispositionDefault || d > DispositionBlock {
		return nil, fmt.Errorf("unknown disposition %d", int32(d))
	}
	return []byte(d.String()), nil
}

func (d *Disposition) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "default", "dfl":
		*d = DispositionDefault
	case "ignore", "ign":
		*d = DispositionIgnore
	case "block":
		*d = DispositionBlock
	default:
		return fmt.Errorf("unknown disposition %q", string(b))
	}
	return nil
}

// StateChange is a single mutation applied to the new process before it
// replaces its image. Only the fields relevant to Action are meaningful.
type StateChange struct {
	Action Action `json:"action"`

	FD    int32 `json:"fd,omitempty"`     // close_fd, and the source of dup_fd
	NewFD int32 `json:"new_fd,omitempty"` // dup_fd target

	Signum      int32       `json:"signum,omitempty"`
	Disposition Disposition `json:"disposition,omitempty"`

	Name  string `json:"name,omitempty"`  // setenv
	Value string `json:"value,omitempty"` // setenv
	Path  string `json:"path,omitempty"`  // chdir

	ID uint32 `json:"id,omitempty"` // setuid / setgid
}

func NoOp() StateChange { return StateChange{Action: ActionNone} }

func CloseFD(fd int) StateChange {
	return StateChange{Action: ActionCloseFD, FD: int32(fd)}
}

func DupFD(oldFD, newFD int) StateChange {
	return StateChange{Action: ActionDupFD, FD: int32(oldFD), NewFD: int32(newFD)}
}

func Signal(sig syscall.Signal, d Disposition) StateChange {
	return StateChange{Action: ActionSignal, Signum: int32(sig), Disposition: d}
}

func SetEnv(name, value string) StateChange {
	return StateChange{Action: ActionSetEnv, Name: name, Value: value}
}

func Chdir(path string) StateChange {
	return StateChange{Action: ActionChdir, Path: path}
}

func SetUID(uid uint32) StateChange {
	return StateChange{Action: ActionSetUID, ID: uid}
}

func SetGID(gid uint32) StateChange {
	return StateChange{Action: ActionSetGID, ID: gid}
}

func (c StateChange) String() string {
	switch c.Action {
	case ActionCloseFD:
		return fmt.Sprintf("close_fd(%d)", c.FD)
	case ActionDupFD:
		return fmt.Sprintf("dup_fd(%d->%d)", c.FD, c.NewFD)
	case ActionSignal:
		return fmt.Sprintf("signal(%d,%s)", c.Signum, c.Disposition)
	case ActionSetEnv:
		return fmt.Sprintf("setenv(%s)", c.Name)
	case ActionChdir:
		return fmt.Sprintf("chdir(%s)", c.Path)
	case ActionSetUID:
		return fmt.Sprintf("setuid(%d)", c.ID)
	case ActionSetGID:
		return fmt.Sprintf("setgid(%d)", c.ID)
	default:
		return c.Action.String()
	}
}

// Validate checks that c can be encoded and applied.
func (c StateChange) Validate() error {
	switch c.Action {
	case ActionNone, ActionSetUID, ActionSetGID:
		return nil
	case ActionCloseFD:
		if c.FD < 0 {
			return fmt.Errorf("close_fd: negative descriptor %d", c.FD)
		}
	case ActionDupFD:
		if c.FD < 0 || c.NewFD < 0 {
			return fmt.Errorf("dup_fd: negative descriptor %d->%d", c.FD, c.NewFD)
		}
	case ActionSignal:
		if c.Signum < 1 || c.Signum >= maxSignal {
			return fmt.Errorf("signal: number %d out of range", c.Signum)
		}
		if c.Disposition < DispositionDefault || c.Disposition > DispositionBlock {
			return fmt.Errorf("signal: unknown disposition %d", int32(c.Disposition))
		}
		if c.Disposition != DispositionBlock &&
			(syscall.Signal(c.Signum) == syscall.SIGKILL || syscall.Signal(c.Signum) == syscall.SIGSTOP) {
			return fmt.Errorf("signal: disposition of %v cannot be changed", syscall.Signal(c.Signum))
		}
	case ActionSetEnv:
		if c.Name == "" || strings.ContainsRune(c.Name, '=') {
			return fmt.Errorf("setenv: invalid name %q", c.Name)
		}
		if err := checkString("setenv name", c.Name); err != nil {
			return err
		}
		return checkString("setenv value", c.Value)
	case ActionChdir:
		if c.Path == "" {
			return fmt.Errorf("chdir: empty path")
		}
		return checkString("chdir path", c.Path)
	default:
		return fmt.Errorf("unknown action tag %d", int32(c.Action))
	}
	return nil
}

// TargetDescriptor names the program the loader replaces itself with.
type TargetDescriptor struct {
	Path string   `json:"path"`
	Argv []string `json:"argv"`
}

// Validate checks the descriptor against the wire limits.
func (t TargetDescriptor) Validate() error {
	if t.Path == "" {
		return fmt.Errorf("target: empty program path")
	}
	if err := checkString("target path", t.Path); err != nil {
		return err
	}
	if len(t.Argv) > MaxArgs {
		return fmt.Errorf("target: %d arguments exceeds limit %d", len(t.Argv), MaxArgs)
	}
	for i, arg := range t.Argv {
		if err := checkString(fmt.Sprintf("argv[%d]", i), arg); err != nil {
			return err
		}
	}
	return nil
}

// Payload is everything a loader needs: the ordered changes and the target.
type Payload struct {
	Changes []StateChange
	Target  TargetDescriptor
}

// Validate checks every change and the target descriptor.
func (p *Payload) Validate() error {
	if len(p.Changes) > MaxChanges {
		return fmt.Errorf("%d state changes exceeds limit %d", len(p.Changes), MaxChanges)
	}
	for i, c := range p.Changes {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("change[%d]: %w", i, err)
		}
	}
	return p.Target.Validate()
}

func checkString(what, s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%s: %d bytes exceeds limit %d", what, len(s), MaxStringLen)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%s: embedded NUL byte", what)
	}
	return nil
}
