package spork

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spork/internal/protocol"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		in   string
		want Pattern
	}{
		{"", AutoDetect},
		{"auto", AutoDetect},
		{"fork-exec", ForkExec},
		{"FORKEXEC", ForkExec},
		{" worker ", Worker},
		{"snapshot", Snapshot},
	}
	for _, tt := range tests {
		got, err := ParsePattern(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePattern("clone")
	assert.Error(t, err)

	var p Pattern
	require.NoError(t, p.UnmarshalText([]byte("worker")))
	assert.Equal(t, Worker, p)
	b, _ := Snapshot.MarshalText()
	assert.Equal(t, "snapshot", string(b))
	assert.Equal(t, "pattern(9)", Pattern(9).String())
}

func TestNewContextCopiesHints(t *testing.T) {
	argv := []string{"echo", "hi"}
	changes := []protocol.StateChange{protocol.CloseFD(7)}
	h := Hints{
		Pattern: ForkExec,
		Target:  &ExecTarget{Path: "/bin/echo", Argv: argv},
		Changes: changes,
	}

	c, err := NewContext("abc", h, DefaultLimits())
	require.NoError(t, err)
	assert.True(t, c.HasPlannedExec())
	assert.Equal(t, "abc", c.ID)

	argv[1] = "mutated"
	changes[0] = protocol.CloseFD(9)
	h.Target.Path = "/bin/false"

	assert.Equal(t, []string{"echo", "hi"}, c.Target.Argv)
	assert.Equal(t, protocol.CloseFD(7), c.Changes[0])
	assert.Equal(t, "/bin/echo", c.Target.Path)
}

func TestNewContextDefaults(t *testing.T) {
	c, err := NewContext("x", Hints{}, Limits{})
	require.NoError(t, err)
	assert.False(t, c.HasPlannedExec())
	assert.NotNil(t, c.Changes)
	assert.Empty(t, c.Changes)
	assert.Equal(t, protocol.TargetDescriptor{}, c.Descriptor())

	c, err = NewContext("y", Hints{Target: &ExecTarget{Path: "/bin/true"}}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/true"}, c.Target.Argv)
	assert.Equal(t, protocol.TargetDescriptor{Path: "/bin/true", Argv: []string{"/bin/true"}}, c.Descriptor())
}

func TestNewContextLimits(t *testing.T) {
	lim := Limits{MaxChanges: 2, MaxArgs: 2}

	_, err := NewContext("x", Hints{Changes: make([]protocol.StateChange, 3)}, lim)
	assert.ErrorIs(t, err, ErrResourceExhausted)

	_, err = NewContext("x", Hints{Target: &ExecTarget{Path: "/bin/true", Argv: []string{"a", "b", "c"}}}, lim)
	assert.ErrorIs(t, err, ErrResourceExhausted)

	_, err = NewContext("x", Hints{Target: &ExecTarget{Path: ""}}, lim)
	assert.ErrorIs(t, err, ErrInvalidContext)

	_, err = NewContext("x", Hints{Changes: []protocol.StateChange{protocol.CloseFD(-3)}}, lim)
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestErrorKinds(t *testing.T) {
	err := Errorf(KindTransportUnavailable, "no space in %s", "/tmp")
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.NotErrorIs(t, err, ErrSpawnFailed)
	assert.Equal(t, "transport_unavailable: no space in /tmp", err.Error())

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.Equal(t, KindTransportUnavailable, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestSpawnFailedKeepsErrno(t *testing.T) {
	cause := fmt.Errorf("start /nope: %w", syscall.ENOENT)
	err := SpawnFailed(cause)
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.Equal(t, syscall.ENOENT, err.Errno)

	bare := SpawnFailed(errors.New("no errno"))
	assert.Zero(t, bare.Errno)
}

func TestObservers(t *testing.T) {
	var got []string
	obs := Observers{
		ObserverFunc(func(ev Event) { got = append(got, "a:"+ev.ID) }),
		nil,
		ObserverFunc(func(ev Event) { got = append(got, "b:"+ev.ErrorKind()) }),
	}
	obs.ObserveDispatch(Event{ID: "1", Err: ErrSpawnFailed})
	assert.Equal(t, []string{"a:1", "b:spawn_failed"}, got)

	Discard.ObserveDispatch(Event{})
	assert.False(t, Event{}.Failed())
	assert.Empty(t, Event{}.ErrorKind())
}
