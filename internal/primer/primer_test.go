package primer

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spork/internal/config"
	"github.com/mattjoyce/spork/internal/loader"
	"github.com/mattjoyce/spork/internal/primer/mocks"
	"github.com/mattjoyce/spork/internal/protocol"
	"github.com/mattjoyce/spork/internal/spawn"
	"github.com/mattjoyce/spork/internal/spork"
	"github.com/mattjoyce/spork/internal/transport"
)

const asLoaderEnv = "SPORK_TEST_AS_LOADER"

func TestMain(m *testing.M) {
	if os.Getenv(asLoaderEnv) == "1" {
		runtime.LockOSThread()
		os.Exit(loader.Main(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// fakeLoader writes an executable file to stand in for spork-primer.
func fakeLoader(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), LoaderName)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return p
}

func newContext(t *testing.T, changes ...protocol.StateChange) *spork.Context {
	t.Helper()
	c, err := spork.NewContext("test", spork.Hints{
		Pattern: spork.ForkExec,
		Target:  &spork.ExecTarget{Path: "/bin/echo", Argv: []string{"echo", "hi"}},
		Changes: changes,
	}, spork.DefaultLimits())
	require.NoError(t, err)
	return c
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "transport files leaked in %s", dir)
}

func TestLaunchTransfersPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loaderPath := fakeLoader(t)
	dir := t.TempDir()
	spawner := mocks.NewMockSpawner(ctrl)
	logger, _ := newTestLogger()
	p := New(Config{LoaderPath: loaderPath, TransportDir: dir}, spawner, logger)
	p.inherited = func() ([]protocol.StateChange, error) {
		return []protocol.StateChange{protocol.Signal(syscall.SIGTERM, protocol.DispositionIgnore)}, nil
	}

	c := newContext(t, protocol.CloseFD(1))
	env := []string{"A=1"}

	spawner.EXPECT().Spawn(gomock.Any()).DoAndReturn(func(req spawn.Request) (int, error) {
		assert.Equal(t, loaderPath, req.Path)
		assert.Equal(t, []string{loaderPath, "fd:3"}, req.Argv)
		assert.Equal(t, env, req.Env)
		require.Len(t, req.Files, 1)

		data, err := io.ReadAll(req.Files[0])
		require.NoError(t, err)
		got, err := protocol.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, []protocol.StateChange{
			protocol.Signal(syscall.SIGTERM, protocol.DispositionIgnore),
			protocol.CloseFD(1),
		}, got.Changes, "inherited state goes ahead of the caller's changes")
		assert.Equal(t, protocol.TargetDescriptor{Path: "/bin/echo", Argv: []string{"echo", "hi"}}, got.Target)
		return 4242, nil
	})

	pid, err := p.Launch(c, env)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
	assertEmptyDir(t, dir)
	assert.Equal(t, []protocol.StateChange{protocol.CloseFD(1)}, c.Changes, "context must not be mutated")
}

func TestLaunchInheritedStateFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	logger, _ := newTestLogger()
	p := New(Config{LoaderPath: fakeLoader(t), TransportDir: dir}, mocks.NewMockSpawner(ctrl), logger)
	p.inherited = func() ([]protocol.StateChange, error) { return nil, syscall.EINVAL }

	_, err := p.Launch(newContext(t, protocol.NoOp()), nil)
	assert.ErrorIs(t, err, spork.ErrStateTransferFailed)
	assertEmptyDir(t, dir)
}

func TestLaunchNeverLeaksTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	spawner := mocks.NewMockSpawner(ctrl)
	logger, _ := newTestLogger()
	p := New(Config{LoaderPath: fakeLoader(t), TransportDir: dir}, spawner, logger)
	c := newContext(t, protocol.SetEnv("X", "y"))

	gomock.InOrder(
		spawner.EXPECT().Spawn(gomock.Any()).Return(100, nil).Times(25),
		spawner.EXPECT().Spawn(gomock.Any()).Return(0, syscall.EAGAIN).Times(25),
	)

	for i := 0; i < 50; i++ {
		_, err := p.Launch(c, nil)
		if i >= 25 {
			require.Error(t, err)
			assert.ErrorIs(t, err, spork.ErrSpawnFailed)
			var se *spork.Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, syscall.EAGAIN, se.Errno)
		}
	}
	assertEmptyDir(t, dir)
}

func TestLaunchTransportUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	spawner := mocks.NewMockSpawner(ctrl)
	logger, _ := newTestLogger()
	p := New(Config{LoaderPath: fakeLoader(t), TransportDir: filepath.Join(t.TempDir(), "missing")}, spawner, logger)

	_, err := p.Launch(newContext(t, protocol.NoOp()), nil)
	assert.ErrorIs(t, err, spork.ErrTransportUnavailable)
}

func TestLaunchStateTransferFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dir := t.TempDir()
	spawner := mocks.NewMockSpawner(ctrl)
	logger, logBuf := newTestLogger()
	p := New(Config{LoaderPath: fakeLoader(t), TransportDir: dir}, spawner, logger)
	p.open = func(k transport.Kind, d string) (*transport.Channel, error) {
		ch, err := transport.Open(k, d)
		if err == nil {
			_ = ch.File().Close()
		}
		return ch, err
	}

	_, err := p.Launch(newContext(t, protocol.NoOp()), nil)
	assert.ErrorIs(t, err, spork.ErrStateTransferFailed)
	assertEmptyDir(t, dir)
	assert.Contains(t, logBuf.String(), "failed to release transport")
}

func TestLaunchRejectsMissingTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger, _ := newTestLogger()
	p := New(Config{}, mocks.NewMockSpawner(ctrl), logger)

	_, err := p.Launch(&spork.Context{Changes: []protocol.StateChange{protocol.NoOp()}}, nil)
	assert.ErrorIs(t, err, spork.ErrInvalidContext)
	_, err = p.Launch(nil, nil)
	assert.ErrorIs(t, err, spork.ErrInvalidContext)
}

func TestLaunchMissingLoader(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger, _ := newTestLogger()
	p := New(Config{LoaderPath: filepath.Join(t.TempDir(), "nope")}, mocks.NewMockSpawner(ctrl), logger)

	_, err := p.Launch(newContext(t, protocol.NoOp()), nil)
	require.ErrorIs(t, err, spork.ErrSpawnFailed)
	var se *spork.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, syscall.ENOENT, se.Errno)
}

func TestLaunchLoaderChecksum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loaderPath := fakeLoader(t)
	sum, err := config.ComputeBlake3Hash(loaderPath)
	require.NoError(t, err)

	spawner := mocks.NewMockSpawner(ctrl)
	logger, logBuf := newTestLogger()

	pinned := New(Config{LoaderPath: loaderPath, LoaderChecksum: sum, TransportDir: t.TempDir()}, spawner, logger)
	spawner.EXPECT().Spawn(gomock.Any()).Return(7, nil).Times(2)
	for range 2 {
		pid, err := pinned.Launch(newContext(t, protocol.NoOp()), nil)
		require.NoError(t, err)
		assert.Equal(t, 7, pid)
	}

	wrong := New(Config{LoaderPath: loaderPath, LoaderChecksum: strings.Repeat("ab", 32), TransportDir: t.TempDir()}, spawner, logger)
	_, err = wrong.Launch(newContext(t, protocol.NoOp()), nil)
	require.ErrorIs(t, err, spork.ErrSpawnFailed)
	var se *spork.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, syscall.EACCES, se.Errno)
	assert.Contains(t, logBuf.String(), "loader checksum mismatch")
}

func TestResolveLoader(t *testing.T) {
	exe := fakeLoader(t)
	got, err := ResolveLoader(exe)
	require.NoError(t, err)
	assert.Equal(t, exe, got)

	plain := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(plain, nil, 0o644))
	_, err = ResolveLoader(plain)
	assert.ErrorIs(t, err, syscall.EACCES)

	_, err = ResolveLoader(t.TempDir())
	assert.ErrorIs(t, err, syscall.EISDIR)

	t.Setenv("PATH", filepath.Dir(exe))
	got, err = ResolveLoader("")
	require.NoError(t, err)
	assert.Equal(t, exe, got)

	t.Setenv("PATH", t.TempDir())
	_, err = ResolveLoader("")
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.DispatcherConfig{
		LoaderPath:     "/opt/spork-primer",
		LoaderChecksum: "abc",
		Transport:      "memfd",
		TransportDir:   "/run/spork",
	})
	assert.Equal(t, Config{
		LoaderPath:     "/opt/spork-primer",
		LoaderChecksum: "abc",
		Transport:      transport.KindMemfd,
		TransportDir:   "/run/spork",
	}, cfg)
}

// TestPrimedSpawnEndToEnd runs the real loader (this test binary) and a real
// target.
func TestPrimedSpawnEndToEnd(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	for _, kind := range []transport.Kind{transport.KindFile, transport.KindMemfd} {
		t.Run(string(kind), func(t *testing.T) {
			if kind == transport.KindMemfd && !transport.MemfdSupported() {
				t.Skip("memfd not supported")
			}
			r, w, err := os.Pipe()
			require.NoError(t, err)
			defer r.Close()

			dir := t.TempDir()
			logger, _ := newTestLogger()
			p := New(Config{LoaderPath: os.Args[0], Transport: kind, TransportDir: dir},
				&spawn.Native{Stdout: w, Stderr: os.Stderr}, logger)

			c, err := spork.NewContext("e2e", spork.Hints{
				Pattern: spork.ForkExec,
				Target:  &spork.ExecTarget{Path: "/bin/sh", Argv: []string{"sh", "-c", `echo "$SPORK_PRIMED"`}},
				Changes: []protocol.StateChange{protocol.SetEnv("SPORK_PRIMED", "yes")},
			}, spork.DefaultLimits())
			require.NoError(t, err)

			pid, err := p.Launch(c, append(os.Environ(), asLoaderEnv+"=1"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			out, err := io.ReadAll(r)
			require.NoError(t, err)
			ws, err := spork.Wait(pid)
			require.NoError(t, err)

			assert.Equal(t, 0, spork.ExitCode(ws))
			assert.Equal(t, "yes\n", string(out))
			assertEmptyDir(t, dir)
		})
	}
}
