// Package primer implements the state-transfer path: it serializes the
// planned state changes and target into a private transport and starts the
// loader, which applies them to itself before exec.
package primer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/spork/internal/config"
	"github.com/mattjoyce/spork/internal/protocol"
	"github.com/mattjoyce/spork/internal/sigstate"
	"github.com/mattjoyce/spork/internal/spawn"
	"github.com/mattjoyce/spork/internal/spork"
	"github.com/mattjoyce/spork/internal/transport"
)

// LoaderName is the executable looked up when no loader path is configured.
const LoaderName = "spork-primer"

// Config controls loader resolution and the transport.
type Config struct {
	LoaderPath     string
	LoaderChecksum string
	Transport      transport.Kind
	TransportDir   string
}

// ConfigFrom maps the dispatcher section of the file config.
func ConfigFrom(c config.DispatcherConfig) Config {
	return Config{
		LoaderPath:     c.LoaderPath,
		LoaderChecksum: c.LoaderChecksum,
		Transport:      transport.Kind(c.Transport),
		TransportDir:   c.TransportDir,
	}
}

// Primer starts the loader with a serialized payload.
type Primer struct {
	cfg     Config
	spawner Spawner
	logger  *slog.Logger

	open func(transport.Kind, string) (*transport.Channel, error)
	// inherited reports the caller's signal state, which the loader's own
	// runtime would otherwise lose on the way to the target.
	inherited func() ([]protocol.StateChange, error)

	mu       sync.Mutex
	verified pinnedFile
}

// pinnedFile remembers the last loader binary whose checksum matched.
type pinnedFile struct {
	path    string
	size    int64
	modTime time.Time
}

// New creates a Primer.
func New(cfg Config, spawner Spawner, logger *slog.Logger) *Primer {
	return &Primer{
		cfg:       cfg,
		spawner:   spawner,
		logger:    logger.With(slog.String("component", "primer")),
		open:      transport.Open,
		inherited: sigstate.Inherited,
	}
}

// Launch starts the loader for c and returns its pid. env is the
// environment the loader, and therefore the target, starts with.
func (p *Primer) Launch(c *spork.Context, env []string) (int, error) {
	if c == nil || c.Target == nil {
		return -1, spork.Errorf(spork.KindInvalidContext, "primed spawn without a target")
	}
	// The blocked mask is per thread; read it on the thread that spawns.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	inherited, err := p.inherited()
	if err != nil {
		return -1, spork.Wrap(spork.KindStateTransferFailed, err)
	}
	// Inherited state goes first so the caller's changes still win.
	changes := append(inherited, c.Changes...)
	payload := &protocol.Payload{Changes: changes, Target: c.Descriptor()}
	if err := payload.Validate(); err != nil {
		return -1, spork.Wrap(spork.KindInvalidContext, err)
	}

	loader, err := p.loader()
	if err != nil {
		return -1, err
	}

	ch, err := p.open(p.cfg.Transport, p.cfg.TransportDir)
	if err != nil {
		return -1, spork.Wrap(spork.KindTransportUnavailable, err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			p.logger.Warn("failed to release transport", "transport", ch.Name(), "error", err)
		}
	}()

	if err := protocol.Encode(ch.Writer(), payload); err != nil {
		return -1, spork.Wrap(spork.KindStateTransferFailed, err)
	}
	if err := ch.Rewind(); err != nil {
		return -1, spork.Wrap(spork.KindStateTransferFailed, err)
	}

	pid, err := p.spawner.Spawn(spawn.Request{
		Path:  loader,
		Argv:  []string{loader, transport.ID()},
		Env:   env,
		Files: []*os.File{ch.File()},
	})
	if err != nil {
		return -1, spork.SpawnFailed(fmt.Errorf("start loader %s: %w", loader, err))
	}

	p.logger.Debug("loader started",
		"dispatch_id", c.ID,
		"pid", pid,
		"target", c.Target.Path,
		"changes", len(c.Changes),
		"inherited", len(inherited),
		"transport", string(ch.Kind()),
	)
	return pid, nil
}

// loader resolves the loader path and enforces the checksum pin.
func (p *Primer) loader() (string, error) {
	path, err := ResolveLoader(p.cfg.LoaderPath)
	if err != nil {
		return "", spork.SpawnFailed(err)
	}
	if p.cfg.LoaderChecksum == "" {
		return path, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", spork.SpawnFailed(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified.path == path && p.verified.size == info.Size() && p.verified.modTime.Equal(info.ModTime()) {
		return path, nil
	}
	if err := config.VerifyFileHash(path, p.cfg.LoaderChecksum); err != nil {
		e := spork.SpawnFailed(err)
		if errors.Is(err, config.ErrHashMismatch) {
			e.Errno = syscall.EACCES
			p.logger.Error("loader checksum mismatch", "loader", path, "error", err)
		}
		return "", e
	}
	p.verified = pinnedFile{path: path, size: info.Size(), modTime: info.ModTime()}
	return path, nil
}

// ResolveLoader finds the loader executable: the configured path, then
// spork-primer next to the running binary, then spork-primer on $PATH.
func ResolveLoader(configured string) (string, error) {
	if configured != "" {
		if err := checkExecutable(configured); err != nil {
			return "", err
		}
		return filepath.Abs(configured)
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), LoaderName)
		if checkExecutable(sibling) == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath(LoaderName)
	if err != nil {
		return "", fmt.Errorf("loader %s not found: %w", LoaderName, syscall.ENOENT)
	}
	return filepath.Abs(path)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &os.PathError{Op: "exec", Path: path, Err: syscall.EISDIR}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return &os.PathError{Op: "exec", Path: path, Err: syscall.EACCES}
	}
	return nil
}
