// Package doctor checks that a spork configuration can actually dispatch on
// this host.
package doctor

import (
	"fmt"
	"net"

	"github.com/mattjoyce/spork/internal/config"
	"github.com/mattjoyce/spork/internal/primer"
	"github.com/mattjoyce/spork/internal/storage"
	"github.com/mattjoyce/spork/internal/transport"
	"github.com/mattjoyce/spork/internal/ufork"
)

// Result holds the outcome of a check run.
type Result struct {
	Valid    bool    `json:"valid"`
	Loader   string  `json:"loader,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor runs host checks against a loaded config.
type Doctor struct {
	cfg *config.Config

	// Swappable for tests.
	resolveLoader  func(string) (string, error)
	verifyHash     func(path, want string) error
	openTransport  func(transport.Kind, string) (*transport.Channel, error)
	memfdSupported func() bool
	forkSupported  func() bool
	checkLedgerFS  func(string) error
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:            cfg,
		resolveLoader:  primer.ResolveLoader,
		verifyHash:     config.VerifyFileHash,
		openTransport:  transport.Open,
		memfdSupported: transport.MemfdSupported,
		forkSupported:  ufork.Supported,
		checkLedgerFS:  storage.ValidateLocalFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
	d.checkLoader(r)
	d.checkTransport(r)
	d.checkFork(r)
	d.checkLedger(r)
	d.checkAPI(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkLoader resolves the loader the primed path would use and verifies
// its pin.
func (d *Doctor) checkLoader(r *Result) {
	dc := d.cfg.Dispatcher
	path, err := d.resolveLoader(dc.LoaderPath)
	if err != nil {
		d.addError(r, "loader", "dispatcher.loader_path",
			fmt.Sprintf("loader not usable: %v (primed spawns will fail)", err))
		return
	}
	r.Loader = path

	if dc.LoaderChecksum == "" {
		d.addWarning(r, "loader", "dispatcher.loader_checksum",
			"loader is not pinned; set loader_checksum to its BLAKE3 digest")
		return
	}
	if err := d.verifyHash(path, dc.LoaderChecksum); err != nil {
		d.addError(r, "loader", "dispatcher.loader_checksum", err.Error())
	}
}

// checkTransport opens and releases one channel of the configured kind.
func (d *Doctor) checkTransport(r *Result) {
	dc := d.cfg.Dispatcher
	kind, err := transport.ParseKind(dc.Transport)
	if err != nil {
		return // reported by config.Validate
	}
	if kind == transport.KindMemfd && !d.memfdSupported() {
		d.addError(r, "transport", "dispatcher.transport", "memfd is not supported on this host; use transport: file")
		return
	}

	ch, err := d.openTransport(kind, dc.TransportDir)
	if err != nil {
		d.addError(r, "transport", "dispatcher.transport_dir", fmt.Sprintf("cannot create transport: %v", err))
		return
	}
	if err := ch.Close(); err != nil {
		d.addWarning(r, "transport", "dispatcher.transport_dir", fmt.Sprintf("transport did not clean up: %v", err))
	}
}

func (d *Doctor) checkFork(r *Result) {
	if !d.forkSupported() {
		d.addWarning(r, "fork", "", "full duplication is not available on this platform; only exec-style dispatches will work")
	}
}

func (d *Doctor) checkLedger(r *Result) {
	if !d.cfg.Ledger.Enabled {
		return
	}
	if err := d.checkLedgerFS(d.cfg.Ledger.Path); err != nil {
		d.addError(r, "ledger", "ledger.path", err.Error())
	}
}

func (d *Doctor) checkAPI(r *Result) {
	a := d.cfg.API
	if !a.Enabled {
		if a.Token != "" {
			d.addWarning(r, "api", "api.token", "api.token is set but the API is disabled")
		}
		return
	}
	if a.Token == "" {
		d.addWarning(r, "api", "api.token", "no token configured; POST /dispatch is disabled")
		return
	}
	host, _, err := net.SplitHostPort(a.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address: %v", err))
		return
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("remote dispatch is enabled on non-loopback address %q", a.Listen))
	}
}
