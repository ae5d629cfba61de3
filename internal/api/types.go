package api

import (
	"github.com/mattjoyce/spork/internal/ledger"
	"github.com/mattjoyce/spork/internal/metrics"
	"github.com/mattjoyce/spork/internal/protocol"
)

// DispatchRequest is the JSON body for POST /dispatch.
type DispatchRequest struct {
	Pattern string                 `json:"pattern,omitempty"`
	Path    string                 `json:"path"`
	Argv    []string               `json:"argv,omitempty"`
	Env     []string               `json:"env,omitempty"`
	Changes []protocol.StateChange `json:"changes,omitempty"`
}

// DispatchResponse is returned once the child is started.
type DispatchResponse struct {
	PID      int    `json:"pid"`
	Strategy string `json:"strategy"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Live   metrics.Snapshot  `json:"live"`
	Ledger *metrics.Snapshot `json:"ledger,omitempty"`
}

// DispatchesResponse is returned by GET /dispatches.
type DispatchesResponse struct {
	Dispatches []ledger.Entry `json:"dispatches"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Dispatches    int64  `json:"dispatches"`
	Ledger        bool   `json:"ledger"`
	RemoteEnabled bool   `json:"remote_dispatch"`
}
