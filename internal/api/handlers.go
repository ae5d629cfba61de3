package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/spork/internal/spork"
)

const maxDispatchBody = 1 << 20

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Dispatches:    s.stats.Snapshot().Total,
		Ledger:        s.history != nil,
		RemoteEnabled: s.config.Token != "",
	})
}

// handleStats handles GET /stats[?since=24h].
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Live: s.stats.Snapshot()}

	if s.history != nil {
		var since time.Time
		if v := r.URL.Query().Get("since"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				s.writeError(w, http.StatusBadRequest, "since must be a positive duration such as 24h", "")
				return
			}
			since = time.Now().Add(-d)
		}
		snap, err := s.history.Summary(r.Context(), since)
		if err != nil {
			s.logger.Error("failed to summarize ledger", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to summarize ledger", "")
			return
		}
		resp.Ledger = &snap
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleDispatches handles GET /dispatches[?limit=N].
func (s *Server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "ledger is disabled", "")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", "")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list dispatches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list dispatches", "")
		return
	}
	s.writeJSON(w, http.StatusOK, DispatchesResponse{Dispatches: entries})
}

// handleDispatch handles POST /dispatch. Only exec-style requests are
// accepted: duplicating the server itself would be meaningless to a remote
// caller. The child is reaped in the background and its exit published.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDispatchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "")
		return
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required", "")
		return
	}

	pattern := spork.ForkExec
	if req.Pattern != "" {
		p, err := spork.ParsePattern(req.Pattern)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		pattern = p
	}

	res, err := s.dispatcher.Dispatch(r.Context(), spork.Hints{
		Pattern: pattern,
		Target:  &spork.ExecTarget{Path: req.Path, Argv: req.Argv, Env: req.Env},
		Changes: req.Changes,
	})
	if err != nil {
		kind := spork.KindOf(err)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, spork.ErrInvalidContext), errors.Is(err, spork.ErrResourceExhausted):
			status = http.StatusBadRequest
		case errors.Is(err, spork.ErrSpawnFailed):
			status = http.StatusBadGateway
		}
		s.writeError(w, status, err.Error(), kind.String())
		return
	}

	go s.reapChild(res.PID)

	s.writeJSON(w, http.StatusAccepted, DispatchResponse{PID: res.PID, Strategy: res.Strategy.String()})
}

func (s *Server) reapChild(pid int) {
	code, err := s.reap(pid)
	if err != nil {
		s.logger.Warn("failed to reap child", "pid", pid, "error", err)
		return
	}
	s.logger.Debug("child exited", "pid", pid, "exit_code", code)
	s.notifier.PublishExit(pid, code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, kind string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}
