// Package api serves dispatch statistics, history and live events over HTTP,
// and accepts exec-style dispatch requests.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/spork/internal/events"
	"github.com/mattjoyce/spork/internal/ledger"
	"github.com/mattjoyce/spork/internal/metrics"
	"github.com/mattjoyce/spork/internal/spork"
)

// Dispatcher runs one hinted dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, h spork.Hints) (spork.Result, error)
}

// StatsSource exposes live in-process counters.
type StatsSource interface {
	Snapshot() metrics.Snapshot
}

// History exposes the persistent ledger.
type History interface {
	Summary(ctx context.Context, since time.Time) (metrics.Snapshot, error)
	Recent(ctx context.Context, limit int) ([]ledger.Entry, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// Token is the bearer token for POST /dispatch. Empty disables it.
	Token string
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	dispatcher Dispatcher
	stats      StatsSource
	history    History
	hub        *events.Hub
	notifier   *events.DispatchObserver
	reap       func(pid int) (int, error)
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables /dispatches and ledger totals in /stats.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithReaper replaces the function that waits for dispatched children.
func WithReaper(f func(pid int) (int, error)) Option {
	return func(s *Server) { s.reap = f }
}

// New creates a Server. hub must be the one the dispatcher's event observer
// publishes to.
func New(cfg Config, d Dispatcher, stats StatsSource, hub *events.Hub, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		config:     cfg,
		dispatcher: d,
		stats:      stats,
		hub:        hub,
		notifier:   events.NewDispatchObserver(hub),
		reap:       waitExit,
		logger:     logger.With(slog.String("component", "api")),
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func waitExit(pid int) (int, error) {
	ws, err := spork.Wait(pid)
	if err != nil {
		return -1, err
	}
	return spork.ExitCode(ws), nil
}

// Start serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: /events is a long-lived stream.
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/dispatches", s.handleDispatches)
	r.Get("/events", s.handleEvents)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/dispatch", s.handleDispatch)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
