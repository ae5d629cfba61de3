package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/spork/internal/api"
	"github.com/mattjoyce/spork/internal/config"
	"github.com/mattjoyce/spork/internal/dispatch"
	"github.com/mattjoyce/spork/internal/events"
	"github.com/mattjoyce/spork/internal/ledger"
	"github.com/mattjoyce/spork/internal/lock"
	"github.com/mattjoyce/spork/internal/log"
	"github.com/mattjoyce/spork/internal/metrics"
	"github.com/mattjoyce/spork/internal/spork"
	"github.com/mattjoyce/spork/internal/storage"
)

const pruneInterval = time.Hour

func runServe(args []string) int {
	fs := newFlagSet("serve")
	configPath := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "", "Override api.listen")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}
	log.Setup(cfg.Log.Level, cfg.Log.Format)
	logger := log.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := metrics.NewStats()
	hub := events.NewHub(cfg.API.EventBuffer)
	observers := []spork.Observer{stats, events.NewDispatchObserver(hub)}

	var opts []api.Option
	if cfg.Ledger.Enabled {
		lockPath := filepath.Join(filepath.Dir(cfg.Ledger.Path), "spork.lock")
		pl, err := lock.Acquire(lockPath)
		if err != nil {
			if errors.Is(err, lock.ErrHeld) {
				fmt.Fprintf(os.Stderr, "Another spork serve owns this ledger: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "Failed to acquire lock: %v\n", err)
			}
			return 1
		}
		defer func() { _ = pl.Release() }()

		db, err := storage.OpenSQLite(ctx, cfg.Ledger.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
			return 1
		}
		defer db.Close()

		led := ledger.New(db, log.WithComponent("ledger"))
		observers = append(observers, led)
		opts = append(opts, api.WithHistory(led))
		if cfg.Ledger.Retention > 0 {
			go pruneLoop(ctx, led, cfg.Ledger.Retention)
		}
	}

	d := dispatch.NewNative(cfg.Dispatcher, nil, log.Get(), dispatch.WithObserver(observers...))
	srv := api.New(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, d, stats, hub, log.Get(), opts...)

	logger.Info("spork serve starting",
		"listen", cfg.API.Listen,
		"ledger", cfg.Ledger.Enabled,
		"remote_dispatch", cfg.API.Token != "",
		"config", cfg.SourcePath,
	)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "error", err)
		return 1
	}
	logger.Info("spork serve stopped")
	return 0
}

func pruneLoop(ctx context.Context, led *ledger.Ledger, retention time.Duration) {
	logger := log.WithComponent("ledger")
	prune := func() {
		n, err := led.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("pruned ledger", "removed", n, "retention", retention)
		}
	}

	prune()
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prune()
		}
	}
}
