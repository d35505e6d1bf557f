package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maxpert/ripple/admin"
	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/db"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/observer"
	"github.com/maxpert/ripple/scanner"
	"github.com/maxpert/ripple/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Ripple - notification dispatch engine")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Ripple exited with error")
	}
}

func run() error {
	hub := notify.NewHub()

	store, err := db.Open(filepath.Join(cfg.Config.DataDir, "cells"), db.DefaultOptions(), hub)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	oracle := hlc.NewOracle(hlc.NewClock(cfg.Config.NodeID))
	last, err := store.LastCommitTS()
	if err != nil {
		return fmt.Errorf("read oracle high-water mark: %w", err)
	}
	oracle.Observe(last)

	registry, err := observer.FromConfig(cfg.Config.Observers, log.Logger)
	if err != nil {
		return fmt.Errorf("build observers: %w", err)
	}
	if len(registry.Registrations()) == 0 {
		log.Warn().Msg("No observers configured, notifications will queue without being consumed")
	}

	proc, err := notify.NewProcessor(notify.Options{
		Logger:          &log.Logger,
		Threads:         cfg.Config.Worker.Threads,
		QueueCapacity:   cfg.Config.Worker.QueueCapacity,
		MaxQueuedBytes:  cfg.Config.Worker.MaxQueuedBytes,
		ShutdownTimeout: time.Duration(cfg.Config.Worker.ShutdownTimeoutSeconds) * time.Second,
		Worker:          observer.NewDispatcher(store, oracle, registry, log.Logger),
		Closer:          registry,
	})
	if err != nil {
		return errors.Join(fmt.Errorf("create processor: %w", err), registry.Close())
	}
	proc.Start()

	collector := telemetry.NewMetricsCollector(proc, 10*time.Second)
	collector.Start()
	defer collector.Stop()

	var scan *scanner.Scanner
	if cfg.Config.Scanner.Enabled {
		finder := scanner.NewHashFinder(store, cfg.Config.Scanner.WorkerIndex, cfg.Config.Scanner.WorkerCount)
		scan = scanner.New(store, proc, finder, scanner.Options{
			Interval: time.Duration(cfg.Config.Scanner.IntervalMS) * time.Millisecond,
			Columns:  registry.Columns(),
			Hub:      hub,
			Logger:   log.Logger,

			AdmitsPerSecond: cfg.Config.Scanner.MaxAdmitsPerSecond,
		})
		scan.Start()
	}

	var adminServer *admin.Server
	if cfg.Config.Admin.Enabled {
		adminServer = admin.NewServer(
			cfg.Config.Admin.BindAddress,
			cfg.Config.Admin.Port,
			admin.NewAdminHandlers(proc, store, registry.Columns()),
		)
		if h := telemetry.GetMetricsHandler(); h != nil {
			adminServer.SetMetricsHandler(h)
		}
		if err := adminServer.Start(); err != nil {
			if scan != nil {
				scan.Stop()
			}
			return errors.Join(fmt.Errorf("start admin server: %w", err), proc.Close(context.Background()))
		}
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("data_dir", cfg.Config.DataDir).
		Int("observers", len(registry.Registrations())).
		Int("threads", cfg.Config.Worker.Threads).
		Msg("Node is operational")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("Shutting down")

	timeout := time.Duration(cfg.Config.Worker.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if adminServer != nil {
		if err := adminServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop admin server: %w", err))
		}
	}
	if scan != nil {
		scan.Stop()
	}
	if err := proc.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close processor: %w", err))
	}

	return errors.Join(errs...)
}
