/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/minaret_radio/internal/api"
	"github.com/friendsincode/minaret_radio/internal/catalogue"
	"github.com/friendsincode/minaret_radio/internal/config"
	"github.com/friendsincode/minaret_radio/internal/duration"
	"github.com/friendsincode/minaret_radio/internal/engine"
	"github.com/friendsincode/minaret_radio/internal/eventbus"
	"github.com/friendsincode/minaret_radio/internal/events"
	"github.com/friendsincode/minaret_radio/internal/lock"
	"github.com/friendsincode/minaret_radio/internal/logging"
	"github.com/friendsincode/minaret_radio/internal/persist"
	"github.com/friendsincode/minaret_radio/internal/server"
	"github.com/friendsincode/minaret_radio/internal/sink"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "minaretradio",
	Short: "Minaret Radio - continuous recitation streaming daemon",
	Long:  "Minaret Radio streams a fixed recitation catalogue to an Icecast mount around the clock, resuming from the last played position across restarts.",
}

var serveForce bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming daemon",
	Long:  "Start the playback engine, the status reflector and the HTTP control API.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveForce, "force", false, "Terminate a live instance holding the lock and take over")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("Minaret Radio starting")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// One daemon per data directory. The lock survives crashes and is
	// reclaimed automatically when its owner is gone.
	guard := lock.NewGuard(cfg.LockPath(), logger)
	handle, err := guard.Acquire(serveForce)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyRunning) {
			return fmt.Errorf("%w; use --force to take over", err)
		}
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	defer handle.Release()

	cat, err := catalogue.Load(cfg.MediaRoot, cfg.CatalogueSize, logger)
	if err != nil {
		return fmt.Errorf("load catalogue: %w", err)
	}

	durations, err := duration.Open(cfg.DurationCachePath(), cat, logger)
	if err != nil {
		return fmt.Errorf("open duration cache: %w", err)
	}

	store := persist.NewStore(cfg.SnapshotPath(), logger)
	bus := events.NewBus()

	publisher, err := eventbus.NewPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize status publisher: %w", err)
	}
	if publisher != nil {
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error().Err(err).Msg("status publisher close failed")
			}
		}()
	}

	out := sink.NewIcecast(sink.IcecastConfig{
		Host:           cfg.SinkHost,
		Port:           cfg.SinkPort,
		Mount:          cfg.SinkMount,
		SourceUser:     cfg.SinkSourceUser,
		SourcePassword: cfg.SinkSourcePassword,
		Name:           cfg.SinkName,
	}, logger)

	eng := engine.New(cfg, cat, durations, store, out, bus, logger)
	playbackAPI := api.New(eng, cat.Performers(), cat.Size(), logger)
	srv := server.New(cfg, playbackAPI, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	go eventbus.NewReflector(bus, publisher, logger).Run(ctx)

	httpDone := make(chan error, 1)
	go func() { httpDone <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	engineExited := false
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully...")
	case err := <-httpDone:
		logger.Error().Err(err).Msg("http server exited")
	case err := <-engineDone:
		engineExited = true
		logger.Error().Err(err).Msg("engine exited unexpectedly")
	}

	cancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful http shutdown failed")
	}

	if !engineExited {
		select {
		case <-engineDone:
		case <-timeoutCtx.Done():
			logger.Error().Msg("engine did not stop in time")
		}
	}

	logger.Info().Msg("Minaret Radio stopped")
	return nil
}
