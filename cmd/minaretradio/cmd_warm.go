/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/minaret_radio/internal/catalogue"
	"github.com/friendsincode/minaret_radio/internal/duration"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Pre-populate the duration cache",
	Long: `Probe every recording in the catalogue and store its duration and
bitrate in the cache, so the first stream start does not pay the probing
cost. Already cached tracks are skipped; unreadable files are reported
and left uncached.

Safe to run while the daemon is up: the cache is shared and probing is
read-only.`,
	RunE: runWarm,
}

func init() {
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	cat, err := catalogue.Load(cfg.MediaRoot, cfg.CatalogueSize, logger)
	if err != nil {
		return fmt.Errorf("load catalogue: %w", err)
	}

	index, err := duration.Open(cfg.DurationCachePath(), cat, logger)
	if err != nil {
		return fmt.Errorf("open duration cache: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probed, err := index.Warm(ctx)
	if err != nil {
		return fmt.Errorf("warm duration cache: %w", err)
	}

	fmt.Printf("duration cache warm: %d track(s) probed across %d performer(s)\n", probed, len(cat.Performers()))
	return nil
}
