/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/minaret_radio/internal/catalogue"
	"github.com/friendsincode/minaret_radio/internal/duration"
	"github.com/friendsincode/minaret_radio/internal/persist"
)

var (
	resetForce     bool
	resetDurations bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the saved playback position",
	Long: `Reset Minaret Radio to a fresh playback state.

This command deletes the playback snapshot, so the next start begins at
track one of the default performer. With --durations the duration cache
is cleared as well and will be re-probed lazily.

The media catalogue on disk is never touched.

Examples:
  # Interactive reset (will prompt for confirmation)
  minaretradio reset

  # Force reset without confirmation
  minaretradio reset --force

  # Also clear the duration cache
  minaretradio reset --force --durations
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetDurations, "durations", false, "Also clear the duration cache")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Println("This will discard the saved playback position.")
		if resetDurations {
			fmt.Println("The duration cache will also be cleared.")
		}
		fmt.Print("Continue? [y/N]: ")

		reader := bufio.NewReader(os.Stdin)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("aborted")
			return nil
		}
	}

	store := persist.NewStore(cfg.SnapshotPath(), logger)
	if err := store.Delete(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	fmt.Println("playback snapshot deleted")

	if resetDurations {
		cat, err := catalogue.Load(cfg.MediaRoot, cfg.CatalogueSize, logger)
		if err != nil {
			return fmt.Errorf("load catalogue: %w", err)
		}
		index, err := duration.Open(cfg.DurationCachePath(), cat, logger)
		if err != nil {
			return fmt.Errorf("open duration cache: %w", err)
		}
		if err := index.Reset(context.Background()); err != nil {
			return fmt.Errorf("clear duration cache: %w", err)
		}
		fmt.Println("duration cache cleared")
	}

	return nil
}
