/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package persist snapshots the playback position to durable storage so
// a restart resumes within the autosave interval of where it left off.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/state"
	"github.com/friendsincode/minaret_radio/internal/telemetry"
)

// SchemaVersion marks the snapshot format. Mismatched files are treated
// as absent, never as fatal.
const SchemaVersion = 1

type snapshotFile struct {
	SchemaVersion  int       `json:"schema_version"`
	Performer      string    `json:"performer"`
	Track          int       `json:"track"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	LoopMode       string    `json:"loop_mode"`
	SavedAt        time.Time `json:"saved_at"`
}

// Store reads and writes playback snapshots at a fixed path.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore creates a store writing to path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "persist").Logger(),
	}
}

// Save writes the snapshot atomically: the record lands in a temporary
// file first and replaces the previous snapshot via rename, so a crash
// mid-write never corrupts the last valid snapshot.
func (s *Store) Save(p state.Playback) error {
	record := snapshotFile{
		SchemaVersion:  SchemaVersion,
		Performer:      p.Performer,
		Track:          p.Track,
		ElapsedSeconds: p.Elapsed.Seconds(),
		LoopMode:       p.Loop.String(),
		SavedAt:        time.Now().UTC(),
	}

	if err := s.writeAtomic(record); err != nil {
		telemetry.SnapshotSaves.WithLabelValues("error").Inc()
		return err
	}
	telemetry.SnapshotSaves.WithLabelValues("ok").Inc()

	s.logger.Debug().
		Str("performer", p.Performer).
		Int("track", p.Track).
		Float64("elapsed", record.ElapsedSeconds).
		Msg("snapshot saved")
	return nil
}

func (s *Store) writeAtomic(record snapshotFile) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".playback-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load returns the last valid snapshot, or nil when none exists or the
// file fails validation. Both cases mean "first run", not an error.
func (s *Store) Load() *state.Playback {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("snapshot unreadable, starting fresh")
		}
		return nil
	}

	var record snapshotFile
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("snapshot corrupt, starting fresh")
		return nil
	}
	if record.SchemaVersion != SchemaVersion {
		s.logger.Warn().
			Int("found", record.SchemaVersion).
			Int("want", SchemaVersion).
			Msg("snapshot schema mismatch, starting fresh")
		return nil
	}

	loop, err := state.ParseLoopMode(record.LoopMode)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot loop mode invalid, starting fresh")
		return nil
	}
	if record.Track < 1 || record.ElapsedSeconds < 0 {
		s.logger.Warn().Int("track", record.Track).Msg("snapshot position invalid, starting fresh")
		return nil
	}

	s.logger.Info().
		Str("performer", record.Performer).
		Int("track", record.Track).
		Float64("elapsed", record.ElapsedSeconds).
		Time("saved_at", record.SavedAt).
		Msg("snapshot restored")

	return &state.Playback{
		Performer: record.Performer,
		Track:     record.Track,
		Elapsed:   time.Duration(record.ElapsedSeconds * float64(time.Second)),
		Loop:      loop,
	}
}

// Delete removes the snapshot. Used by the reset command.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
