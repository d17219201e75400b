/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalogue resolves the fixed track catalogue on disk. The
// layout is one directory per performer under the media root, each
// holding tracks named NNN.mp3. The catalogue is treated as immutable
// for the lifetime of the daemon.
package catalogue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidTrack reports a track number outside the catalogue range.
	ErrInvalidTrack = errors.New("track number outside catalogue range")
	// ErrUnknownPerformer reports a performer with no media directory.
	ErrUnknownPerformer = errors.New("unknown performer")
	// ErrTrackMissing reports a track no performer has a recording of.
	ErrTrackMissing = errors.New("no recording found for track")
)

// Catalogue is the fixed ordered set of tracks available per performer.
type Catalogue struct {
	root       string
	size       int
	performers []string
	logger     zerolog.Logger
}

// Load scans the media root for performer directories. An empty root is
// a startup error: the daemon has nothing to stream.
func Load(root string, size int, logger zerolog.Logger) (*Catalogue, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read media root %s: %w", root, err)
	}

	var performers []string
	for _, entry := range entries {
		if entry.IsDir() && entry.Name()[0] != '.' {
			performers = append(performers, entry.Name())
		}
	}
	sort.Strings(performers)

	if len(performers) == 0 {
		return nil, fmt.Errorf("media root %s contains no performer directories", root)
	}

	logger.Info().
		Str("root", root).
		Int("performers", len(performers)).
		Int("tracks", size).
		Msg("catalogue loaded")

	return &Catalogue{
		root:       root,
		size:       size,
		performers: performers,
		logger:     logger.With().Str("component", "catalogue").Logger(),
	}, nil
}

// Size returns the number of track slots in the catalogue.
func (c *Catalogue) Size() int { return c.size }

// Performers returns the sorted performer identifiers.
func (c *Catalogue) Performers() []string {
	out := make([]string, len(c.performers))
	copy(out, c.performers)
	return out
}

// HasPerformer reports whether the performer exists in the catalogue.
func (c *Catalogue) HasPerformer(id string) bool {
	for _, p := range c.performers {
		if p == id {
			return true
		}
	}
	return false
}

// ValidTrack reports whether n is a member of the catalogue.
func (c *Catalogue) ValidTrack(n int) bool {
	return n >= 1 && n <= c.size
}

// HasTrack reports whether the performer has a recording of track n.
func (c *Catalogue) HasTrack(performer string, n int) bool {
	if !c.ValidTrack(n) {
		return false
	}
	_, err := os.Stat(c.trackFile(performer, n))
	return err == nil
}

// TrackPath resolves the audio file for (performer, n). If the named
// performer has no recording, any performer that does is used instead so
// the stream keeps going with an incomplete collection.
func (c *Catalogue) TrackPath(performer string, n int) (string, error) {
	if !c.ValidTrack(n) {
		return "", fmt.Errorf("%w: %d", ErrInvalidTrack, n)
	}
	if !c.HasPerformer(performer) {
		return "", fmt.Errorf("%w: %s", ErrUnknownPerformer, performer)
	}

	path := c.trackFile(performer, n)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	for _, p := range c.performers {
		if p == performer {
			continue
		}
		candidate := c.trackFile(p, n)
		if _, err := os.Stat(candidate); err == nil {
			c.logger.Warn().
				Str("performer", performer).
				Str("fallback", p).
				Int("track", n).
				Msg("performer missing recording, using fallback")
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %d", ErrTrackMissing, n)
}

func (c *Catalogue) trackFile(performer string, n int) string {
	return filepath.Join(c.root, performer, fmt.Sprintf("%03d.mp3", n))
}
