/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sink owns the live output connection. Exactly one source is
// streamed at a time; the engine is the only caller.
package sink

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Sink streams one audio source at a time to a live output.
//
// Play returns a tick channel carrying cumulative played time for the
// current source at roughly one-second resolution, and a done channel
// that yields nil on end-of-stream or an error on sink failure. The
// ticks are driven by the sink's own pacing clock: an I/O stall pauses
// the clock instead of overcounting.
type Sink interface {
	Connect(ctx context.Context) error
	Play(ctx context.Context, src *Source) (ticks <-chan time.Duration, done <-chan error, err error)
	Pause()
	Resume()
	Stop()
	Close() error
}

// Source is a per-track audio input opened for streaming. The byte
// offset for a nonzero start position is derived from the bitrate, which
// is accurate enough for constant bitrate catalogue files.
type Source struct {
	Path    string
	Bitrate int // kbps
	Offset  time.Duration

	file *os.File
}

// OpenSource opens path for streaming, seeking to offset. A zero or
// unknown bitrate must be replaced by the caller's fallback before
// calling; pacing depends on it.
func OpenSource(path string, bitrateKbps int, offset time.Duration) (*Source, error) {
	if bitrateKbps <= 0 {
		return nil, fmt.Errorf("open source %s: bitrate must be positive", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	src := &Source{Path: path, Bitrate: bitrateKbps, Offset: offset, file: f}
	if offset > 0 {
		byteOffset := src.byteOffset(offset)
		if _, err := f.Seek(byteOffset, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek source to %s: %w", offset, err)
		}
	}
	return src, nil
}

// Read implements io.Reader over the underlying file.
func (s *Source) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

// Close releases the underlying file.
func (s *Source) Close() error {
	return s.file.Close()
}

// BytesPerSecond is the pacing budget for one second of audio.
func (s *Source) BytesPerSecond() int {
	return s.Bitrate * 1000 / 8
}

func (s *Source) byteOffset(offset time.Duration) int64 {
	return int64(float64(s.BytesPerSecond()) * offset.Seconds())
}
