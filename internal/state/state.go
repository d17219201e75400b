/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state holds the playback position record and the supporting
// value types shared between the engine, the persistence store and the
// status surfaces. The engine is the only writer; everyone else sees
// copies.
package state

import (
	"fmt"
	"time"
)

// LoopMode controls what happens when a track completes naturally.
type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopRepeatTrack
	LoopRepeatAll
)

func (m LoopMode) String() string {
	switch m {
	case LoopOff:
		return "off"
	case LoopRepeatTrack:
		return "repeat_track"
	case LoopRepeatAll:
		return "repeat_all"
	default:
		return fmt.Sprintf("loop(%d)", int(m))
	}
}

// ParseLoopMode parses the wire representation of a loop mode.
func ParseLoopMode(s string) (LoopMode, error) {
	switch s {
	case "off":
		return LoopOff, nil
	case "repeat_track":
		return LoopRepeatTrack, nil
	case "repeat_all":
		return LoopRepeatAll, nil
	default:
		return LoopOff, fmt.Errorf("unknown loop mode %q", s)
	}
}

// ConnState is the engine connection state.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnStreaming
	ConnReconnecting
	ConnStopped
)

func (c ConnState) String() string {
	switch c {
	case ConnIdle:
		return "idle"
	case ConnStreaming:
		return "streaming"
	case ConnReconnecting:
		return "reconnecting"
	case ConnStopped:
		return "stopped"
	default:
		return fmt.Sprintf("conn(%d)", int(c))
	}
}

// Playback is the daemon's position in the catalogue. Owned exclusively
// by the engine run loop; Elapsed is monotonic within a track and resets
// to zero on every track change.
type Playback struct {
	Performer string
	Track     int
	Elapsed   time.Duration
	Loop      LoopMode
}

// Snapshot is the read-only view handed to status consumers.
type Snapshot struct {
	Performer  string        `json:"performer"`
	Track      int           `json:"track"`
	Elapsed    time.Duration `json:"-"`
	ElapsedSec float64       `json:"elapsed_seconds"`
	// Duration is zero when unknown (unreadable media); consumers must
	// treat zero as "no progress bar".
	Duration    time.Duration `json:"-"`
	DurationSec float64       `json:"duration_seconds"`
	Loop        string        `json:"loop_mode"`
	Connection  string        `json:"connection_state"`
	Paused      bool          `json:"paused"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// MakeSnapshot builds the external view of a playback position.
func MakeSnapshot(p Playback, duration time.Duration, conn ConnState, paused bool, now time.Time) Snapshot {
	return Snapshot{
		Performer:   p.Performer,
		Track:       p.Track,
		Elapsed:     p.Elapsed,
		ElapsedSec:  p.Elapsed.Seconds(),
		Duration:    duration,
		DurationSec: duration.Seconds(),
		Loop:        p.Loop.String(),
		Connection:  conn.String(),
		Paused:      paused,
		UpdatedAt:   now,
	}
}

// NextTrack selects the track that follows current under mode for a
// catalogue of size tracks. The second return is false when playback
// should hold on the current track instead of advancing (loop off at the
// end of the catalogue).
func NextTrack(current, size int, mode LoopMode) (int, bool) {
	switch mode {
	case LoopRepeatTrack:
		return current, true
	case LoopRepeatAll:
		if current >= size {
			return 1, true
		}
		return current + 1, true
	default: // LoopOff
		if current >= size {
			return current, false
		}
		return current + 1, true
	}
}
