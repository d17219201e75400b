/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lock enforces the single-daemon guarantee. Exactly one process
// may drive the output sink; two would produce duplicate, garbled audio.
// The constraint spans process restarts, so it lives in a durable lock
// record rather than in memory.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning reports a live daemon already holding the lock. The
// caller must exit without touching the sink.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Record is the durable lock content.
type Record struct {
	OwnerPID   int       `json:"owner_pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Guard manages the instance lock record at a well-known path.
type Guard struct {
	path   string
	logger zerolog.Logger

	// processAlive is swapped in tests.
	processAlive func(pid int) bool
	// terminate is swapped in tests; sends sig to pid.
	terminate func(pid int, sig syscall.Signal) error
}

// NewGuard creates a guard for the lock record at path.
func NewGuard(path string, logger zerolog.Logger) *Guard {
	return &Guard{
		path:         path,
		logger:       logger.With().Str("component", "instance_lock").Logger(),
		processAlive: processAlive,
		terminate:    syscall.Kill,
	}
}

// Handle releases the lock when the process shuts down cleanly. Abnormal
// termination leaves a record that the next startup reclaims as stale.
type Handle struct {
	guard *Guard
	pid   int
}

// Acquire attempts to take exclusive ownership. A record whose owner is
// dead is reclaimed silently. A live owner fails the acquisition with
// ErrAlreadyRunning unless force is set, in which case the owner is
// terminated (SIGTERM, escalating to SIGKILL) before acquiring.
func (g *Guard) Acquire(force bool) (*Handle, error) {
	for attempt := 0; attempt < 3; attempt++ {
		handle, err := g.tryCreate()
		if err == nil {
			return handle, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock record: %w", err)
		}

		existing, readErr := g.read()
		if readErr != nil {
			// Unreadable record: corrupt leftovers, reclaim.
			g.logger.Warn().Err(readErr).Str("path", g.path).Msg("removing corrupt lock record")
			if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("remove corrupt lock record: %w", err)
			}
			continue
		}

		if !g.processAlive(existing.OwnerPID) {
			g.logger.Warn().
				Int("owner_pid", existing.OwnerPID).
				Time("acquired_at", existing.AcquiredAt).
				Msg("reclaiming stale lock from dead owner")
			if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("remove stale lock record: %w", err)
			}
			continue
		}

		if !force {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, existing.OwnerPID)
		}

		if err := g.killOwner(existing.OwnerPID); err != nil {
			return nil, fmt.Errorf("terminate existing owner %d: %w", existing.OwnerPID, err)
		}
		if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove lock after takeover: %w", err)
		}
	}

	return nil, fmt.Errorf("lock acquisition kept racing at %s", g.path)
}

func (g *Guard) tryCreate() (*Handle, error) {
	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pid := os.Getpid()
	record := Record{OwnerPID: pid, AcquiredAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(record); err != nil {
		os.Remove(g.path)
		return nil, fmt.Errorf("write lock record: %w", err)
	}

	g.logger.Info().Int("pid", pid).Str("path", g.path).Msg("instance lock acquired")
	return &Handle{guard: g, pid: pid}, nil
}

func (g *Guard) read() (Record, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, err
	}
	if record.OwnerPID <= 0 {
		return Record{}, fmt.Errorf("lock record has no owner pid")
	}
	return record, nil
}

// killOwner asks the owner to exit, waiting briefly before escalating.
func (g *Guard) killOwner(pid int) error {
	g.logger.Warn().Int("owner_pid", pid).Msg("force takeover: terminating existing owner")

	if err := g.terminate(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !g.processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	g.logger.Warn().Int("owner_pid", pid).Msg("owner ignored SIGTERM, escalating to SIGKILL")
	if err := g.terminate(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	for i := 0; i < 20 && g.processAlive(pid); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// Release removes the lock record if this process still owns it.
func (h *Handle) Release() {
	record, err := h.guard.read()
	if err != nil {
		return
	}
	if record.OwnerPID != h.pid {
		h.guard.logger.Warn().Int("owner_pid", record.OwnerPID).Msg("lock owned by another process, leaving it")
		return
	}
	if err := os.Remove(h.guard.path); err != nil && !os.IsNotExist(err) {
		h.guard.logger.Error().Err(err).Msg("failed to remove lock record")
		return
	}
	h.guard.logger.Info().Int("pid", h.pid).Msg("instance lock released")
}

// processAlive probes pid with signal 0. EPERM still means alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
