/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"time"

	"github.com/friendsincode/minaret_radio/internal/catalogue"
	"github.com/friendsincode/minaret_radio/internal/state"
)

// JumpTo moves playback to track n in the current performer's catalogue.
// The elapsed position resets to zero.
func (e *Engine) JumpTo(ctx context.Context, n int) error {
	if !e.cat.ValidTrack(n) {
		return catalogue.ErrInvalidTrack
	}
	return e.send(ctx, command{kind: cmdJump, track: n})
}

// SwitchPerformer changes the active performer. The current track number
// is kept when the new performer has that recording, otherwise playback
// falls back to track one.
func (e *Engine) SwitchPerformer(ctx context.Context, id string) error {
	if !e.cat.HasPerformer(id) {
		return catalogue.ErrUnknownPerformer
	}
	return e.send(ctx, command{kind: cmdPerformer, performer: id})
}

// SetLoopMode changes the track-advance policy. Idempotent; takes effect
// on the next natural track completion.
func (e *Engine) SetLoopMode(ctx context.Context, mode state.LoopMode) error {
	return e.send(ctx, command{kind: cmdLoop, loop: mode})
}

// Skip forces an immediate advance to the next track, wrapping at the
// catalogue end regardless of loop mode.
func (e *Engine) Skip(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdSkip})
}

// Pause suspends streaming without closing the sink connection. The
// elapsed clock freezes while paused.
func (e *Engine) Pause(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdPause})
}

// Resume continues streaming after a pause.
func (e *Engine) Resume(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdResume})
}

// Status returns the most recent playback snapshot. Safe from any
// goroutine; never blocks on the run loop.
func (e *Engine) Status() state.Snapshot {
	if snap := e.snapshot.Load(); snap != nil {
		return *snap
	}
	return state.MakeSnapshot(state.Playback{}, 0, state.ConnIdle, false, time.Now().UTC())
}

// send enqueues a command and waits for the run loop to apply it.
// Commands queue while the engine is reconnecting and drain once
// streaming resumes.
func (e *Engine) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case e.cmds <- cmd:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
