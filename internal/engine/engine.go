/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine drives continuous playback: track selection, elapsed
// tracking, reconnection and persistence. All playback state is owned by
// the run loop; manual commands and internal transitions are serialized
// onto one channel so there is a single mutation path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/catalogue"
	"github.com/friendsincode/minaret_radio/internal/config"
	"github.com/friendsincode/minaret_radio/internal/duration"
	"github.com/friendsincode/minaret_radio/internal/events"
	"github.com/friendsincode/minaret_radio/internal/persist"
	"github.com/friendsincode/minaret_radio/internal/sink"
	"github.com/friendsincode/minaret_radio/internal/state"
	"github.com/friendsincode/minaret_radio/internal/telemetry"
)

// ErrEngineStopped reports a command issued after shutdown.
var ErrEngineStopped = errors.New("engine stopped")

var errSinkFailure = errors.New("sink failure")

// DurationResolver resolves track durations; *duration.Index satisfies it.
type DurationResolver interface {
	Resolve(ctx context.Context, performer string, track int) (duration.Props, error)
}

type cmdKind int

const (
	cmdJump cmdKind = iota
	cmdPerformer
	cmdLoop
	cmdSkip
	cmdPause
	cmdResume
)

type command struct {
	kind      cmdKind
	track     int
	performer string
	loop      state.LoopMode
	reply     chan error
}

// session is one track actively streaming into the sink.
type session struct {
	src   *sink.Source
	ticks <-chan time.Duration
	done  <-chan error
}

// Engine is the playback state machine.
type Engine struct {
	cfg       *config.Config
	cat       *catalogue.Catalogue
	durations DurationResolver
	store     *persist.Store
	out       sink.Sink
	bus       *events.Bus
	logger    zerolog.Logger

	cmds     chan command
	stopped  chan struct{}
	snapshot atomic.Pointer[state.Snapshot]

	// Owned by the run loop.
	st       state.Playback
	conn     state.ConnState
	paused   bool
	trackDur time.Duration
}

// New creates an engine. Run must be called before commands are issued.
func New(cfg *config.Config, cat *catalogue.Catalogue, durations DurationResolver, store *persist.Store, out sink.Sink, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		cat:       cat,
		durations: durations,
		store:     store,
		out:       out,
		bus:       bus,
		logger:    logger.With().Str("component", "engine").Logger(),
		cmds:      make(chan command, 32),
		stopped:   make(chan struct{}),
		conn:      state.ConnIdle,
	}
}

// Run executes the playback loop until context cancellation. Per-track
// and per-connection failures are absorbed and retried here; Run only
// returns on shutdown.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	e.restore()
	e.logger.Info().
		Str("performer", e.st.Performer).
		Int("track", e.st.Track).
		Dur("elapsed", e.st.Elapsed).
		Str("loop", e.st.Loop.String()).
		Msg("playback engine starting")

	autosave := time.NewTicker(e.cfg.AutosaveInterval)
	defer autosave.Stop()

	go e.refreshStatus(ctx)

	for {
		if err := e.connectSink(ctx); err != nil {
			return e.shutdown()
		}
		e.setConn(state.ConnStreaming)

		err := e.streamLoop(ctx, autosave.C)
		if errors.Is(err, errSinkFailure) {
			e.setConn(state.ConnReconnecting)
			continue
		}
		return e.shutdown()
	}
}

// connectSink retries until the sink accepts the connection. Unbounded:
// a 24/7 service does not give up. Only shutdown cancels it.
func (e *Engine) connectSink(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.ReconnectInitialDelay
	bo.MaxInterval = e.cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		if err := e.out.Connect(ctx); err != nil {
			telemetry.SinkReconnects.WithLabelValues("failure").Inc()
			e.logger.Warn().Err(err).Int("attempt", attempt).Msg("sink connect failed, backing off")
			return err
		}
		telemetry.SinkReconnects.WithLabelValues("success").Inc()
		return nil
	}
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

// streamLoop plays tracks over one sink connection until the connection
// fails or the context is cancelled.
func (e *Engine) streamLoop(ctx context.Context, autosaveC <-chan time.Time) error {
	var sess *session
	reopen := true

	closeSession := func() {
		if sess == nil {
			return
		}
		e.out.Stop()
		sess.src.Close()
		sess = nil
	}
	defer closeSession()

	for {
		if reopen {
			closeSession()
			var err error
			sess, err = e.openTrack(ctx)
			if err != nil {
				return err
			}
			// A nil session without error means hold: keep position,
			// keep the connection, wait for operator commands.
			reopen = false
		}

		var ticks <-chan time.Duration
		var done <-chan error
		if sess != nil {
			ticks, done = sess.ticks, sess.done
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case tick, ok := <-ticks:
			if !ok {
				sess.ticks = nil
				continue
			}
			e.st.Elapsed = tick
			e.publishStatus()
			if e.trackDur > 0 && tick >= e.trackDur {
				// Duration reached before the sink noticed end-of-stream.
				if held := e.advanceNatural(); held {
					closeSession()
				} else {
					reopen = true
				}
			}

		case err := <-done:
			if err != nil {
				e.logger.Warn().Err(err).
					Int("track", e.st.Track).
					Dur("frozen_at", e.st.Elapsed).
					Msg("sink failed mid-track, position frozen")
				return errSinkFailure
			}
			// Natural end-of-stream.
			if held := e.advanceNatural(); held {
				closeSession()
			} else {
				reopen = true
			}

		case <-autosaveC:
			e.save()

		case cmd := <-e.cmds:
			if e.apply(cmd) {
				reopen = true
			}
			cmd.reply <- nil
		}
	}
}

// openTrack opens and starts streaming the current track at the current
// elapsed offset. Missing recordings skip forward; a full catalogue of
// missing recordings holds instead of spinning.
func (e *Engine) openTrack(ctx context.Context) (*session, error) {
	for misses := 0; misses < e.cat.Size(); misses++ {
		path, err := e.cat.TrackPath(e.st.Performer, e.st.Track)
		if err != nil {
			if errors.Is(err, catalogue.ErrTrackMissing) {
				e.logger.Warn().Int("track", e.st.Track).Msg("recording missing, skipping forward")
				telemetry.TrackAdvances.WithLabelValues("missing").Inc()
				e.st.Track = e.st.Track%e.cat.Size() + 1
				e.st.Elapsed = 0
				continue
			}
			return nil, fmt.Errorf("resolve track: %w", err)
		}

		bitrate := e.cfg.FallbackBitrate
		e.trackDur = 0
		props, err := e.durations.Resolve(ctx, e.st.Performer, e.st.Track)
		switch {
		case err == nil:
			e.trackDur = props.Length
			if props.Bitrate > 0 {
				bitrate = props.Bitrate
			}
		case errors.Is(err, duration.ErrMediaUnreadable):
			// Unknown duration: play anyway, advance on the sink's
			// end-of-stream signal.
			e.logger.Warn().Err(err).Int("track", e.st.Track).Msg("duration unknown, using end-of-stream detection")
		default:
			// Transient cache or probe failure. Per-track errors never
			// stop the stream; only startup failures are fatal.
			e.logger.Warn().Err(err).Int("track", e.st.Track).Msg("duration lookup failed, using end-of-stream detection")
		}

		src, err := sink.OpenSource(path, bitrate, e.st.Elapsed)
		if err != nil {
			e.logger.Warn().Err(err).Str("path", path).Msg("source open failed, skipping forward")
			telemetry.TrackAdvances.WithLabelValues("missing").Inc()
			e.st.Track = e.st.Track%e.cat.Size() + 1
			e.st.Elapsed = 0
			continue
		}

		ticks, done, err := e.out.Play(ctx, src)
		if err != nil {
			src.Close()
			return nil, errSinkFailure
		}

		telemetry.CurrentTrack.Set(float64(e.st.Track))
		e.publishNowPlaying()
		e.publishStatus()
		e.logger.Info().
			Str("performer", e.st.Performer).
			Int("track", e.st.Track).
			Dur("offset", e.st.Elapsed).
			Dur("duration", e.trackDur).
			Msg("now streaming")

		return &session{src: src, ticks: ticks, done: done}, nil
	}

	e.logger.Error().Str("performer", e.st.Performer).Msg("no playable recordings in catalogue, holding")
	return nil, nil
}

// advanceNatural applies the loop-mode policy after a track completes.
// Returns true when playback holds on the final track (loop off).
func (e *Engine) advanceNatural() bool {
	next, ok := state.NextTrack(e.st.Track, e.cat.Size(), e.st.Loop)
	if !ok {
		e.logger.Info().Int("track", e.st.Track).Msg("catalogue complete, holding on final track")
		e.publishStatus()
		return true
	}
	telemetry.TrackAdvances.WithLabelValues("natural").Inc()
	e.st.Track = next
	e.st.Elapsed = 0
	return false
}

// apply executes one serialized command; the return value reports
// whether the current source must be reopened.
func (e *Engine) apply(cmd command) bool {
	switch cmd.kind {
	case cmdJump:
		telemetry.TrackAdvances.WithLabelValues("jump").Inc()
		e.st.Track = cmd.track
		e.st.Elapsed = 0
		return true

	case cmdPerformer:
		telemetry.TrackAdvances.WithLabelValues("performer_switch").Inc()
		e.st.Performer = cmd.performer
		if !e.cat.HasTrack(cmd.performer, e.st.Track) {
			e.logger.Warn().
				Str("performer", cmd.performer).
				Int("track", e.st.Track).
				Msg("performer lacks current track, falling back to first track")
			e.st.Track = 1
		}
		e.st.Elapsed = 0
		return true

	case cmdLoop:
		// Takes effect on the next natural completion.
		e.st.Loop = cmd.loop
		e.publishStatus()
		return false

	case cmdSkip:
		// Forced advance ignores the loop-off hold at the catalogue end.
		telemetry.TrackAdvances.WithLabelValues("skip").Inc()
		e.st.Track = e.st.Track%e.cat.Size() + 1
		e.st.Elapsed = 0
		return true

	case cmdPause:
		e.paused = true
		e.out.Pause()
		e.publishStatus()
		return false

	case cmdResume:
		e.paused = false
		e.out.Resume()
		e.publishStatus()
		return false
	}
	return false
}

// shutdown runs the ordered teardown: stop the sink, final save, mark
// stopped. Every step runs even if a prior one fails.
func (e *Engine) shutdown() error {
	e.logger.Info().Msg("engine shutting down")

	e.out.Stop()
	if err := e.out.Close(); err != nil {
		e.logger.Error().Err(err).Msg("sink close failed during shutdown")
	}
	e.save()
	e.setConn(state.ConnStopped)
	e.publishStatus()
	e.logger.Info().Msg("engine stopped")
	return nil
}

func (e *Engine) save() {
	if err := e.store.Save(e.st); err != nil {
		e.logger.Error().Err(err).Msg("snapshot save failed")
	}
}

// restore loads the last snapshot, falling back to catalogue defaults
// for anything invalid.
func (e *Engine) restore() {
	defaultPerformer := e.cfg.DefaultPerformer
	if defaultPerformer == "" || !e.cat.HasPerformer(defaultPerformer) {
		defaultPerformer = e.cat.Performers()[0]
	}

	e.st = state.Playback{Performer: defaultPerformer, Track: 1, Loop: state.LoopRepeatAll}

	snap := e.store.Load()
	if snap == nil {
		return
	}
	if e.cat.HasPerformer(snap.Performer) {
		e.st.Performer = snap.Performer
	}
	if e.cat.ValidTrack(snap.Track) {
		e.st.Track = snap.Track
		e.st.Elapsed = snap.Elapsed
	}
	e.st.Loop = snap.Loop
}

func (e *Engine) setConn(c state.ConnState) {
	if e.conn == c {
		return
	}
	e.conn = c
	telemetry.SetConnectionState(c.String())
	e.bus.Publish(events.EventConnection, events.Payload{"state": c.String()})
	e.publishStatus()
}

func (e *Engine) publishStatus() {
	snap := state.MakeSnapshot(e.st, e.trackDur, e.conn, e.paused, time.Now().UTC())
	e.snapshot.Store(&snap)
	e.bus.Publish(events.EventStatus, statusPayload(snap))
}

// refreshStatus republishes the latest snapshot once per second so
// status consumers see a live timestamp even while the run loop is
// quiet (paused, reconnecting, holding at the catalogue end). The swap
// only lands when no newer snapshot raced in.
func (e *Engine) refreshStatus(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			old := e.snapshot.Load()
			if old == nil {
				continue
			}
			snap := *old
			snap.UpdatedAt = time.Now().UTC()
			if e.snapshot.CompareAndSwap(old, &snap) {
				e.bus.Publish(events.EventStatus, statusPayload(snap))
			}
		}
	}
}

func statusPayload(snap state.Snapshot) events.Payload {
	return events.Payload{
		"performer":        snap.Performer,
		"track":            snap.Track,
		"elapsed_seconds":  snap.ElapsedSec,
		"duration_seconds": snap.DurationSec,
		"loop_mode":        snap.Loop,
		"connection_state": snap.Connection,
		"paused":           snap.Paused,
	}
}

func (e *Engine) publishNowPlaying() {
	e.bus.Publish(events.EventNowPlaying, events.Payload{
		"performer":        e.st.Performer,
		"track":            e.st.Track,
		"duration_seconds": e.trackDur.Seconds(),
	})
}
