/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the playback control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/catalogue"
	"github.com/friendsincode/minaret_radio/internal/engine"
	"github.com/friendsincode/minaret_radio/internal/state"
)

// Controller is the engine command surface the API drives.
type Controller interface {
	JumpTo(ctx context.Context, track int) error
	SwitchPerformer(ctx context.Context, performer string) error
	SetLoopMode(ctx context.Context, mode state.LoopMode) error
	Skip(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Status() state.Snapshot
}

// API exposes HTTP handlers.
type API struct {
	engine     Controller
	performers []string
	size       int
	logger     zerolog.Logger
}

// New creates the API router wrapper.
func New(engine Controller, performers []string, size int, logger zerolog.Logger) *API {
	return &API{
		engine:     engine,
		performers: performers,
		size:       size,
		logger:     logger,
	}
}

// Routes mounts all API endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/status", a.handleStatus)
		r.Get("/performers", a.handlePerformers)

		r.Route("/playback", func(r chi.Router) {
			r.Post("/jump", a.handleJump)
			r.Post("/performer", a.handlePerformer)
			r.Post("/loop", a.handleLoop)
			r.Post("/skip", a.handleSkip)
			r.Post("/pause", a.handlePause)
			r.Post("/resume", a.handleResume)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Status())
}

func (a *API) handlePerformers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"performers":     a.performers,
		"catalogue_size": a.size,
	})
}

type jumpRequest struct {
	Track int `json:"track"`
}

func (a *API) handleJump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if err := a.engine.JumpTo(r.Context(), req.Track); err != nil {
		a.writeCommandError(w, err, "jump failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "jumped", "track": req.Track})
}

type performerRequest struct {
	Performer string `json:"performer"`
}

func (a *API) handlePerformer(w http.ResponseWriter, r *http.Request) {
	var req performerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Performer == "" {
		writeError(w, http.StatusBadRequest, "performer_required")
		return
	}

	if err := a.engine.SwitchPerformer(r.Context(), req.Performer); err != nil {
		a.writeCommandError(w, err, "performer switch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "switched", "performer": req.Performer})
}

type loopRequest struct {
	Mode string `json:"mode"`
}

func (a *API) handleLoop(w http.ResponseWriter, r *http.Request) {
	var req loopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	mode, err := state.ParseLoopMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_loop_mode")
		return
	}

	if err := a.engine.SetLoopMode(r.Context(), mode); err != nil {
		a.writeCommandError(w, err, "loop mode change failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "loop_set", "mode": req.Mode})
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Skip(r.Context()); err != nil {
		a.writeCommandError(w, err, "skip failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Pause(r.Context()); err != nil {
		a.writeCommandError(w, err, "pause failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Resume(r.Context()); err != nil {
		a.writeCommandError(w, err, "resume failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// writeCommandError maps engine errors onto HTTP status codes.
func (a *API) writeCommandError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, catalogue.ErrInvalidTrack):
		writeError(w, http.StatusBadRequest, "invalid_track")
	case errors.Is(err, catalogue.ErrUnknownPerformer):
		writeError(w, http.StatusBadRequest, "unknown_performer")
	case errors.Is(err, engine.ErrEngineStopped):
		writeError(w, http.StatusServiceUnavailable, "engine_stopped")
	default:
		a.logger.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, "command_failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
