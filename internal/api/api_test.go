package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/catalogue"
	"github.com/friendsincode/minaret_radio/internal/engine"
	"github.com/friendsincode/minaret_radio/internal/state"
)

type fakeController struct {
	track     int
	performer string
	loop      state.LoopMode
	skips     int
	paused    bool
	err       error
}

func (f *fakeController) JumpTo(_ context.Context, track int) error {
	if f.err != nil {
		return f.err
	}
	f.track = track
	return nil
}

func (f *fakeController) SwitchPerformer(_ context.Context, performer string) error {
	if f.err != nil {
		return f.err
	}
	f.performer = performer
	return nil
}

func (f *fakeController) SetLoopMode(_ context.Context, mode state.LoopMode) error {
	if f.err != nil {
		return f.err
	}
	f.loop = mode
	return nil
}

func (f *fakeController) Skip(_ context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.skips++
	return nil
}

func (f *fakeController) Pause(_ context.Context) error {
	f.paused = true
	return nil
}

func (f *fakeController) Resume(_ context.Context) error {
	f.paused = false
	return nil
}

func (f *fakeController) Status() state.Snapshot {
	return state.MakeSnapshot(
		state.Playback{Performer: f.performer, Track: f.track, Elapsed: 12 * time.Second, Loop: f.loop},
		60*time.Second, state.ConnStreaming, f.paused, time.Now().UTC(),
	)
}

func newTestRouter(ctrl *fakeController) chi.Router {
	r := chi.NewRouter()
	New(ctrl, []string{"main", "alt"}, 114, zerolog.Nop()).Routes(r)
	return r
}

func do(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHandleStatus(t *testing.T) {
	ctrl := &fakeController{track: 5, performer: "main", loop: state.LoopRepeatAll}
	rr := do(t, newTestRouter(ctrl), http.MethodGet, "/api/v1/status", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Track != 5 || snap.Performer != "main" || snap.Loop != "repeat_all" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.ElapsedSec != 12 || snap.DurationSec != 60 {
		t.Fatalf("unexpected position %+v", snap)
	}
}

func TestHandlePerformers(t *testing.T) {
	rr := do(t, newTestRouter(&fakeController{}), http.MethodGet, "/api/v1/performers", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
	var resp struct {
		Performers    []string `json:"performers"`
		CatalogueSize int      `json:"catalogue_size"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Performers) != 2 || resp.CatalogueSize != 114 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleJump(t *testing.T) {
	ctrl := &fakeController{}
	r := newTestRouter(ctrl)

	rr := do(t, r, http.MethodPost, "/api/v1/playback/jump", `{"track": 36}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if ctrl.track != 36 {
		t.Fatalf("controller track %d, want 36", ctrl.track)
	}

	rr = do(t, r, http.MethodPost, "/api/v1/playback/jump", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
}

func TestHandleJumpInvalidTrack(t *testing.T) {
	ctrl := &fakeController{err: catalogue.ErrInvalidTrack}
	rr := do(t, newTestRouter(ctrl), http.MethodPost, "/api/v1/playback/jump", `{"track": 300}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_track") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestHandlePerformerSwitch(t *testing.T) {
	ctrl := &fakeController{}
	r := newTestRouter(ctrl)

	rr := do(t, r, http.MethodPost, "/api/v1/playback/performer", `{"performer": "alt"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
	if ctrl.performer != "alt" {
		t.Fatalf("controller performer %q, want alt", ctrl.performer)
	}

	rr = do(t, r, http.MethodPost, "/api/v1/playback/performer", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400 for empty performer", rr.Code)
	}

	ctrl.err = catalogue.ErrUnknownPerformer
	rr = do(t, r, http.MethodPost, "/api/v1/playback/performer", `{"performer": "nobody"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "unknown_performer") {
		t.Fatalf("status %d body %s, want 400 unknown_performer", rr.Code, rr.Body.String())
	}
}

func TestHandleLoop(t *testing.T) {
	ctrl := &fakeController{}
	r := newTestRouter(ctrl)

	rr := do(t, r, http.MethodPost, "/api/v1/playback/loop", `{"mode": "repeat_track"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
	if ctrl.loop != state.LoopRepeatTrack {
		t.Fatalf("controller loop %v, want repeat_track", ctrl.loop)
	}

	rr = do(t, r, http.MethodPost, "/api/v1/playback/loop", `{"mode": "forever"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "invalid_loop_mode") {
		t.Fatalf("status %d body %s, want 400 invalid_loop_mode", rr.Code, rr.Body.String())
	}
}

func TestHandleSkipPauseResume(t *testing.T) {
	ctrl := &fakeController{}
	r := newTestRouter(ctrl)

	if rr := do(t, r, http.MethodPost, "/api/v1/playback/skip", ""); rr.Code != http.StatusOK {
		t.Fatalf("skip status %d, want 200", rr.Code)
	}
	if ctrl.skips != 1 {
		t.Fatalf("skips %d, want 1", ctrl.skips)
	}

	if rr := do(t, r, http.MethodPost, "/api/v1/playback/pause", ""); rr.Code != http.StatusOK {
		t.Fatalf("pause status %d, want 200", rr.Code)
	}
	if !ctrl.paused {
		t.Fatal("controller not paused")
	}

	if rr := do(t, r, http.MethodPost, "/api/v1/playback/resume", ""); rr.Code != http.StatusOK {
		t.Fatalf("resume status %d, want 200", rr.Code)
	}
	if ctrl.paused {
		t.Fatal("controller still paused")
	}
}

func TestHandleCommandWhileStopped(t *testing.T) {
	ctrl := &fakeController{err: engine.ErrEngineStopped}
	rr := do(t, newTestRouter(ctrl), http.MethodPost, "/api/v1/playback/skip", "")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "engine_stopped") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}
