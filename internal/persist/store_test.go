package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/minaret_radio/internal/state"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "playback.json"), zerolog.Nop())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := testStore(t)

	saved := state.Playback{
		Performer: "alafasy",
		Track:     67,
		Elapsed:   123500 * time.Millisecond,
		Loop:      state.LoopRepeatAll,
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := store.Load()
	if loaded == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if loaded.Performer != saved.Performer || loaded.Track != saved.Track || loaded.Loop != saved.Loop {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if diff := loaded.Elapsed - saved.Elapsed; diff < -time.Millisecond || diff > time.Millisecond {
		t.Fatalf("elapsed drifted: saved %v loaded %v", saved.Elapsed, loaded.Elapsed)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	if snap := testStore(t).Load(); snap != nil {
		t.Fatalf("expected nil for missing snapshot, got %+v", snap)
	}
}

func TestLoadCorruptReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playback.json")
	if err := os.WriteFile(path, []byte("{distorted"), 0o644); err != nil {
		t.Fatalf("write corrupt snapshot: %v", err)
	}

	store := NewStore(path, zerolog.Nop())
	if snap := store.Load(); snap != nil {
		t.Fatalf("expected nil for corrupt snapshot, got %+v", snap)
	}
}

func TestLoadVersionMismatchReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playback.json")
	record := map[string]any{
		"schema_version":  99,
		"performer":       "alafasy",
		"track":           1,
		"elapsed_seconds": 10.0,
		"loop_mode":       "repeat_all",
	}
	data, _ := json.Marshal(record)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	store := NewStore(path, zerolog.Nop())
	if snap := store.Load(); snap != nil {
		t.Fatalf("expected nil for version mismatch, got %+v", snap)
	}
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	store := testStore(t)

	if err := store.Save(state.Playback{Performer: "basit", Track: 1, Loop: state.LoopOff}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.Save(state.Playback{Performer: "basit", Track: 2, Loop: state.LoopOff}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded := store.Load()
	if loaded == nil || loaded.Track != 2 {
		t.Fatalf("expected latest snapshot, got %+v", loaded)
	}
}

func TestDelete(t *testing.T) {
	store := testStore(t)
	if err := store.Save(state.Playback{Performer: "basit", Track: 5, Loop: state.LoopOff}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if snap := store.Load(); snap != nil {
		t.Fatalf("expected nil after delete, got %+v", snap)
	}
	// Deleting an absent snapshot is not an error.
	if err := store.Delete(); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
