package catalogue

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeTrack(t *testing.T, root, performer, name string) {
	t.Helper()
	dir := filepath.Join(root, performer)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write track: %v", err)
	}
}

func TestLoadScansPerformers(t *testing.T) {
	root := t.TempDir()
	writeTrack(t, root, "basit", "001.mp3")
	writeTrack(t, root, "alafasy", "001.mp3")

	cat, err := Load(root, 114, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	performers := cat.Performers()
	if len(performers) != 2 || performers[0] != "alafasy" || performers[1] != "basit" {
		t.Fatalf("unexpected performers: %v", performers)
	}
	if !cat.HasPerformer("basit") || cat.HasPerformer("ghamdi") {
		t.Fatal("performer membership wrong")
	}
}

func TestLoadFailsOnEmptyRoot(t *testing.T) {
	if _, err := Load(t.TempDir(), 114, zerolog.Nop()); err == nil {
		t.Fatal("expected load to fail with no performer directories")
	}
}

func TestTrackPathResolvesAndValidates(t *testing.T) {
	root := t.TempDir()
	writeTrack(t, root, "alafasy", "001.mp3")
	writeTrack(t, root, "alafasy", "114.mp3")

	cat, err := Load(root, 114, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	path, err := cat.TrackPath("alafasy", 114)
	if err != nil {
		t.Fatalf("track path: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join("alafasy", "114.mp3")) {
		t.Fatalf("unexpected path: %s", path)
	}

	if _, err := cat.TrackPath("alafasy", 0); !errors.Is(err, ErrInvalidTrack) {
		t.Fatalf("expected ErrInvalidTrack, got %v", err)
	}
	if _, err := cat.TrackPath("alafasy", 115); !errors.Is(err, ErrInvalidTrack) {
		t.Fatalf("expected ErrInvalidTrack, got %v", err)
	}
	if _, err := cat.TrackPath("ghamdi", 1); !errors.Is(err, ErrUnknownPerformer) {
		t.Fatalf("expected ErrUnknownPerformer, got %v", err)
	}
}

func TestTrackPathFallsBackAcrossPerformers(t *testing.T) {
	root := t.TempDir()
	writeTrack(t, root, "alafasy", "001.mp3")
	writeTrack(t, root, "basit", "002.mp3")

	cat, err := Load(root, 114, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// alafasy has no 002; basit's copy keeps the stream going.
	path, err := cat.TrackPath("alafasy", 2)
	if err != nil {
		t.Fatalf("track path: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join("basit", "002.mp3")) {
		t.Fatalf("expected fallback to basit, got %s", path)
	}

	if _, err := cat.TrackPath("alafasy", 3); !errors.Is(err, ErrTrackMissing) {
		t.Fatalf("expected ErrTrackMissing, got %v", err)
	}
}

func TestHasTrack(t *testing.T) {
	root := t.TempDir()
	writeTrack(t, root, "alafasy", "036.mp3")

	cat, err := Load(root, 114, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cat.HasTrack("alafasy", 36) {
		t.Fatal("expected track 36 present")
	}
	if cat.HasTrack("alafasy", 37) {
		t.Fatal("expected track 37 absent")
	}
}
