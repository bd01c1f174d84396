package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/audiolibrelab/devswitch/internal/audio"
)

func TestHotplugSource(t *testing.T) {
	dir := t.TempDir()
	src := NewHotplugSource(dir, testLogger())
	client := newRecordingClient()

	if err := src.Register(client); err != nil {
		t.Fatal(err)
	}
	defer src.Unregister(client)

	node := filepath.Join(dir, "pcmC1D0p")
	if err := os.WriteFile(node, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if got := client.next(t); got != "added pcmC1D0p" {
		t.Errorf("Unexpected callback %q", got)
	}

	// Writes may produce further events; wait for the removal.
	if err := os.Remove(node); err != nil {
		t.Fatal(err)
	}
	for {
		if got := client.next(t); got == "removed pcmC1D0p" {
			break
		}
	}
}

func TestHotplugSourceMissingDir(t *testing.T) {
	src := NewHotplugSource(filepath.Join(t.TempDir(), "missing"), testLogger())
	if err := src.Register(newRecordingClient()); err == nil {
		t.Fatal("Expected error watching a missing directory")
	}
	if _, err := src.DefaultEndpoint(audio.Playout, audio.Console); err != ErrUnsupported {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}
