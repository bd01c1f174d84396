package notify

import (
	"errors"
	"testing"

	"github.com/audiolibrelab/devswitch/internal/audio"
)

func TestMultiSourceRegistersAny(t *testing.T) {
	bad := &fakeSource{registerErr: errors.New("no pactl")}
	good := &fakeSource{}
	m := NewMultiSource(bad, good)

	l, _ := newTestListener(m)
	if err := l.Register(); err != nil {
		t.Fatalf("Expected registration to succeed, got %v", err)
	}
	if good.client == nil {
		t.Error("Expected working source to hold the client")
	}

	l.Unregister()
	if good.unregisters != 1 || bad.unregisters != 1 {
		t.Errorf("Expected both sources unregistered, got %d/%d", good.unregisters, bad.unregisters)
	}
}

func TestMultiSourceAllFail(t *testing.T) {
	m := NewMultiSource(
		&fakeSource{registerErr: errors.New("a")},
		&fakeSource{registerErr: errors.New("b")},
	)
	l, _ := newTestListener(m)
	if err := l.Register(); err == nil {
		t.Fatal("Expected registration error")
	}
	if !l.Disabled() {
		t.Error("Expected listener to be disabled")
	}

	if err := NewMultiSource().Register(nil); err == nil {
		t.Error("Expected error with no sources")
	}
}

func TestMultiSourceDefaultEndpoint(t *testing.T) {
	m := NewMultiSource(
		&fakeSource{},
		&fakeSource{defaults: map[audio.Direction]Endpoint{audio.Playout: {ID: "sink", Name: "Sink"}}},
	)
	ep, err := m.DefaultEndpoint(audio.Playout, audio.Console)
	if err != nil || ep.ID != "sink" {
		t.Errorf("Unexpected endpoint %+v (%v)", ep, err)
	}
	if _, err := m.DefaultEndpoint(audio.Recording, audio.Console); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}
