//go:build cgo && !noaudio

package audio

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func newTestMalgoEngine(t *testing.T) *MalgoEngine {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := newMalgoEngine(MalgoConfig{SampleRate: 48000, Channels: 2, PeriodMS: 10}, log)
	if err != nil {
		t.Skipf("miniaudio has no usable backend: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine.(*MalgoEngine)
}

func TestMalgoCountDescribe(t *testing.T) {
	m := newTestMalgoEngine(t)

	count, err := m.Count(Playout)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	for i := 0; i < count; i++ {
		dev, err := m.Describe(Playout, i)
		if err != nil {
			t.Fatalf("Describe(%d) failed: %v", i, err)
		}
		if dev.Ordinal != i || dev.ID == "" {
			t.Errorf("Describe(%d) = %+v", i, dev)
		}
	}

	if _, err := m.Describe(Playout, count); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Describe past the end: expected ErrNoDevice, got %v", err)
	}
}

func TestMalgoSelectByOrdinalWithoutCount(t *testing.T) {
	m := newTestMalgoEngine(t)

	selectErr := m.SelectByOrdinal(Playout, 0)

	count, err := m.Count(Playout)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count == 0 {
		if !errors.Is(selectErr, ErrNoDevice) {
			t.Fatalf("expected ErrNoDevice with no devices, got %v", selectErr)
		}
		t.Skip("no playout devices enumerated")
	}
	if selectErr != nil {
		t.Fatalf("SelectByOrdinal(0) on a fresh engine failed: %v", selectErr)
	}

	first, err := m.Describe(Playout, 0)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	sel := m.streams[Playout].selected
	if sel == nil || deviceIDString(*sel) != first.ID {
		t.Errorf("selected %v, want device %q", sel, first.ID)
	}

	if err := m.SelectByOrdinal(Playout, count); !errors.Is(err, ErrNoDevice) {
		t.Errorf("SelectByOrdinal out of range: expected ErrNoDevice, got %v", err)
	}
	if code := ResultCode(m.SelectByOrdinal(Playout, -1)); code != -1 {
		t.Errorf("expected result code -1, got %d", code)
	}
}

func TestMalgoSelectByUnknownID(t *testing.T) {
	m := newTestMalgoEngine(t)

	err := m.SelectByID(Playout, "no-such-device-id")
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Op != OpSelectID {
		t.Errorf("expected select-id EngineError, got %#v", err)
	}
}

func TestMalgoStreamLifecycle(t *testing.T) {
	m := newTestMalgoEngine(t)

	if err := m.Start(Playout); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start before Init: expected ErrNotInitialized, got %v", err)
	}
	if m.IsActive(Playout) {
		t.Fatal("playout should be inactive before Init")
	}

	if err := m.SelectDefaultCommunication(Playout); err != nil {
		t.Fatalf("SelectDefaultCommunication failed: %v", err)
	}
	if err := m.Init(Playout); err != nil {
		t.Skipf("cannot open the default playout device: %v", err)
	}
	if !m.IsActive(Playout) {
		t.Error("playout should be active after Init")
	}

	if err := m.Start(Playout); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !m.IsActive(Playout) || !m.streams[Playout].device.IsStarted() {
		t.Error("playout should be running after Start")
	}

	if err := m.Stop(Playout); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if m.IsActive(Playout) {
		t.Error("playout should be inactive after Stop")
	}
	if err := m.Stop(Playout); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}
