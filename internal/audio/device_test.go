package audio

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{
		"playout":   Playout,
		"Playback":  Playout,
		" render ":  Playout,
		"output":    Playout,
		"recording": Recording,
		"capture":   Recording,
		"INPUT":     Recording,
	}
	for in, want := range tests {
		got, err := ParseDirection(in)
		if err != nil {
			t.Errorf("ParseDirection(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDirection(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("Expected error for unknown direction")
	}
}

func TestDirectionTextRoundTrip(t *testing.T) {
	var d Direction
	if err := d.UnmarshalText([]byte("capture")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if d != Recording {
		t.Errorf("Expected recording, got %s", d)
	}
	b, _ := d.MarshalText()
	if string(b) != "recording" {
		t.Errorf("Expected 'recording', got %q", b)
	}
}

func TestResultCode(t *testing.T) {
	if ResultCode(nil) != 0 {
		t.Error("nil error should have result code 0")
	}
	if ResultCode(errors.New("plain")) != -1 {
		t.Error("plain error should have result code -1")
	}
	wrapped := fmt.Errorf("outer: %w", &EngineError{Op: OpInit, Direction: Playout, Code: 42})
	if got := ResultCode(wrapped); got != 42 {
		t.Errorf("Expected result code 42, got %d", got)
	}
}

func TestEnumerate(t *testing.T) {
	v := NewVirtualEngine()
	v.SetDevices(Playout,
		Device{Name: "Speakers", ID: "A"},
		Device{Name: "Headset", ID: "B"},
	)

	devices, err := Enumerate(v, Playout)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}
	if devices[1].Ordinal != 1 || devices[1].ID != "B" {
		t.Errorf("Second device incorrect: %+v", devices[1])
	}

	v.FailCount(Recording, errors.New("boom"))
	if _, err := Enumerate(v, Recording); err == nil {
		t.Error("Expected enumeration error")
	}
}

func TestVirtualEngineSelection(t *testing.T) {
	v := NewVirtualEngine()
	v.SetDevices(Recording, Device{Name: "Mic", ID: "mic-1"})

	if got := v.Selected(Recording); got != DefaultCommunicationID {
		t.Errorf("Expected default selection, got %q", got)
	}
	if err := v.SelectByID(Recording, "mic-1"); err != nil {
		t.Fatalf("SelectByID failed: %v", err)
	}
	if got := v.Selected(Recording); got != "mic-1" {
		t.Errorf("Expected mic-1, got %q", got)
	}
	if err := v.SelectByOrdinal(Recording, 5); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice, got %v", err)
	}

	v.FailOp(OpInit, Recording, 7)
	if err := v.Init(Recording); ResultCode(err) != 7 {
		t.Errorf("Expected injected code 7, got %v", err)
	}
	if err := v.Start(Recording); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}

	want := []string{"select-id(recording,mic-1)", "select-ordinal(recording,5)", "init(recording)", "start(recording)"}
	calls := v.Calls()
	if len(calls) != len(want) {
		t.Fatalf("Expected %d calls, got %v", len(want), calls)
	}
	for i, c := range calls {
		if c.String() != want[i] {
			t.Errorf("call %d = %s, want %s", i, c, want[i])
		}
	}
}

func TestVirtualEngineDetectsOverlap(t *testing.T) {
	v := NewVirtualEngine()
	v.OpDelay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = v.Stop(Playout)
		}()
	}
	wg.Wait()

	if v.Overlaps() == 0 {
		t.Error("Expected concurrent calls to be reported as overlapping")
	}
}
