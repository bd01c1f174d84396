package audio

import (
	"testing"
)

func TestParseSubscribeLine(t *testing.T) {
	tests := []struct {
		line     string
		ok       bool
		kind     string
		facility string
		index    int
	}{
		{"Event 'new' on sink #57", true, "new", "sink", 57},
		{"Event 'remove' on source #12", true, "remove", "source", 12},
		{"Event 'change' on server #4294967295", true, "change", "server", -1},
		{"Event 'change' on sink-input #3", true, "change", "sink-input", 3},
		{"Event 'change' on card", true, "change", "card", -1},
		{"garbage", false, "", "", 0},
		{"", false, "", "", 0},
	}

	for _, tt := range tests {
		ev, ok := ParseSubscribeLine(tt.line)
		if ok != tt.ok {
			t.Errorf("ParseSubscribeLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if ev.Kind != tt.kind || ev.Facility != tt.facility || ev.Index != tt.index {
			t.Errorf("ParseSubscribeLine(%q) = %+v, want kind=%s facility=%s index=%d",
				tt.line, ev, tt.kind, tt.facility, tt.index)
		}
	}
}

func TestParseShortList(t *testing.T) {
	output := "57\talsa_output.pci-0000_00_1f.3.analog-stereo\tPipeWire\ts32le 2ch 48000Hz\tRUNNING\n" +
		"63\tbluez_output.00_1B_66.1\tPipeWire\ts16le 2ch 48000Hz\tSUSPENDED\n" +
		"not-a-number\tbroken\n" +
		"\n"

	endpoints := parseShortList(output)
	if len(endpoints) != 2 {
		t.Fatalf("Expected 2 endpoints, got %d: %+v", len(endpoints), endpoints)
	}
	if endpoints[0].Index != 57 || endpoints[0].Name != "alsa_output.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("First endpoint incorrect: %+v", endpoints[0])
	}
	if endpoints[1].State != StateActive {
		t.Errorf("Suspended endpoint should be active, got %s", endpoints[1].State)
	}
}

func TestParseDescriptions(t *testing.T) {
	output := `Sink #57
	State: RUNNING
	Name: alsa_output.pci-0000_00_1f.3.analog-stereo
	Description: Built-in Audio Analog Stereo
	Driver: PipeWire

Sink #63
	State: SUSPENDED
	Name: bluez_output.00_1B_66.1
	Description: Headset
`
	desc := parseDescriptions(output)
	if got := desc["alsa_output.pci-0000_00_1f.3.analog-stereo"]; got != "Built-in Audio Analog Stereo" {
		t.Errorf("Expected built-in description, got %q", got)
	}
	if got := desc["bluez_output.00_1B_66.1"]; got != "Headset" {
		t.Errorf("Expected headset description, got %q", got)
	}
}

func TestDirectionForFacility(t *testing.T) {
	if dir, ok := DirectionForFacility("sink"); !ok || dir != Playout {
		t.Errorf("sink should map to playout, got %s %v", dir, ok)
	}
	if dir, ok := DirectionForFacility("source"); !ok || dir != Recording {
		t.Errorf("source should map to recording, got %s %v", dir, ok)
	}
	if _, ok := DirectionForFacility("server"); ok {
		t.Error("server should not map to a direction")
	}
}
