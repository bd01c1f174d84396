package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Direction selects the playout (render) or recording (capture) side of the
// audio engine.
type Direction int

const (
	Playout Direction = iota
	Recording
)

// Directions lists both directions in a stable order.
var Directions = []Direction{Playout, Recording}

func (d Direction) String() string {
	switch d {
	case Playout:
		return "playout"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection accepts the canonical names plus the usual aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playout", "playback", "render", "output", "speaker":
		return Playout, nil
	case "recording", "capture", "input", "microphone", "mic":
		return Recording, nil
	}
	return 0, fmt.Errorf("unknown direction %q (valid: playout, recording)", s)
}

// Role is the OS role a default endpoint is designated for.
type Role int

const (
	Console Role = iota
	Multimedia
	Communications
)

func (r Role) String() string {
	switch r {
	case Console:
		return "console"
	case Multimedia:
		return "multimedia"
	case Communications:
		return "communications"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// DeviceState is the hot-plug state reported for an endpoint.
type DeviceState int

const (
	StateActive DeviceState = 1 << iota
	StateDisabled
	StateNotPresent
	StateUnplugged
)

func (s DeviceState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateDisabled:
		return "DISABLED"
	case StateNotPresent:
		return "NOTPRESENT"
	case StateUnplugged:
		return "UNPLUGGED"
	default:
		return "UNKNOWN"
	}
}

// Device describes one enumerated endpoint. Ordinals are only meaningful
// within the enumeration pass that produced them.
type Device struct {
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
	ID      string `json:"id"`
}

var (
	// ErrAudioDisabled is returned by engines compiled without audio support.
	ErrAudioDisabled = errors.New("audio was disabled during compilation")

	// ErrNoDevice is returned when an ordinal or identifier does not name a
	// currently enumerated device.
	ErrNoDevice = errors.New("no such device")

	// ErrNotInitialized is returned when starting a stream that was never
	// initialized.
	ErrNotInitialized = errors.New("stream not initialized")
)

// Enumerator reports the devices currently available for a direction.
type Enumerator interface {
	// Count returns the number of devices. A count <= 0 or an error means
	// enumeration failed.
	Count(dir Direction) (int, error)

	// Describe returns the device at the given ordinal of the last Count.
	Describe(dir Direction, ordinal int) (Device, error)
}

// StreamController drives the non-reentrant start/stop/select protocol of the
// audio engine. Callers must serialize access.
type StreamController interface {
	IsActive(dir Direction) bool
	Stop(dir Direction) error
	SelectByOrdinal(dir Direction, ordinal int) error
	SelectByID(dir Direction, id string) error
	SelectDefaultCommunication(dir Direction) error
	Init(dir Direction) error
	Start(dir Direction) error
}

// Engine is the full collaborator the switching core operates on.
type Engine interface {
	Enumerator
	StreamController

	Name() string
	Close() error
}

// EngineError carries the native result code of a failed engine operation.
type EngineError struct {
	Op        string
	Direction Direction
	Code      int
	Err       error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed (result %d): %v", e.Direction, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s failed (result %d)", e.Direction, e.Op, e.Code)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ResultCode extracts the native result code from err. It returns 0 for a nil
// error and -1 for errors that carry no code.
func ResultCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return -1
}

// Enumerate lists every device for dir using a single Count pass.
func Enumerate(e Enumerator, dir Direction) ([]Device, error) {
	count, err := e.Count(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s devices: %w", dir, err)
	}

	devices := make([]Device, 0, max(count, 0))
	for i := 0; i < count; i++ {
		dev, err := e.Describe(dir, i)
		if err != nil {
			return nil, fmt.Errorf("failed to describe %s device %d: %w", dir, i, err)
		}
		devices = append(devices, dev)
	}
	return devices, nil
}
