//go:build cgo && !noaudio

package audio

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/gen2brain/malgo"
)

const malgoCompiled = true

var malgoBackends = map[string]malgo.Backend{
	"pulseaudio": malgo.BackendPulseaudio,
	"alsa":       malgo.BackendAlsa,
	"jack":       malgo.BackendJack,
	"wasapi":     malgo.BackendWasapi,
	"dsound":     malgo.BackendDsound,
	"coreaudio":  malgo.BackendCoreaudio,
	"null":       malgo.BackendNull,
}

type malgoStream struct {
	// snapshot is the latest enumeration, refreshed by Count and
	// SelectByOrdinal.
	snapshot []malgo.DeviceInfo

	// selected is nil when the OS default device is selected.
	selected *malgo.DeviceID
	device   *malgo.Device
}

// MalgoEngine drives real devices through miniaudio.
type MalgoEngine struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	cfg     MalgoConfig
	log     *slog.Logger
	streams [2]malgoStream
}

func malgoType(dir Direction) malgo.DeviceType {
	if dir == Recording {
		return malgo.Capture
	}
	return malgo.Playback
}

// deviceIDString turns a native device id into a stable printable string.
// Backends that use textual ids (pulseaudio, alsa) keep them verbatim so they
// line up with the ids reported by pactl.
func deviceIDString(id malgo.DeviceID) string {
	raw := strings.TrimRight(string(id[:]), "\x00")
	for _, r := range raw {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return hex.EncodeToString([]byte(raw))
		}
	}
	return raw
}

func newMalgoEngine(cfg MalgoConfig, log *slog.Logger) (Engine, error) {
	var backends []malgo.Backend
	for _, name := range cfg.Backends {
		b, ok := malgoBackends[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown malgo backend %q", name)
		}
		backends = append(backends, b)
	}

	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(msg string) {
		log.Debug("miniaudio", "message", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	return &MalgoEngine{ctx: ctx, cfg: cfg, log: log}, nil
}

func malgoError(op string, dir Direction, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Direction: dir, Code: -1, Err: err}
}

func (m *MalgoEngine) Name() string { return "malgo" }

func (m *MalgoEngine) Count(dir Direction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos, err := m.ctx.Devices(malgoType(dir))
	if err != nil {
		m.streams[dir].snapshot = nil
		return -1, malgoError(OpCount, dir, err)
	}
	m.streams[dir].snapshot = infos
	return len(infos), nil
}

func (m *MalgoEngine) Describe(dir Direction, ordinal int) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.streams[dir].snapshot
	if ordinal < 0 || ordinal >= len(snap) {
		return Device{}, fmt.Errorf("%w: %s ordinal %d", ErrNoDevice, dir, ordinal)
	}
	info := snap[ordinal]
	return Device{Ordinal: ordinal, Name: info.Name(), ID: deviceIDString(info.ID)}, nil
}

func (m *MalgoEngine) IsActive(dir Direction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[dir].device != nil
}

func (m *MalgoEngine) Stop(dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(dir)
}

// stopLocked stops and releases the stream device. Must hold m.mu.
func (m *MalgoEngine) stopLocked(dir Direction) error {
	s := &m.streams[dir]
	if s.device == nil {
		return nil
	}
	var err error
	if s.device.IsStarted() {
		err = s.device.Stop()
	}
	s.device.Uninit()
	s.device = nil
	return malgoError(OpStop, dir, err)
}

// SelectByOrdinal resolves ordinal against a fresh enumeration, so it does
// not depend on an earlier Count.
func (m *MalgoEngine) SelectByOrdinal(dir Direction, ordinal int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos, err := m.ctx.Devices(malgoType(dir))
	if err != nil {
		return malgoError(OpSelectOrdinal, dir, err)
	}
	s := &m.streams[dir]
	s.snapshot = infos
	if ordinal < 0 || ordinal >= len(infos) {
		return &EngineError{Op: OpSelectOrdinal, Direction: dir, Code: -1, Err: ErrNoDevice}
	}
	id := infos[ordinal].ID
	s.selected = &id
	return nil
}

func (m *MalgoEngine) SelectByID(dir Direction, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos, err := m.ctx.Devices(malgoType(dir))
	if err != nil {
		return malgoError(OpSelectID, dir, err)
	}
	for _, info := range infos {
		if deviceIDString(info.ID) == id {
			native := info.ID
			m.streams[dir].selected = &native
			return nil
		}
	}
	return &EngineError{Op: OpSelectID, Direction: dir, Code: -1, Err: ErrNoDevice}
}

func (m *MalgoEngine) SelectDefaultCommunication(dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[dir].selected = nil
	return nil
}

func (m *MalgoEngine) Init(dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.stopLocked(dir); err != nil {
		m.log.Warn("Failed to release previous stream", "direction", dir, "error", err)
	}

	s := &m.streams[dir]
	deviceConfig := malgo.DefaultDeviceConfig(malgoType(dir))
	deviceConfig.SampleRate = m.cfg.SampleRate
	deviceConfig.PeriodSizeInMilliseconds = m.cfg.PeriodMS
	deviceConfig.Alsa.NoMMap = 1

	var callbacks malgo.DeviceCallbacks
	if dir == Playout {
		deviceConfig.Playback.Format = malgo.FormatS16
		deviceConfig.Playback.Channels = m.cfg.Channels
		if s.selected != nil {
			deviceConfig.Playback.DeviceID = s.selected.Pointer()
		}
		callbacks.Data = func(out, _ []byte, _ uint32) {
			clear(out)
		}
	} else {
		deviceConfig.Capture.Format = malgo.FormatS16
		deviceConfig.Capture.Channels = m.cfg.Channels
		if s.selected != nil {
			deviceConfig.Capture.DeviceID = s.selected.Pointer()
		}
		callbacks.Data = func(_, _ []byte, _ uint32) {}
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return malgoError(OpInit, dir, err)
	}
	s.device = device
	return nil
}

func (m *MalgoEngine) Start(dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.streams[dir]
	if s.device == nil {
		return &EngineError{Op: OpStart, Direction: dir, Code: -1, Err: ErrNotInitialized}
	}
	return malgoError(OpStart, dir, s.device.Start())
}

func (m *MalgoEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, dir := range Directions {
		if err := m.stopLocked(dir); err != nil {
			m.log.Warn("Failed to stop stream on close", "direction", dir, "error", err)
		}
	}
	if err := m.ctx.Uninit(); err != nil {
		return err
	}
	m.ctx.Free()
	return nil
}
