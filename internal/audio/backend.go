package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/devswitch/internal/config"
)

// BackendType represents the type of audio engine backend
type BackendType string

const (
	BackendTypeMalgo   BackendType = "malgo"
	BackendTypeVirtual BackendType = "virtual"
	BackendTypeAuto    BackendType = "auto"
)

// MalgoConfig holds the stream parameters used when opening devices through
// miniaudio.
type MalgoConfig struct {
	SampleRate uint32
	Channels   uint32
	PeriodMS   uint32
	Backends   []string
}

// NewEngine creates an engine using the appropriate backend based on configuration
func NewEngine(cfg *config.Config, log *slog.Logger) (Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine")

	backendType := determineBackend(cfg)
	switch backendType {
	case BackendTypeMalgo:
		engine, err := newMalgoEngine(MalgoConfig{
			SampleRate: uint32(cfg.Engine.SampleRate),
			Channels:   uint32(cfg.Engine.Channels),
			PeriodMS:   uint32(cfg.Engine.PeriodMS),
			Backends:   cfg.Engine.Drivers,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create malgo engine: %w", err)
		}
		log.Info("Audio engine ready", "backend", engine.Name())
		return engine, nil

	default:
		engine := NewVirtualEngine()
		engine.SetDevices(Playout, virtualDevices(cfg.Engine.Virtual.Playout)...)
		engine.SetDevices(Recording, virtualDevices(cfg.Engine.Virtual.Recording)...)
		for _, dir := range cfg.Engine.Virtual.Active {
			if d, err := ParseDirection(dir); err == nil {
				engine.SetActive(d, true)
			}
		}
		log.Info("Audio engine ready", "backend", engine.Name(),
			"playout_devices", len(cfg.Engine.Virtual.Playout),
			"recording_devices", len(cfg.Engine.Virtual.Recording))
		return engine, nil
	}
}

func virtualDevices(defs []config.DeviceDefinition) []Device {
	devices := make([]Device, len(defs))
	for i, def := range defs {
		devices[i] = Device{Name: def.Name, ID: def.ID}
	}
	return devices
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch BackendType(strings.ToLower(cfg.Engine.Backend)) {
	case BackendTypeMalgo:
		return BackendTypeMalgo
	case BackendTypeVirtual:
		return BackendTypeVirtual
	}

	if malgoCompiled {
		return BackendTypeMalgo
	}
	return BackendTypeVirtual
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}
	if malgoCompiled {
		backends = append(backends, BackendTypeMalgo)
	}
	backends = append(backends, BackendTypeVirtual)
	return backends
}
