//go:build !cgo || noaudio

// The malgo engine needs cgo. This file is only used in cgo-less and noaudio
// builds.

package audio

import "log/slog"

const malgoCompiled = false

func newMalgoEngine(cfg MalgoConfig, log *slog.Logger) (Engine, error) {
	return nil, ErrAudioDisabled
}
