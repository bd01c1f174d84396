package notify

import (
	"errors"

	"github.com/audiolibrelab/devswitch/internal/audio"
)

// MultiSource fans registration out to several sources.
type MultiSource struct {
	sources []Source
}

// NewMultiSource combines sources. Registration succeeds when any of them
// registers.
func NewMultiSource(sources ...Source) *MultiSource {
	return &MultiSource{sources: sources}
}

func (m *MultiSource) Register(c Client) error {
	var errs []error
	registered := 0
	for _, s := range m.sources {
		if err := s.Register(c); err != nil {
			errs = append(errs, err)
			continue
		}
		registered++
	}
	if registered == 0 {
		if len(errs) == 0 {
			return errors.New("no notification sources configured")
		}
		return errors.Join(errs...)
	}
	return nil
}

func (m *MultiSource) Unregister(c Client) error {
	var errs []error
	for _, s := range m.sources {
		if err := s.Unregister(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultEndpoint asks each source in order and returns the first answer.
func (m *MultiSource) DefaultEndpoint(dir audio.Direction, role audio.Role) (Endpoint, error) {
	err := ErrUnsupported
	for _, s := range m.sources {
		ep, e := s.DefaultEndpoint(dir, role)
		if e == nil {
			return ep, nil
		}
		if !errors.Is(e, ErrUnsupported) {
			err = e
		}
	}
	return Endpoint{}, err
}
