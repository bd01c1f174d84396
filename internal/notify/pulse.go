package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/devswitch/internal/audio"
)

// PulseControl is the subset of the pactl wrapper the pulse source needs.
type PulseControl interface {
	DefaultEndpoint(dir audio.Direction) (string, error)
	ListEndpoints(dir audio.Direction) ([]audio.Endpoint, error)
	Describe(dir audio.Direction, name string) (string, error)
	Subscribe(ctx context.Context, log *slog.Logger) (<-chan audio.PulseEvent, error)
}

// PulseSource turns `pactl subscribe` events into Client callbacks. The sound
// server has a single default per direction, reported as the console role.
type PulseSource struct {
	ctl PulseControl
	log *slog.Logger

	mu       sync.Mutex
	clients  []Client
	cancel   context.CancelFunc
	done     chan struct{}
	names    [2]map[int]string
	defaults [2]string
}

// NewPulseSource creates a source driven by ctl.
func NewPulseSource(ctl PulseControl, log *slog.Logger) *PulseSource {
	if log == nil {
		log = slog.Default()
	}
	return &PulseSource{ctl: ctl, log: log.With("component", "pulse-source")}
}

func (p *PulseSource) Register(c Client) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.clients = append(p.clients, c)
		return nil
	}

	for _, dir := range audio.Directions {
		name, err := p.ctl.DefaultEndpoint(dir)
		if err != nil {
			return fmt.Errorf("failed to query default %s endpoint: %w", dir, err)
		}
		p.defaults[dir] = name
		p.names[dir] = p.loadNames(dir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.ctl.Subscribe(ctx, p.log)
	if err != nil {
		cancel()
		return err
	}

	p.clients = append(p.clients, c)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(events, p.done)
	return nil
}

func (p *PulseSource) Unregister(c Client) error {
	p.mu.Lock()
	for i, existing := range p.clients {
		if existing == c {
			p.clients = append(p.clients[:i], p.clients[i+1:]...)
			break
		}
	}
	if len(p.clients) > 0 || p.cancel == nil {
		p.mu.Unlock()
		return nil
	}
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (p *PulseSource) DefaultEndpoint(dir audio.Direction, role audio.Role) (Endpoint, error) {
	name, err := p.ctl.DefaultEndpoint(dir)
	if err != nil {
		return Endpoint{}, err
	}
	ep := Endpoint{ID: name, Name: name}
	if desc, err := p.ctl.Describe(dir, name); err == nil {
		ep.Name = desc
	}
	return ep, nil
}

func (p *PulseSource) loadNames(dir audio.Direction) map[int]string {
	names := make(map[int]string)
	endpoints, err := p.ctl.ListEndpoints(dir)
	if err != nil {
		p.log.Debug("Failed to list endpoints", "direction", dir.String(), "error", err)
		return names
	}
	for _, ep := range endpoints {
		names[ep.Index] = ep.Name
	}
	return names
}

func (p *PulseSource) snapshot() []Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Client(nil), p.clients...)
}

func (p *PulseSource) run(events <-chan audio.PulseEvent, done chan struct{}) {
	defer close(done)
	for ev := range events {
		p.handle(ev)
	}
	p.log.Debug("Event stream closed")
}

func (p *PulseSource) handle(ev audio.PulseEvent) {
	if ev.Facility == "server" && ev.Kind == "change" {
		p.checkDefaults()
		return
	}

	dir, ok := audio.DirectionForFacility(ev.Facility)
	if !ok {
		return
	}

	switch ev.Kind {
	case "new":
		p.mu.Lock()
		p.names[dir] = p.loadNames(dir)
		id := p.idFor(dir, ev.Index)
		p.mu.Unlock()
		for _, c := range p.snapshot() {
			c.OnDeviceAdded(id)
		}

	case "remove":
		p.mu.Lock()
		id := p.idFor(dir, ev.Index)
		delete(p.names[dir], ev.Index)
		p.mu.Unlock()
		for _, c := range p.snapshot() {
			c.OnDeviceRemoved(id)
		}

	case "change":
		endpoints, err := p.ctl.ListEndpoints(dir)
		if err != nil {
			return
		}
		for _, ep := range endpoints {
			if ep.Index != ev.Index {
				continue
			}
			for _, c := range p.snapshot() {
				c.OnDeviceStateChanged(ep.Name, ep.State)
			}
			return
		}
	}
}

// idFor must be called with p.mu held.
func (p *PulseSource) idFor(dir audio.Direction, index int) string {
	if name, ok := p.names[dir][index]; ok {
		return name
	}
	return fmt.Sprintf("%s#%d", dir, index)
}

// checkDefaults re-queries both defaults and reports the ones that moved.
func (p *PulseSource) checkDefaults() {
	for _, dir := range audio.Directions {
		name, err := p.ctl.DefaultEndpoint(dir)
		if err != nil {
			p.log.Debug("Default endpoint lookup failed", "direction", dir.String(), "error", err)
			continue
		}

		p.mu.Lock()
		changed := name != p.defaults[dir]
		p.defaults[dir] = name
		p.mu.Unlock()

		if !changed {
			continue
		}
		for _, c := range p.snapshot() {
			c.OnDefaultDeviceChanged(dir, audio.Console, name)
		}
	}
}
