package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/metrics"
	"github.com/audiolibrelab/devswitch/internal/switcher"
)

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Listener filters raw device notifications and forwards console default
// device changes to an IntentSink. Registration failures leave it inert.
type Listener struct {
	source  Source
	sink    IntentSink
	log     *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	registered bool
	disabled   bool
	observers  map[int]func(Event)
	nextID     int
}

// NewListener creates an unregistered listener.
func NewListener(source Source, sink IntentSink, opts ListenerOptions) *Listener {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		source:    source,
		sink:      sink,
		log:       log.With("component", "listener"),
		metrics:   opts.Metrics,
		observers: make(map[int]func(Event)),
	}
}

// Register subscribes to the source. Calling it again while registered is a
// no-op. A failure is logged and disables the listener; the error is returned
// for diagnostics only.
func (l *Listener) Register() error {
	l.mu.Lock()
	if l.disabled {
		l.mu.Unlock()
		return ErrDisabled
	}
	if l.registered {
		l.mu.Unlock()
		return nil
	}
	l.registered = true
	l.mu.Unlock()

	if err := l.source.Register(l); err != nil {
		l.mu.Lock()
		l.registered = false
		l.disabled = true
		l.mu.Unlock()
		l.log.Warn("Device notifications unavailable, hot-plug switching disabled", "error", err)
		return err
	}
	l.log.Info("Registered for device notifications")
	return nil
}

// Unregister releases the subscription. It is a no-op when not registered.
func (l *Listener) Unregister() error {
	l.mu.Lock()
	if !l.registered {
		l.mu.Unlock()
		return nil
	}
	l.registered = false
	l.mu.Unlock()

	if err := l.source.Unregister(l); err != nil {
		l.log.Warn("Failed to unregister from device notifications", "error", err)
		return err
	}
	l.log.Debug("Unregistered from device notifications")
	return nil
}

// Registered reports whether the listener currently receives callbacks.
func (l *Listener) Registered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registered
}

// Disabled reports whether registration failed.
func (l *Listener) Disabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disabled
}

// Observe calls fn for every accepted event until the returned func is
// called. fn runs on the source's goroutine and must not block.
func (l *Listener) Observe(fn func(Event)) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.observers[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}

// DefaultEndpoint queries the console default endpoint for dir.
func (l *Listener) DefaultEndpoint(dir audio.Direction) (Endpoint, error) {
	ep, err := l.source.DefaultEndpoint(dir, audio.Console)
	if err != nil {
		l.log.Debug("Default endpoint lookup failed", "direction", dir.String(), "error", err)
		return Endpoint{}, err
	}
	return ep, nil
}

// accept returns the observers to notify, or false when callbacks must be
// dropped.
func (l *Listener) accept() ([]func(Event), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.registered || l.disabled {
		return nil, false
	}
	obs := make([]func(Event), 0, len(l.observers))
	for _, fn := range l.observers {
		obs = append(obs, fn)
	}
	return obs, true
}

func (l *Listener) publish(obs []func(Event), ev Event) {
	ev.Time = time.Now()
	l.metrics.Notification(string(ev.Kind))
	for _, fn := range obs {
		fn(ev)
	}
}

func (l *Listener) OnDefaultDeviceChanged(dir audio.Direction, role audio.Role, id string) {
	obs, ok := l.accept()
	if !ok {
		return
	}
	ev := Event{Kind: EventDefaultChanged, DeviceID: id, Direction: dir.String(), Role: role.String()}

	// Communications changes are covered by the default communication
	// device fallback.
	if role != audio.Console {
		l.log.Debug("Ignoring default device change", "direction", dir.String(), "role", role.String(), "id", id)
		l.publish(obs, ev)
		return
	}

	intent := switcher.NewIntent(dir, switcher.StableIDTarget(id), switcher.SourceNotification)
	ev.IntentID = intent.ID
	l.log.Info("Default device changed", "direction", dir.String(), "id", id, "intent", intent.ID)
	l.sink.OnNotificationIntent(intent)
	l.publish(obs, ev)
}

func (l *Listener) OnDeviceAdded(id string) {
	obs, ok := l.accept()
	if !ok {
		return
	}
	l.log.Info("Device added", "id", id)
	l.publish(obs, Event{Kind: EventAdded, DeviceID: id})
}

func (l *Listener) OnDeviceRemoved(id string) {
	obs, ok := l.accept()
	if !ok {
		return
	}
	l.log.Info("Device removed", "id", id)
	l.publish(obs, Event{Kind: EventRemoved, DeviceID: id})
}

// OnDeviceStateChanged only logs. Falling back when the active device is
// unplugged is left to the default-changed notification the OS sends next.
func (l *Listener) OnDeviceStateChanged(id string, state audio.DeviceState) {
	obs, ok := l.accept()
	if !ok {
		return
	}
	l.log.Info("Device state changed", "id", id, "state", state.String())
	l.publish(obs, Event{Kind: EventStateChanged, DeviceID: id, State: state.String()})
}

func (l *Listener) OnPropertyValueChanged(id string, key string) {
	obs, ok := l.accept()
	if !ok {
		return
	}
	l.log.Debug("Device property changed", "id", id, "key", key)
	l.publish(obs, Event{Kind: EventPropertyChanged, DeviceID: id, Property: key})
}
