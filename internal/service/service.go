package service

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/config"
	"github.com/audiolibrelab/devswitch/internal/metrics"
	"github.com/audiolibrelab/devswitch/internal/notify"
	"github.com/audiolibrelab/devswitch/internal/switcher"
)

// Service represents the core devswitch service interface
type Service interface {
	// Switching operations. All of them return as soon as the intent is
	// scheduled.
	RequestSwitch(dir audio.Direction, target string) (switcher.Intent, error)
	SelectIndex(dir audio.Direction, index int) (switcher.Intent, error)
	ActivateDefault(dir audio.Direction) (switcher.Intent, error)

	// Information operations
	ListDevices(dir audio.Direction) ([]audio.Device, error)
	DefaultEndpoint(dir audio.Direction) (notify.Endpoint, error)
	GetStatus() Status
	GetConfig() *config.Config
	GetLastError() string
	Metrics() *metrics.Metrics

	// Event operations
	Subscribe(fn func(Event)) (cancel func())

	// Wait blocks until every scheduled switch has run.
	Wait()
	Close() error
}

// Status is the combined state of engine, listener and both directions.
type Status struct {
	Engine     string                     `json:"engine"`
	Listener   ListenerStatus             `json:"listener"`
	Directions []switcher.DirectionStatus `json:"directions"`
	LastError  string                     `json:"last_error,omitempty"`
}

// ListenerStatus describes the notification listener.
type ListenerStatus struct {
	Enabled    bool `json:"enabled"`
	Registered bool `json:"registered"`
	Disabled   bool `json:"disabled"`
	DryRun     bool `json:"dry_run,omitempty"`
}

// EventType tells which payload an Event carries.
type EventType string

const (
	EventNotification EventType = "notification"
	EventSwitch       EventType = "switch"
)

// Event is published to subscribers for every device notification and every
// executed switch.
type Event struct {
	Type         EventType     `json:"type"`
	Notification *notify.Event `json:"notification,omitempty"`
	Switch       *SwitchEvent  `json:"switch,omitempty"`
}

// SwitchEvent summarizes a switcher.Result.
type SwitchEvent struct {
	IntentID  string          `json:"intent_id"`
	Direction string          `json:"direction"`
	Target    string          `json:"target"`
	Source    string          `json:"source"`
	Outcome   string          `json:"outcome"`
	State     string          `json:"state"`
	Device    audio.Device    `json:"device"`
	Error     string          `json:"error,omitempty"`
	TookMS    int64           `json:"took_ms"`
	Time      time.Time       `json:"time"`
	Intent    switcher.Intent `json:"-"`
}

// Options overrides the collaborators New would otherwise build from
// configuration.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Engine  audio.Engine
	Source  notify.Source

	// DryRun logs notification intents instead of executing them.
	DryRun bool
}

// DevSwitchService is the main service implementation
type DevSwitchService struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	engine   audio.Engine
	switcher *switcher.Coordinator
	listener *notify.Listener
	enabled  bool
	dryRun   bool

	observersMutex sync.RWMutex
	observers      map[int]func(Event)
	nextObserver   int

	closeOnce sync.Once
	closeErr  error

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates the engine, the switch coordinator and the notification
// listener described by cfg. A listener that cannot register is logged and
// left inert; only engine construction errors are returned.
func New(cfg *config.Config, opts Options) (Service, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	m := opts.Metrics
	if m == nil && cfg.MetricsEnabled() {
		m = metrics.New()
	}

	engine := opts.Engine
	if engine == nil {
		var err error
		engine, err = audio.NewEngine(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio engine: %w", err)
		}
	}

	s := &DevSwitchService{
		cfg:       cfg,
		log:       log.With("component", "service"),
		metrics:   m,
		engine:    engine,
		enabled:   cfg.ListenerEnabled(),
		dryRun:    opts.DryRun,
		observers: make(map[int]func(Event)),
	}

	request, notification, index, activate := cfg.SettleDelays()
	s.switcher = switcher.New(engine, new(sync.Mutex), switcher.Options{
		RequestSettle:      request,
		NotificationSettle: notification,
		IndexSettle:        index,
		DefaultSettle:      activate,
		Logger:             log,
		Metrics:            m,
		OnResult:           s.onResult,
	})

	source := opts.Source
	if source == nil {
		source = buildSource(cfg.Listener, log)
	}
	var sink notify.IntentSink = s.switcher
	if s.dryRun {
		sink = dryRunSink{log: s.log}
	}
	s.listener = notify.NewListener(source, sink, notify.ListenerOptions{Logger: log, Metrics: m})
	s.listener.Observe(s.onNotification)

	if s.enabled {
		if err := s.listener.Register(); err != nil {
			s.setLastError(fmt.Sprintf("Device notifications unavailable: %v", err))
		}
	}

	s.log.Debug("Service created", "engine", engine.Name(), "listener", s.enabled, "dry_run", s.dryRun)
	return s, nil
}

// buildSource creates the notification sources named in the listener
// configuration.
func buildSource(cfg config.ListenerConfig, log *slog.Logger) notify.Source {
	var sources []notify.Source
	for _, name := range cfg.Sources {
		switch strings.ToLower(name) {
		case "pactl", "pulse", "pipewire":
			pw := audio.NewPipeWire(cfg.Pactl, cfg.CommandTimeout)
			sources = append(sources, notify.NewPulseSource(pw, log))
		case "hotplug":
			sources = append(sources, notify.NewHotplugSource(cfg.HotplugDir, log))
		default:
			log.Warn("Unknown notification source", "source", name)
		}
	}
	if len(sources) == 1 {
		return sources[0]
	}
	return notify.NewMultiSource(sources...)
}

type dryRunSink struct {
	log *slog.Logger
}

func (d dryRunSink) OnNotificationIntent(intent switcher.Intent) {
	d.log.Info("Dry run, not switching", "intent", intent.String())
}

// RequestSwitch schedules a switch of dir to target
func (s *DevSwitchService) RequestSwitch(dir audio.Direction, target string) (switcher.Intent, error) {
	s.log.Debug("Service.RequestSwitch called", "direction", dir.String(), "target", target)
	return s.switcher.RequestSwitch(dir, target)
}

// SelectIndex schedules a direct ordinal selection
func (s *DevSwitchService) SelectIndex(dir audio.Direction, index int) (switcher.Intent, error) {
	s.log.Debug("Service.SelectIndex called", "direction", dir.String(), "index", index)
	return s.switcher.SelectIndex(dir, index)
}

// ActivateDefault schedules a switch to the default communication device
func (s *DevSwitchService) ActivateDefault(dir audio.Direction) (switcher.Intent, error) {
	s.log.Debug("Service.ActivateDefault called", "direction", dir.String())
	return s.switcher.ActivateDefault(dir)
}

// ListDevices enumerates the devices of dir
func (s *DevSwitchService) ListDevices(dir audio.Direction) ([]audio.Device, error) {
	devices, err := s.switcher.Devices(dir)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to list %s devices: %v", dir, err))
		return nil, err
	}
	return devices, nil
}

// DefaultEndpoint returns the OS default endpoint of dir
func (s *DevSwitchService) DefaultEndpoint(dir audio.Direction) (notify.Endpoint, error) {
	return s.listener.DefaultEndpoint(dir)
}

// GetStatus returns the current status
func (s *DevSwitchService) GetStatus() Status {
	return Status{
		Engine: s.engine.Name(),
		Listener: ListenerStatus{
			Enabled:    s.enabled,
			Registered: s.listener.Registered(),
			Disabled:   s.listener.Disabled(),
			DryRun:     s.dryRun,
		},
		Directions: s.switcher.Status(),
		LastError:  s.GetLastError(),
	}
}

// GetConfig returns the current configuration
func (s *DevSwitchService) GetConfig() *config.Config {
	return s.cfg
}

// Metrics returns the metrics collectors, nil when metrics are disabled
func (s *DevSwitchService) Metrics() *metrics.Metrics {
	return s.metrics
}

// Subscribe calls fn for every event until cancel is called. fn must not
// block.
func (s *DevSwitchService) Subscribe(fn func(Event)) (cancel func()) {
	s.observersMutex.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn
	s.observersMutex.Unlock()

	return func() {
		s.observersMutex.Lock()
		delete(s.observers, id)
		s.observersMutex.Unlock()
	}
}

func (s *DevSwitchService) publish(ev Event) {
	s.observersMutex.RLock()
	defer s.observersMutex.RUnlock()
	for _, fn := range s.observers {
		fn(ev)
	}
}

func (s *DevSwitchService) onNotification(ev notify.Event) {
	s.publish(Event{Type: EventNotification, Notification: &ev})
}

func (s *DevSwitchService) onResult(res switcher.Result) {
	ev := &SwitchEvent{
		IntentID:  res.Intent.ID,
		Direction: res.Intent.Direction.String(),
		Target:    res.Intent.Target.String(),
		Source:    string(res.Intent.Source),
		Outcome:   res.Outcome,
		State:     string(res.State),
		Device:    res.Device,
		TookMS:    res.Took.Milliseconds(),
		Time:      time.Now(),
		Intent:    res.Intent,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
		s.setLastError(fmt.Sprintf("Switch %s to %s failed: %v", ev.Direction, ev.Target, res.Err))
	} else {
		s.clearLastError()
	}
	s.publish(Event{Type: EventSwitch, Switch: ev})
}

// Wait blocks until every scheduled switch has run
func (s *DevSwitchService) Wait() {
	s.switcher.Wait()
}

// Close unregisters the listener, drains scheduled switches and releases the
// engine.
func (s *DevSwitchService) Close() error {
	s.closeOnce.Do(func() {
		s.listener.Unregister()
		s.switcher.Close()
		s.closeErr = s.engine.Close()
	})
	return s.closeErr
}

// GetLastError returns the last error message (thread-safe)
func (s *DevSwitchService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *DevSwitchService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	// Log all errors for debugging and monitoring
	s.log.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *DevSwitchService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
