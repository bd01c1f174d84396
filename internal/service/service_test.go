package service

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/config"
	"github.com/audiolibrelab/devswitch/internal/notify"
)

type stubSource struct {
	mu     sync.Mutex
	client notify.Client
	err    error
}

func (s *stubSource) Register(c notify.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.client = c
	return nil
}

func (s *stubSource) Unregister(notify.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	return nil
}

func (s *stubSource) DefaultEndpoint(dir audio.Direction, role audio.Role) (notify.Endpoint, error) {
	return notify.Endpoint{ID: "alsa_output.builtin", Name: "Built-in Audio"}, nil
}

func (s *stubSource) Client() notify.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.Backend = "virtual"
	cfg.Engine.Virtual = config.VirtualConfig{
		Playout: []config.DeviceDefinition{
			{Name: "Speakers", ID: "A"},
			{Name: "Headset", ID: "B"},
		},
		Recording: []config.DeviceDefinition{
			{Name: "Microphone", ID: "M"},
		},
		Active: []string{"playout"},
	}
	cfg.Switch = config.SwitchConfig{}
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, src notify.Source, dryRun bool) (*DevSwitchService, *audio.VirtualEngine) {
	t.Helper()
	engine, err := audio.NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	v := engine.(*audio.VirtualEngine)

	svc, err := New(cfg, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Engine: v,
		Source: src,
		DryRun: dryRun,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc.(*DevSwitchService), v
}

func TestServiceRequestSwitch(t *testing.T) {
	svc, engine := newTestService(t, testConfig(), &stubSource{}, false)

	var (
		mu     sync.Mutex
		events []Event
	)
	cancel := svc.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer cancel()

	intent, err := svc.RequestSwitch(audio.Playout, "B")
	if err != nil {
		t.Fatal(err)
	}
	svc.Wait()

	if got := engine.Selected(audio.Playout); got != "B" {
		t.Errorf("Expected B selected, got %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Type != EventSwitch {
		t.Fatalf("Expected one switch event, got %+v", events)
	}
	sw := events[0].Switch
	if sw.IntentID != intent.ID || sw.State != "started" || sw.Device.Name != "Headset" {
		t.Errorf("Unexpected switch event %+v", sw)
	}
}

func TestServiceNotificationDrivesSwitch(t *testing.T) {
	src := &stubSource{}
	svc, engine := newTestService(t, testConfig(), src, false)

	client := src.Client()
	if client == nil {
		t.Fatal("Expected listener to be registered")
	}

	var kinds []string
	svc.Subscribe(func(ev Event) {
		if ev.Notification != nil {
			kinds = append(kinds, string(ev.Notification.Kind))
		}
	})

	client.OnDefaultDeviceChanged(audio.Playout, audio.Communications, "A")
	client.OnDefaultDeviceChanged(audio.Playout, audio.Console, "B")
	svc.Wait()

	if got := engine.Selected(audio.Playout); got != "B" {
		t.Errorf("Expected B selected, got %q", got)
	}
	if len(kinds) != 2 {
		t.Errorf("Expected 2 notifications, got %v", kinds)
	}
}

func TestServiceDryRun(t *testing.T) {
	src := &stubSource{}
	svc, engine := newTestService(t, testConfig(), src, true)

	src.Client().OnDefaultDeviceChanged(audio.Playout, audio.Console, "B")
	svc.Wait()

	if n := len(engine.Calls()); n != 0 {
		t.Errorf("Dry run touched the engine: %d calls", n)
	}
	if !svc.GetStatus().Listener.DryRun {
		t.Error("Expected dry run in status")
	}
}

func TestServiceListenerFailureIsNotFatal(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), &stubSource{err: errors.New("pactl not found")}, false)

	st := svc.GetStatus()
	if !st.Listener.Disabled || st.Listener.Registered {
		t.Errorf("Expected disabled listener, got %+v", st.Listener)
	}
	if !strings.Contains(svc.GetLastError(), "pactl not found") {
		t.Errorf("Expected last error to mention registration, got %q", svc.GetLastError())
	}

	// Switching still works.
	svc.ActivateDefault(audio.Recording)
	svc.Wait()
	if got := svc.GetLastError(); got != "" {
		t.Errorf("Expected successful switch to clear the error, got %q", got)
	}
}

func TestServiceListenerDisabledByConfig(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.Listener.Enabled = &off
	src := &stubSource{}
	svc, _ := newTestService(t, cfg, src, false)

	if src.Client() != nil {
		t.Error("Listener registered although disabled")
	}
	ep, err := svc.DefaultEndpoint(audio.Playout)
	if err != nil || ep.Name != "Built-in Audio" {
		t.Errorf("Unexpected endpoint %+v (%v)", ep, err)
	}
}

func TestServiceFailedSwitchSetsLastError(t *testing.T) {
	svc, engine := newTestService(t, testConfig(), &stubSource{}, false)
	engine.FailOp(audio.OpInit, audio.Playout, 9)

	svc.SelectIndex(audio.Playout, 0)
	svc.Wait()

	if !strings.Contains(svc.GetLastError(), "Switch playout to #0 failed") {
		t.Errorf("Unexpected last error %q", svc.GetLastError())
	}
	for _, d := range svc.GetStatus().Directions {
		if d.Direction == audio.Playout && d.State != "stopped-on-failure" {
			t.Errorf("Expected stopped-on-failure, got %s", d.State)
		}
	}
}

func TestServiceListDevices(t *testing.T) {
	svc, engine := newTestService(t, testConfig(), &stubSource{}, false)

	devices, err := svc.ListDevices(audio.Playout)
	if err != nil || len(devices) != 2 {
		t.Fatalf("Unexpected devices %+v (%v)", devices, err)
	}

	engine.FailCount(audio.Recording, errors.New("no table"))
	if _, err := svc.ListDevices(audio.Recording); err == nil {
		t.Error("Expected enumeration error")
	}
	if svc.GetLastError() == "" {
		t.Error("Expected last error to be set")
	}
}

func TestServiceCloseRejectsSwitches(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), &stubSource{}, false)
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RequestSwitch(audio.Playout, "A"); err == nil {
		t.Error("Expected error after close")
	}
}

func TestBuildSource(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, ok := buildSource(config.ListenerConfig{Sources: []string{"pactl"}}, log).(*notify.PulseSource); !ok {
		t.Error("Expected a pulse source")
	}
	if _, ok := buildSource(config.ListenerConfig{Sources: []string{"hotplug"}}, log).(*notify.HotplugSource); !ok {
		t.Error("Expected a hotplug source")
	}
	if _, ok := buildSource(config.ListenerConfig{Sources: []string{"pactl", "hotplug"}}, log).(*notify.MultiSource); !ok {
		t.Error("Expected a multi source")
	}
}

func TestServiceLogsWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := testConfig()
	engine, err := audio.NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(cfg, Options{Logger: log, Engine: engine, Source: &stubSource{err: errors.New("no sound server")}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RequestSwitch(audio.Playout, "A"); err != nil {
		t.Fatal(err)
	}
	svc.Wait()
	svc.Close()

	var created, requested, failed bool
	for _, line := range strings.Split(buf.String(), "\n") {
		switch {
		case strings.Contains(line, "Service created"):
			created = strings.Contains(line, "component=service")
		case strings.Contains(line, "Service.RequestSwitch called"):
			requested = strings.Contains(line, "component=service")
		case strings.Contains(line, "Service error occurred"):
			failed = strings.Contains(line, "component=service")
		}
	}
	if !created || !requested || !failed {
		t.Errorf("service lines must carry component=service (created=%v requested=%v error=%v):\n%s",
			created, requested, failed, buf.String())
	}
}
