package notify

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/audiolibrelab/devswitch/internal/audio"
)

// DefaultHotplugDir holds the ALSA device nodes.
const DefaultHotplugDir = "/dev/snd"

// HotplugSource watches a device node directory and reports nodes appearing
// and disappearing. It knows nothing about defaults.
type HotplugSource struct {
	dir string
	log *slog.Logger

	mu      sync.Mutex
	clients []Client
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHotplugSource creates a source watching dir.
func NewHotplugSource(dir string, log *slog.Logger) *HotplugSource {
	if dir == "" {
		dir = DefaultHotplugDir
	}
	if log == nil {
		log = slog.Default()
	}
	return &HotplugSource{dir: dir, log: log.With("component", "hotplug-source")}
}

func (h *HotplugSource) Register(c Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watcher != nil {
		h.clients = append(h.clients, c)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to start filesystem watcher: %w", err)
	}
	if err := watcher.Add(h.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("unable to watch %s: %w", h.dir, err)
	}

	h.clients = append(h.clients, c)
	h.watcher = watcher
	h.done = make(chan struct{})
	go h.run(watcher, h.done)
	return nil
}

func (h *HotplugSource) Unregister(c Client) error {
	h.mu.Lock()
	for i, existing := range h.clients {
		if existing == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			break
		}
	}
	if len(h.clients) > 0 || h.watcher == nil {
		h.mu.Unlock()
		return nil
	}
	watcher, done := h.watcher, h.done
	h.watcher, h.done = nil, nil
	h.mu.Unlock()

	err := watcher.Close()
	<-done
	return err
}

func (h *HotplugSource) DefaultEndpoint(audio.Direction, audio.Role) (Endpoint, error) {
	return Endpoint{}, ErrUnsupported
}

func (h *HotplugSource) snapshot() []Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Client(nil), h.clients...)
}

func (h *HotplugSource) run(watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	h.log.Debug("Starting hotplug watcher", "dir", h.dir)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			h.log.Debug("Watcher event", "event", event.String())
			h.dispatch(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.log.Debug("Watcher error", "error", err)
		}
	}
}

func (h *HotplugSource) dispatch(event fsnotify.Event) {
	id := filepath.Base(event.Name)
	for _, c := range h.snapshot() {
		switch {
		case event.Has(fsnotify.Create):
			c.OnDeviceAdded(id)
		case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
			c.OnDeviceRemoved(id)
		case event.Has(fsnotify.Chmod):
			c.OnPropertyValueChanged(id, "mode")
		}
	}
}
