// Package notify bridges OS audio device notifications into switch intents.
package notify

import (
	"errors"
	"time"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/switcher"
)

var (
	// ErrUnsupported is returned by sources that cannot answer a query.
	ErrUnsupported = errors.New("not supported by notification source")

	// ErrDisabled is returned by a listener whose registration failed.
	ErrDisabled = errors.New("listener is disabled")
)

// Client is the callback surface a Source delivers device events to. Device
// identifiers are opaque strings.
type Client interface {
	OnDefaultDeviceChanged(dir audio.Direction, role audio.Role, id string)
	OnDeviceAdded(id string)
	OnDeviceRemoved(id string)
	OnDeviceStateChanged(id string, state audio.DeviceState)
	OnPropertyValueChanged(id string, key string)
}

// Source is an OS notification subsystem.
type Source interface {
	// Register starts delivering events to c.
	Register(c Client) error

	// Unregister stops delivering events to c and releases whatever
	// Register acquired once no clients remain.
	Unregister(c Client) error

	// DefaultEndpoint returns the current default endpoint for dir and role.
	DefaultEndpoint(dir audio.Direction, role audio.Role) (Endpoint, error)
}

// Endpoint identifies an OS default endpoint.
type Endpoint struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IntentSink receives the intents a Listener produces.
type IntentSink interface {
	OnNotificationIntent(intent switcher.Intent)
}

// EventKind classifies a device notification.
type EventKind string

const (
	EventDefaultChanged  EventKind = "default-changed"
	EventAdded           EventKind = "added"
	EventRemoved         EventKind = "removed"
	EventStateChanged    EventKind = "state-changed"
	EventPropertyChanged EventKind = "property-changed"
)

// Event is a device notification as seen by the listener.
type Event struct {
	Kind      EventKind `json:"kind"`
	DeviceID  string    `json:"device_id"`
	Direction string    `json:"direction,omitempty"`
	Role      string    `json:"role,omitempty"`
	State     string    `json:"state,omitempty"`
	Property  string    `json:"property,omitempty"`

	// IntentID is set when the event was forwarded as a switch intent.
	IntentID string    `json:"intent_id,omitempty"`
	Time     time.Time `json:"time"`
}
