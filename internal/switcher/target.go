// Package switcher resolves switch intents to concrete devices and executes
// the stop, select, init and start cycle under a single process-wide lock.
package switcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/audiolibrelab/devswitch/internal/audio"
)

// TargetKind tags the variant held by a Target.
type TargetKind int

const (
	TargetDefault TargetKind = iota
	TargetOrdinal
	TargetStableID
)

func (k TargetKind) String() string {
	switch k {
	case TargetDefault:
		return "default"
	case TargetOrdinal:
		return "ordinal"
	case TargetStableID:
		return "stable-id"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Target identifies the device an intent asks for.
type Target struct {
	Kind    TargetKind
	Ordinal int
	ID      string
}

// DefaultTarget selects the default communication device.
func DefaultTarget() Target { return Target{Kind: TargetDefault} }

// OrdinalTarget selects a device by its position in the current enumeration.
func OrdinalTarget(n int) Target { return Target{Kind: TargetOrdinal, Ordinal: n} }

// StableIDTarget selects a device by its stable identifier.
func StableIDTarget(id string) Target { return Target{Kind: TargetStableID, ID: id} }

// ParseTarget parses the request grammar: "" and "default" mean the default
// communication device, "#<n>" an ordinal, anything else a stable id matched
// verbatim.
func ParseTarget(s string) Target {
	if s == "" || s == "default" {
		return DefaultTarget()
	}
	if rest, ok := strings.CutPrefix(s, "#"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return OrdinalTarget(n)
		}
	}
	return StableIDTarget(s)
}

// String returns the target in request grammar.
func (t Target) String() string {
	switch t.Kind {
	case TargetOrdinal:
		return "#" + strconv.Itoa(t.Ordinal)
	case TargetStableID:
		return t.ID
	default:
		return "default"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Target) UnmarshalText(b []byte) error {
	*t = ParseTarget(string(b))
	return nil
}

// Matches reports whether dev satisfies the target. Alias devices never match
// a stable id, ordinals match regardless of name.
func (t Target) Matches(dev audio.Device) bool {
	switch t.Kind {
	case TargetOrdinal:
		return dev.Ordinal == t.Ordinal
	case TargetStableID:
		return !IsAliasName(dev.Name) && dev.ID == t.ID
	default:
		return false
	}
}

var aliasPrefixes = []string{"Default - ", "Communication - "}

// IsAliasName reports whether name is one of the virtual default or
// communication aliases the OS lists next to physical endpoints.
func IsAliasName(name string) bool {
	for _, p := range aliasPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Source is where an intent came from. It selects the settle delay.
type Source string

const (
	SourceRequest      Source = "request"
	SourceNotification Source = "notification"
	SourceIndex        Source = "index"
	SourceDefault      Source = "default"
)

// Intent is a parsed, not yet executed switch request. It is consumed by a
// single execution attempt.
type Intent struct {
	ID        string          `json:"id"`
	Direction audio.Direction `json:"direction"`
	Target    Target          `json:"target"`
	Source    Source          `json:"source"`
}

// NewIntent creates an intent with a fresh correlation ID.
func NewIntent(dir audio.Direction, target Target, source Source) Intent {
	return Intent{
		ID:        uuid.NewString(),
		Direction: dir,
		Target:    target,
		Source:    source,
	}
}

func (i Intent) String() string {
	return fmt.Sprintf("%s %s(%s) [%s]", i.Source, i.Direction, i.Target, i.ID)
}
