package audio

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PipeWire talks to the PipeWire (or PulseAudio) server through pactl.
type PipeWire struct {
	pactl   string
	timeout time.Duration
}

// Endpoint is one sink or source as listed by the sound server.
type Endpoint struct {
	Index       int
	Name        string
	Description string
	State       DeviceState
}

// PulseEvent is one line of `pactl subscribe` output.
type PulseEvent struct {
	Kind     string // new, change, remove
	Facility string // sink, source, server, card, ...
	Index    int
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire(pactlPath string, timeout time.Duration) *PipeWire {
	if pactlPath == "" {
		pactlPath = "pactl"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PipeWire{pactl: pactlPath, timeout: timeout}
}

func facilityFor(dir Direction) string {
	if dir == Recording {
		return "source"
	}
	return "sink"
}

// DirectionForFacility maps a pactl facility to a direction.
func DirectionForFacility(facility string) (Direction, bool) {
	switch facility {
	case "sink":
		return Playout, true
	case "source":
		return Recording, true
	}
	return 0, false
}

func (pw *PipeWire) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pw.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, pw.pactl, args...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pactl %s failed: %w", strings.Join(args, " "), err)
	}
	return string(output), nil
}

// DefaultEndpoint returns the name of the default sink or source.
func (pw *PipeWire) DefaultEndpoint(dir Direction) (string, error) {
	output, err := pw.run("get-default-" + facilityFor(dir))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(output)
	if name == "" {
		return "", fmt.Errorf("no default %s reported", facilityFor(dir))
	}
	return name, nil
}

// ListEndpoints returns all sinks or sources with their state.
func (pw *PipeWire) ListEndpoints(dir Direction) ([]Endpoint, error) {
	output, err := pw.run("list", "short", facilityFor(dir)+"s")
	if err != nil {
		return nil, err
	}
	return parseShortList(output), nil
}

// Describe returns the human readable description of the named endpoint.
func (pw *PipeWire) Describe(dir Direction, name string) (string, error) {
	output, err := pw.run("list", facilityFor(dir)+"s")
	if err != nil {
		return "", err
	}
	desc, ok := parseDescriptions(output)[name]
	if !ok {
		return "", fmt.Errorf("%w: %s %s", ErrNoDevice, facilityFor(dir), name)
	}
	return desc, nil
}

// Subscribe runs `pactl subscribe` until ctx is canceled. The returned channel
// is closed when the process exits.
func (pw *PipeWire) Subscribe(ctx context.Context, log *slog.Logger) (<-chan PulseEvent, error) {
	cmd := exec.CommandContext(ctx, pw.pactl, "subscribe")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pactl subscribe: %w", err)
	}

	events := make(chan PulseEvent, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			ev, ok := ParseSubscribeLine(scanner.Text())
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			log.Warn("pactl subscribe exited", "error", err)
		}
	}()
	return events, nil
}

var subscribeLineRe = regexp.MustCompile(`^Event '(\w+)' on ([\w-]+)(?: #(\d+))?`)

// ParseSubscribeLine parses a line such as "Event 'new' on sink #57".
func ParseSubscribeLine(line string) (PulseEvent, bool) {
	m := subscribeLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return PulseEvent{}, false
	}
	ev := PulseEvent{Kind: m[1], Facility: m[2], Index: -1}
	if m[3] != "" {
		if idx, err := strconv.ParseUint(m[3], 10, 32); err == nil && idx <= 1<<31-1 {
			ev.Index = int(idx)
		}
	}
	return ev, true
}

// parseShortList parses `pactl list short sinks|sources`.
func parseShortList(output string) []Endpoint {
	var endpoints []Endpoint
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ep := Endpoint{Index: idx, Name: fields[1], State: StateActive}
		if len(fields) >= 5 {
			ep.State = parsePulseState(fields[4])
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

func parsePulseState(s string) DeviceState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RUNNING", "IDLE", "SUSPENDED":
		return StateActive
	case "UNLINKED":
		return StateNotPresent
	default:
		return StateDisabled
	}
}

// parseDescriptions maps endpoint names to descriptions from the long
// `pactl list sinks|sources` output.
func parseDescriptions(output string) map[string]string {
	descriptions := make(map[string]string)
	var current string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Name:"):
			current = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		case strings.HasPrefix(line, "Description:") && current != "":
			descriptions[current] = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
			current = ""
		}
	}
	return descriptions
}
