package audio

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Engine operation names, used in EngineError and in the virtual journal.
const (
	OpCount         = "count"
	OpStop          = "stop"
	OpSelectOrdinal = "select-ordinal"
	OpSelectID      = "select-id"
	OpSelectDefault = "select-default"
	OpInit          = "init"
	OpStart         = "start"
)

// DefaultCommunicationID is what Selected reports after the default
// communication device sentinel was selected.
const DefaultCommunicationID = "default-communication"

// Call is one recorded engine mutation.
type Call struct {
	Op        string
	Direction Direction
	Arg       string
	At        time.Time
}

func (c Call) String() string {
	if c.Arg == "" {
		return fmt.Sprintf("%s(%s)", c.Op, c.Direction)
	}
	return fmt.Sprintf("%s(%s,%s)", c.Op, c.Direction, c.Arg)
}

type virtualStream struct {
	devices     []Device
	countErr    error
	selected    string
	initialized bool
	started     bool
}

// VirtualEngine is an in-memory Engine. It keeps a journal of every mutating
// call and counts overlapping calls so callers can verify serialization.
type VirtualEngine struct {
	mu       sync.Mutex
	streams  [2]virtualStream
	failures map[string]int
	calls    []Call

	// OpDelay widens each mutating call so unserialized callers collide.
	OpDelay time.Duration

	inFlight atomic.Int32
	overlaps atomic.Int32
}

// NewVirtualEngine creates an engine with no devices and both directions
// stopped.
func NewVirtualEngine() *VirtualEngine {
	v := &VirtualEngine{failures: make(map[string]int)}
	for i := range v.streams {
		v.streams[i].selected = DefaultCommunicationID
	}
	return v
}

func failureKey(op string, dir Direction) string {
	return op + "/" + dir.String()
}

// SetDevices replaces the enumeration for dir. Ordinals follow slice order.
func (v *VirtualEngine) SetDevices(dir Direction, devices ...Device) {
	v.mu.Lock()
	defer v.mu.Unlock()

	list := make([]Device, len(devices))
	for i, d := range devices {
		d.Ordinal = i
		list[i] = d
	}
	v.streams[dir].devices = list
	v.streams[dir].countErr = nil
}

// FailCount makes Count for dir return err.
func (v *VirtualEngine) FailCount(dir Direction, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.streams[dir].countErr = err
}

// FailOp makes op on dir return an EngineError with code. A zero code clears
// the failure.
func (v *VirtualEngine) FailOp(op string, dir Direction, code int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if code == 0 {
		delete(v.failures, failureKey(op, dir))
		return
	}
	v.failures[failureKey(op, dir)] = code
}

// SetActive forces the stream state for dir.
func (v *VirtualEngine) SetActive(dir Direction, active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.streams[dir].initialized = active
	v.streams[dir].started = active
}

// Started reports whether dir is currently started.
func (v *VirtualEngine) Started(dir Direction) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.streams[dir].started
}

// Selected returns the ID of the device currently selected for dir.
func (v *VirtualEngine) Selected(dir Direction) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.streams[dir].selected
}

// Calls returns a copy of the journal.
func (v *VirtualEngine) Calls() []Call {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Call(nil), v.calls...)
}

// ResetCalls clears the journal.
func (v *VirtualEngine) ResetCalls() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = nil
}

// Overlaps returns how many mutating calls started while another was running.
func (v *VirtualEngine) Overlaps() int {
	return int(v.overlaps.Load())
}

func (v *VirtualEngine) enter() {
	if v.inFlight.Add(1) > 1 {
		v.overlaps.Add(1)
	}
	if v.OpDelay > 0 {
		time.Sleep(v.OpDelay)
	}
}

func (v *VirtualEngine) leave() {
	v.inFlight.Add(-1)
}

// record appends to the journal and returns the injected failure, if any.
// Must hold v.mu.
func (v *VirtualEngine) record(op string, dir Direction, arg string) error {
	v.calls = append(v.calls, Call{Op: op, Direction: dir, Arg: arg, At: time.Now()})
	if code, ok := v.failures[failureKey(op, dir)]; ok {
		return &EngineError{Op: op, Direction: dir, Code: code}
	}
	return nil
}

func (v *VirtualEngine) Name() string { return "virtual" }

func (v *VirtualEngine) Close() error { return nil }

func (v *VirtualEngine) Count(dir Direction) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := &v.streams[dir]
	if s.countErr != nil {
		return -1, s.countErr
	}
	return len(s.devices), nil
}

func (v *VirtualEngine) Describe(dir Direction, ordinal int) (Device, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := &v.streams[dir]
	if ordinal < 0 || ordinal >= len(s.devices) {
		return Device{}, fmt.Errorf("%w: %s ordinal %d", ErrNoDevice, dir, ordinal)
	}
	return s.devices[ordinal], nil
}

func (v *VirtualEngine) IsActive(dir Direction) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := &v.streams[dir]
	return s.started || s.initialized
}

func (v *VirtualEngine) Stop(dir Direction) error {
	v.enter()
	defer v.leave()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.record(OpStop, dir, ""); err != nil {
		return err
	}
	v.streams[dir].started = false
	v.streams[dir].initialized = false
	return nil
}

func (v *VirtualEngine) SelectByOrdinal(dir Direction, ordinal int) error {
	v.enter()
	defer v.leave()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.record(OpSelectOrdinal, dir, strconv.Itoa(ordinal)); err != nil {
		return err
	}
	s := &v.streams[dir]
	if ordinal < 0 || ordinal >= len(s.devices) {
		return &EngineError{Op: OpSelectOrdinal, Direction: dir, Code: -1, Err: ErrNoDevice}
	}
	s.selected = s.devices[ordinal].ID
	return nil
}

func (v *VirtualEngine) SelectByID(dir Direction, id string) error {
	v.enter()
	defer v.leave()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.record(OpSelectID, dir, id); err != nil {
		return err
	}
	s := &v.streams[dir]
	for _, d := range s.devices {
		if d.ID == id {
			s.selected = id
			return nil
		}
	}
	return &EngineError{Op: OpSelectID, Direction: dir, Code: -1, Err: ErrNoDevice}
}

func (v *VirtualEngine) SelectDefaultCommunication(dir Direction) error {
	v.enter()
	defer v.leave()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.record(OpSelectDefault, dir, ""); err != nil {
		return err
	}
	v.streams[dir].selected = DefaultCommunicationID
	return nil
}

func (v *VirtualEngine) Init(dir Direction) error {
	v.enter()
	defer v.leave()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.record(OpInit, dir, ""); err != nil {
		return err
	}
	v.streams[dir].initialized = true
	return nil
}

func (v *VirtualEngine) Start(dir Direction) error {
	v.enter()
	defer v.leave()
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.record(OpStart, dir, ""); err != nil {
		return err
	}
	if !v.streams[dir].initialized {
		return &EngineError{Op: OpStart, Direction: dir, Code: -1, Err: ErrNotInitialized}
	}
	v.streams[dir].started = true
	return nil
}
