package switcher

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc/panics"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/metrics"
)

// ErrClosed is returned for intents submitted after Close.
var ErrClosed = errors.New("switcher is closed")

// State is the conceptual per-direction state of the coordinator.
type State string

const (
	StateStopped   State = "stopped"
	StateSwitching State = "switching"
	StateStarted   State = "started"
	StateFailed    State = "stopped-on-failure"
)

// Settle delays applied after taking the switch lock.
const (
	DefaultRequestSettle      = 500 * time.Millisecond
	DefaultNotificationSettle = 380 * time.Millisecond
	DefaultIndexSettle        = 500 * time.Millisecond
	DefaultActivateSettle     = 500 * time.Millisecond
)

// Options configures a Coordinator. Zero settle values mean no delay.
type Options struct {
	RequestSettle      time.Duration
	NotificationSettle time.Duration
	IndexSettle        time.Duration
	DefaultSettle      time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnResult is called after every executed intent, outside the lock.
	OnResult func(Result)
}

// DefaultOptions returns options carrying the standard settle delays.
func DefaultOptions() Options {
	return Options{
		RequestSettle:      DefaultRequestSettle,
		NotificationSettle: DefaultNotificationSettle,
		IndexSettle:        DefaultIndexSettle,
		DefaultSettle:      DefaultActivateSettle,
	}
}

// Result describes how one intent was executed.
type Result struct {
	Intent  Intent        `json:"intent"`
	Outcome string        `json:"outcome"`
	Device  audio.Device  `json:"device"`
	State   State         `json:"state"`
	Err     error         `json:"-"`
	Took    time.Duration `json:"took"`
}

// DirectionStatus is a snapshot of the last switch of one direction.
type DirectionStatus struct {
	Direction  audio.Direction `json:"direction"`
	State      State           `json:"state"`
	LastIntent *Intent         `json:"last_intent,omitempty"`
	Device     *audio.Device   `json:"device,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Coordinator serializes every switch of both directions behind one lock.
// All intent entry points return immediately; the work happens on a
// background goroutine.
type Coordinator struct {
	engine  audio.Engine
	lock    sync.Locker
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	status *xsync.MapOf[audio.Direction, DirectionStatus]

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a coordinator driving engine. lock is the process-wide switch
// mutex and must be shared by everything else that mutates engine.
func New(engine audio.Engine, lock sync.Locker, opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if lock == nil {
		lock = new(sync.Mutex)
	}

	c := &Coordinator{
		engine:  engine,
		lock:    lock,
		opts:    opts,
		log:     log.With("component", "switcher"),
		metrics: opts.Metrics,
		status:  xsync.NewMapOf[audio.Direction, DirectionStatus](),
	}
	for _, dir := range audio.Directions {
		st := StateStopped
		if engine.IsActive(dir) {
			st = StateStarted
		}
		c.status.Store(dir, DirectionStatus{Direction: dir, State: st, UpdatedAt: time.Now()})
	}
	return c
}

// RequestSwitch parses target and schedules a switch of dir. Target is "",
// "default", "#<n>" or a stable device id.
func (c *Coordinator) RequestSwitch(dir audio.Direction, target string) (Intent, error) {
	intent := NewIntent(dir, ParseTarget(target), SourceRequest)
	return intent, c.submit(intent)
}

// OnNotificationIntent schedules an intent produced by the notification
// listener. Intents without an ID get one.
func (c *Coordinator) OnNotificationIntent(intent Intent) {
	if intent.ID == "" {
		intent = NewIntent(intent.Direction, intent.Target, intent.Source)
	}
	if intent.Source == "" {
		intent.Source = SourceNotification
	}
	if err := c.submit(intent); err != nil {
		c.log.Debug("Dropped notification intent", "intent", intent.String(), "error", err)
	}
}

// SelectIndex schedules a direct ordinal selection with no default fallback.
func (c *Coordinator) SelectIndex(dir audio.Direction, index int) (Intent, error) {
	intent := NewIntent(dir, OrdinalTarget(index), SourceIndex)
	return intent, c.submit(intent)
}

// ActivateDefault schedules a switch of dir to the default communication
// device.
func (c *Coordinator) ActivateDefault(dir audio.Direction) (Intent, error) {
	intent := NewIntent(dir, DefaultTarget(), SourceDefault)
	return intent, c.submit(intent)
}

// Devices enumerates dir while holding the switch lock.
func (c *Coordinator) Devices(dir audio.Direction) ([]audio.Device, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return audio.Enumerate(c.engine, dir)
}

// Status returns a snapshot for each direction.
func (c *Coordinator) Status() []DirectionStatus {
	out := make([]DirectionStatus, 0, len(audio.Directions))
	for _, dir := range audio.Directions {
		out = append(out, c.StatusOf(dir))
	}
	return out
}

// StatusOf returns the snapshot for dir.
func (c *Coordinator) StatusOf(dir audio.Direction) DirectionStatus {
	st, ok := c.status.Load(dir)
	if !ok {
		return DirectionStatus{Direction: dir, State: StateStopped}
	}
	return st
}

// Wait blocks until every scheduled intent has run.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops accepting intents and waits for the scheduled ones.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Coordinator) submit(intent Intent) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.metrics.IntentDropped("closed")
		return ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.TaskStarted()
	c.log.Debug("Scheduled switch", "intent", intent.String())
	go c.run(intent)
	return nil
}

func (c *Coordinator) settle(src Source) time.Duration {
	switch src {
	case SourceNotification:
		return c.opts.NotificationSettle
	case SourceIndex:
		return c.opts.IndexSettle
	case SourceDefault:
		return c.opts.DefaultSettle
	default:
		return c.opts.RequestSettle
	}
}

func (c *Coordinator) run(intent Intent) {
	defer c.wg.Done()
	defer c.metrics.TaskDone()

	res := c.locked(intent)

	c.metrics.SwitchCompleted(intent.Direction.String(), string(intent.Source), res.Outcome, res.Took)
	if c.opts.OnResult != nil {
		c.opts.OnResult(res)
	}
}

func (c *Coordinator) locked(intent Intent) (res Result) {
	c.lock.Lock()
	defer c.lock.Unlock()

	start := time.Now()
	c.markSwitching(intent)
	time.Sleep(c.settle(intent.Source))

	var pc panics.Catcher
	pc.Try(func() {
		if intent.Source == SourceIndex {
			res = c.selectIndex(intent)
		} else {
			res = c.switchTo(intent)
		}
	})
	if r := pc.Recovered(); r != nil {
		c.log.Error("Switch panicked", "intent", intent.String(), "panic", r.Value, "stack", string(r.Stack))
		res = Result{
			Intent:  intent,
			Outcome: metrics.OutcomePanic,
			Err:     r.AsError(),
		}
	}

	res.Took = time.Since(start)
	res.State = c.finalState(intent.Direction, res.Err)
	c.record(res)
	return res
}

// switchTo resolves intent against the current enumeration, falling back to
// the default communication device, and restarts the stream if it was
// running before.
func (c *Coordinator) switchTo(intent Intent) Result {
	dir := intent.Direction
	log := c.log.With("direction", dir.String(), "target", intent.Target.String(), "intent", intent.ID)
	res := Result{Intent: intent}

	wasActive := c.engine.IsActive(dir)
	if wasActive {
		if err := c.engine.Stop(dir); err != nil {
			c.opFailed(log, dir, audio.OpStop, err)
			res.Err = err
		}
	}

	if dev, ok := c.selectMatch(log, intent); ok {
		res.Outcome = metrics.OutcomeSpecific
		res.Device = dev
	} else {
		res.Outcome = metrics.OutcomeFallback
		res.Device = defaultCommunicationDevice
		if err := c.engine.SelectDefaultCommunication(dir); err != nil {
			c.opFailed(log, dir, audio.OpSelectDefault, err)
			res.Err = err
		} else {
			log.Info("Selected default communication device")
		}
	}

	if wasActive {
		if err := c.restart(log, dir); err != nil {
			res.Err = err
		}
	}
	return res
}

var defaultCommunicationDevice = audio.Device{
	Ordinal: -1,
	Name:    "Default communication device",
	ID:      audio.DefaultCommunicationID,
}

// selectMatch scans the enumeration in ordinal order and selects the first
// device matching the target. It reports false when nothing was selected.
func (c *Coordinator) selectMatch(log *slog.Logger, intent Intent) (audio.Device, bool) {
	dir := intent.Direction
	if intent.Target.Kind == TargetDefault {
		return audio.Device{}, false
	}

	count, err := c.engine.Count(dir)
	if err != nil || count <= 0 {
		log.Warn("Could not get device count", "count", count, "error", err)
		return audio.Device{}, false
	}

	for i := 0; i < count; i++ {
		dev, err := c.engine.Describe(dir, i)
		if err != nil {
			log.Warn("Could not describe device", "ordinal", i, "error", err)
			continue
		}
		dev.Ordinal = i
		if !intent.Target.Matches(dev) {
			continue
		}

		if intent.Target.Kind == TargetStableID {
			err = c.engine.SelectByID(dir, dev.ID)
		} else {
			err = c.engine.SelectByOrdinal(dir, i)
		}
		if err != nil {
			log.Error("Failed to select device", "name", dev.Name, "ordinal", i,
				"code", audio.ResultCode(err), "error", err)
			c.metrics.EngineFailure(dir.String(), selectOp(intent.Target))
			return dev, false
		}
		log.Info("Selected device", "name", dev.Name, "ordinal", i, "id", dev.ID)
		return dev, true
	}

	log.Warn("Could not find device", "count", count)
	return audio.Device{}, false
}

// selectIndex selects an ordinal directly. Playout is always stopped and
// restarted, and a failed stop or select abandons the cycle. Recording is only
// restarted when it was running.
func (c *Coordinator) selectIndex(intent Intent) Result {
	dir := intent.Direction
	index := intent.Target.Ordinal
	log := c.log.With("direction", dir.String(), "index", index, "intent", intent.ID)
	res := Result{Intent: intent, Outcome: metrics.OutcomeSpecific}

	wasActive := c.engine.IsActive(dir)
	if dir == audio.Playout {
		if err := c.engine.Stop(dir); err != nil {
			c.opFailed(log, dir, audio.OpStop, err)
			res.Outcome, res.Err = metrics.OutcomeStopped, err
			return res
		}
		if err := c.engine.SelectByOrdinal(dir, index); err != nil {
			c.opFailed(log, dir, audio.OpSelectOrdinal, err)
			res.Outcome, res.Err = metrics.OutcomeStopped, err
			return res
		}
		res.Device = c.describe(dir, index)
		if err := c.restart(log, dir); err != nil {
			res.Err = err
		}
		return res
	}

	if wasActive {
		if err := c.engine.Stop(dir); err != nil {
			c.opFailed(log, dir, audio.OpStop, err)
			res.Err = err
		}
	}
	if err := c.engine.SelectByOrdinal(dir, index); err != nil {
		c.opFailed(log, dir, audio.OpSelectOrdinal, err)
		res.Outcome, res.Err = metrics.OutcomeStopped, err
	} else {
		res.Device = c.describe(dir, index)
		log.Info("Selected device", "name", res.Device.Name)
	}
	if wasActive {
		if err := c.restart(log, dir); err != nil {
			res.Err = err
		}
	}
	return res
}

func (c *Coordinator) describe(dir audio.Direction, index int) audio.Device {
	dev, err := c.engine.Describe(dir, index)
	if err != nil {
		return audio.Device{Ordinal: index}
	}
	dev.Ordinal = index
	return dev
}

// restart initializes and starts dir. An init failure leaves it stopped.
func (c *Coordinator) restart(log *slog.Logger, dir audio.Direction) error {
	if err := c.engine.Init(dir); err != nil {
		c.opFailed(log, dir, audio.OpInit, err)
		return err
	}
	if err := c.engine.Start(dir); err != nil {
		c.opFailed(log, dir, audio.OpStart, err)
		return err
	}
	log.Debug("Restarted stream")
	return nil
}

func (c *Coordinator) opFailed(log *slog.Logger, dir audio.Direction, op string, err error) {
	log.Error("Engine operation failed", "op", op, "code", audio.ResultCode(err), "error", err)
	c.metrics.EngineFailure(dir.String(), op)
}

func selectOp(t Target) string {
	if t.Kind == TargetStableID {
		return audio.OpSelectID
	}
	return audio.OpSelectOrdinal
}

func (c *Coordinator) finalState(dir audio.Direction, err error) State {
	switch {
	case c.engine.IsActive(dir):
		return StateStarted
	case err != nil:
		return StateFailed
	default:
		return StateStopped
	}
}

func (c *Coordinator) markSwitching(intent Intent) {
	c.status.Compute(intent.Direction, func(st DirectionStatus, _ bool) (DirectionStatus, bool) {
		st.Direction = intent.Direction
		st.State = StateSwitching
		st.LastIntent = &intent
		st.UpdatedAt = time.Now()
		return st, false
	})
}

func (c *Coordinator) record(res Result) {
	st := DirectionStatus{
		Direction:  res.Intent.Direction,
		State:      res.State,
		LastIntent: &res.Intent,
		Outcome:    res.Outcome,
		UpdatedAt:  time.Now(),
	}
	if res.Device.ID != "" || res.Device.Name != "" {
		dev := res.Device
		st.Device = &dev
	}
	if res.Err != nil {
		st.LastError = res.Err.Error()
	}
	c.status.Store(res.Intent.Direction, st)
}
