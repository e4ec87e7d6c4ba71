// Package engine runs the once-per-second control loop that turns the audio
// peak into detector decisions and trigger invocations.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/njh/silentjack/internal/audio"
	"github.com/njh/silentjack/internal/detector"
	"github.com/njh/silentjack/internal/trigger"
	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/util"
)

// ErrAlreadyRunning is returned when Run is called on a running engine.
var ErrAlreadyRunning = errors.New("engine already running")

// sourceStatus is implemented by sources that restart themselves.
type sourceStatus interface {
	LastError() string
	RetryCount() int
}

// Snapshot is a point-in-time view of the engine for status reporting.
type Snapshot struct {
	State      types.EngineState
	Name       string
	Device     string
	Connected  bool
	LevelDB    float64
	Counters   detector.State
	StartTime  time.Time
	Fires      int
	LastError  string
	RetryCount int
}

// Engine owns the peak accumulator, the detector and the shutdown flag.
type Engine struct {
	source   audio.Source
	invoker  trigger.Invoker
	machine  *detector.Machine
	interval time.Duration
	name     string

	observers []Observer

	// acc is installed once the source has started; Observe before that is
	// a no-op.
	acc atomic.Pointer[audio.PeakAccumulator]

	shutdown     atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	running      atomic.Bool

	// Owned by the control loop.
	previous     float64
	wasConnected bool

	mu     sync.RWMutex
	status Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickInterval overrides the one-second tick.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithName sets the client name reported in events.
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// WithObserver adds an observer for ticks and events.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// New returns an engine for the given detector configuration, audio source
// and trigger. A nil invoker never fires anything.
func New(cfg detector.Config, source audio.Source, invoker trigger.Invoker, opts ...Option) *Engine {
	if invoker == nil {
		invoker = trigger.NewCommand(nil)
	}
	e := &Engine{
		source:     source,
		invoker:    invoker,
		machine:    detector.New(cfg),
		interval:   types.TickInterval,
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status = Snapshot{State: types.StateStopped, Name: e.name}
	return e
}

// Observe feeds a float block into the peak accumulator. It is the audio
// callback path: lock-free and allocation-free.
func (e *Engine) Observe(block []float32) {
	e.acc.Load().Observe(block)
}

// ObserveS16LE feeds 16-bit PCM into the peak accumulator.
func (e *Engine) ObserveS16LE(buf []byte) {
	e.acc.Load().ObserveS16LE(buf)
}

// Config returns the detector configuration.
func (e *Engine) Config() detector.Config {
	return e.machine.Config()
}

// Shutdown asks the control loop to stop. It is safe to call from any
// goroutine and more than once. No trigger is invoked after it returns.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.shutdown.Store(true)
		close(e.shutdownCh)
	})
}

// Status returns a copy of the current status.
func (e *Engine) Status() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	if st, ok := e.source.(sourceStatus); ok {
		s.LastError = st.LastError()
		s.RetryCount = st.RetryCount()
	}
	return s
}

// Run starts the audio source and ticks until ctx is cancelled, Shutdown is
// called, the source goes away or the trigger asks to exit. It returns
// trigger.ErrExit in the last case.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	e.setState(types.StateStarting)
	if err := e.source.Start(ctx, e); err != nil {
		e.setState(types.StateStopped)
		return util.WrapError("start audio source", err)
	}
	defer util.SafeCloseFunc(e.source, "audio source")()

	e.acc.Store(audio.NewPeakAccumulator())

	e.mu.Lock()
	e.status.State = types.StateRunning
	e.status.StartTime = time.Now()
	e.status.Device = e.source.Device()
	e.mu.Unlock()

	cfg := e.machine.Config()
	slog.Info("detector started",
		"name", e.name,
		"device", e.source.Device(),
		"silence_threshold_db", cfg.SilenceThresholdDB,
		"silence_period", cfg.SilencePeriod,
		"no_dynamic_threshold_db", cfg.NoDynamicThresholdDB,
		"no_dynamic_period", cfg.NoDynamicPeriod,
		"grace", cfg.Grace,
		"reverse", cfg.Invert)
	e.emit(EventStarted, "", 0, "")

	defer func() {
		e.setState(types.StateStopped)
		e.emit(EventStopped, "", e.previous, "")
		slog.Info("detector stopped", "name", e.name)
	}()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Shutdown()
		case <-e.shutdownCh:
		case <-e.source.Done():
			slog.Warn("audio source shut down", "device", e.source.Device())
			e.emit(EventSourceLost, "", e.previous, "audio source shut down")
			e.Shutdown()
		case <-ticker.C:
		}

		if e.shutdown.Load() {
			e.setState(types.StateStopping)
			return nil
		}

		if err := e.step(ctx); err != nil {
			return err
		}
	}
}

// step runs one tick. It only returns an error when the trigger asks the
// program to exit.
func (e *Engine) step(ctx context.Context) error {
	connected := e.source.Connected()
	e.trackConnection(connected)
	if !connected {
		return nil
	}

	acc := e.acc.Load()
	reading := audio.ToDecibels(float64(acc.ReadAndReset()))
	previous := e.previous
	fires := e.machine.Tick(reading, previous)
	e.previous = reading

	kinds := e.machine.Kinds(fires)
	state := e.machine.State()

	e.mu.Lock()
	e.status.LevelDB = reading
	e.status.Counters = state
	e.status.Fires += len(kinds)
	e.mu.Unlock()

	slog.Debug("tick",
		"level_db", reading,
		"silence_count", state.SilenceCount,
		"no_dynamic_count", state.NoDynamicCount,
		"grace", state.GraceRemaining)

	report := TickReport{
		Time:       time.Now(),
		LevelDB:    reading,
		PreviousDB: previous,
		State:      state,
		Fired:      kinds,
	}
	for _, o := range e.observers {
		o.OnTick(report)
	}

	for _, kind := range kinds {
		if e.shutdown.Load() {
			return nil
		}
		slog.Info("detector fired", "name", e.name, "kind", kind, "level_db", reading)
		e.emit(EventFire, kind, reading, "")

		err := e.invoker.Fire(ctx, trigger.Event{Kind: kind, LevelDB: reading, Name: e.name})
		if errors.Is(err, trigger.ErrExit) {
			e.Shutdown()
			return err
		}
	}
	return nil
}

func (e *Engine) trackConnection(connected bool) {
	if connected == e.wasConnected {
		return
	}
	e.wasConnected = connected

	e.mu.Lock()
	e.status.Connected = connected
	e.mu.Unlock()

	if connected {
		slog.Info("audio input connected", "device", e.source.Device())
		e.emit(EventConnected, "", 0, "")
		return
	}
	slog.Warn("audio input disconnected", "device", e.source.Device())
	e.emit(EventDisconnected, "", 0, "")
}

func (e *Engine) emit(t EventType, kind detector.Kind, levelDB float64, msg string) {
	if len(e.observers) == 0 {
		return
	}
	ev := Event{
		ID:      uuid.NewString(),
		Time:    time.Now(),
		Type:    t,
		Name:    e.name,
		Device:  e.source.Device(),
		Kind:    kind,
		LevelDB: levelDB,
		Message: msg,
	}
	for _, o := range e.observers {
		o.OnEvent(ev)
	}
}

func (e *Engine) setState(s types.EngineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.State = s
}
