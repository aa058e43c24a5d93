package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EchoPBX/devtools-bridge/internal/events"
	"github.com/EchoPBX/devtools-bridge/internal/gesture"
	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
	"go.uber.org/zap"
)

// ModuleName is the name the bridge registers under in the host runtime.
const ModuleName = "DevTools"

var vocabulary = []string{sdk.EventShake, sdk.EventLog}

type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateTornDown:
		return "torn-down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Registrar is the host runtime side the bridge registers with.
type Registrar interface {
	Register(m sdk.Module) error
	Unregister(name string)
}

type Observer interface {
	events.Observer
	gesture.Observer
}

// LogStore is the persisted log the shaker toggle may reset.
type LogStore interface {
	Delete() (bool, error)
}

type Config struct {
	DebounceWindow time.Duration
	ShakeEnabled   bool
	LogLevel       sdk.Level
	Location       *time.Location
}

type options struct {
	registrar Registrar
	store     LogStore
	obs       Observer
	now       func() time.Time
	onError   func(*events.ListenerCallbackError)
}

type Option func(*options)

func WithRegistrar(r Registrar) Option { return func(o *options) { o.registrar = r } }
func WithLogStore(s LogStore) Option   { return func(o *options) { o.store = s } }
func WithObserver(obs Observer) Option { return func(o *options) { o.obs = obs } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithErrorHandler receives every isolated listener failure.
func WithErrorHandler(fn func(*events.ListenerCallbackError)) Option {
	return func(o *options) { o.onError = fn }
}

// Bridge owns the detector, the queue and the emitter. They are built
// together in New and torn down together in Close.
type Bridge struct {
	log       *zap.Logger
	registrar Registrar
	store     LogStore
	loc       *time.Location
	now       func() time.Time

	emitter  *events.Emitter
	queue    *events.Queue
	detector *gesture.Detector

	lifeMu sync.Mutex
	state  atomic.Int32
	level  atomic.Int32
}

func New(cfg Config, log *zap.Logger, opts ...Option) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	var evObs events.Observer
	var gObs gesture.Observer
	if o.obs != nil {
		evObs, gObs = o.obs, o.obs
	}

	emitter := events.NewEmitter(
		events.WithLogger(log.Named("emitter")),
		events.WithObserver(evObs),
		events.WithErrorHandler(o.onError),
	)
	queue := events.NewQueue(emitter,
		events.WithQueueLogger(log.Named("queue")),
		events.WithQueueObserver(evObs),
		events.WithQueueClock(o.now),
	)
	detector := gesture.NewDetector(queue,
		gesture.WithWindow(cfg.DebounceWindow),
		gesture.WithEnabled(cfg.ShakeEnabled),
		gesture.WithClock(o.now),
		gesture.WithObserver(gObs),
		gesture.WithLogger(log.Named("gesture")),
	)

	loc := cfg.Location
	if loc == nil {
		loc = DefaultLocation
	}
	b := &Bridge{
		log:       log,
		registrar: o.registrar,
		store:     o.store,
		loc:       loc,
		now:       o.now,
		emitter:   emitter,
		queue:     queue,
		detector:  detector,
	}
	b.level.Store(int32(cfg.LogLevel))
	return b
}

func (b *Bridge) Name() string     { return ModuleName }
func (b *Bridge) Events() []string { return append([]string(nil), vocabulary...) }
func (b *Bridge) State() State     { return State(b.state.Load()) }

// Start moves the bridge to active and registers it with the host runtime.
// It may be called from any goroutine; no listener runs during Start.
func (b *Bridge) Start() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if st := b.State(); st != StateUninitialized {
		return &LifecycleError{Op: "start", State: st}
	}
	if b.registrar != nil {
		if err := b.registrar.Register(b); err != nil {
			return fmt.Errorf("register %s: %w", ModuleName, err)
		}
	}
	b.state.Store(int32(StateActive))
	b.log.Info("bridge active",
		zap.Duration("debounce_window", b.detector.Window()),
		zap.Bool("shake_enabled", b.detector.Enabled()),
		zap.Stringer("log_level", b.LogLevel()))
	return nil
}

func (b *Bridge) check(op string) error {
	if st := b.State(); st != StateActive {
		return &LifecycleError{Op: op, State: st}
	}
	return nil
}

func (b *Bridge) Subscribe(eventName string, cb sdk.Callback) (sdk.Handle, error) {
	if err := b.check("subscribe"); err != nil {
		return "", err
	}
	if !known(eventName) {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, eventName)
	}
	h, err := b.emitter.Subscribe(eventName, cb)
	if errors.Is(err, events.ErrEmitterClosed) {
		return "", &LifecycleError{Op: "subscribe", State: StateTornDown}
	}
	return h, err
}

func (b *Bridge) Unsubscribe(h sdk.Handle) error {
	if err := b.check("unsubscribe"); err != nil {
		return err
	}
	return b.emitter.Unsubscribe(h)
}

// EnqueueLog queues an opaque log payload for the "log" listeners.
func (b *Bridge) EnqueueLog(payload any) error {
	return b.EnqueueLogFrom(sdk.OriginBackground, payload)
}

func (b *Bridge) EnqueueLogFrom(origin sdk.Origin, payload any) error {
	if err := b.check("enqueue log"); err != nil {
		return err
	}
	if _, err := b.queue.Enqueue(sdk.EventLog, payload, origin); err != nil {
		// lost a race with Close
		return &LifecycleError{Op: "enqueue log", State: StateTornDown}
	}
	return nil
}

// Log formats an entry and queues it, unless level is above the threshold.
func (b *Bridge) Log(level sdk.Level, msg string, params ...any) error {
	return b.LogFrom(sdk.OriginBackground, level, msg, params...)
}

func (b *Bridge) LogFrom(origin sdk.Origin, level sdk.Level, msg string, params ...any) error {
	if err := b.check("log"); err != nil {
		return err
	}
	if level == sdk.LevelNone || level > b.LogLevel() {
		return nil
	}
	at := b.now()
	entry := sdk.LogEntry{
		Level:   level,
		Message: msg,
		Params:  params,
		Time:    at,
		Line:    FormatLine(level, msg, params, at, b.loc),
	}
	return b.EnqueueLogFrom(origin, entry)
}

// OnRawSignal feeds the motion source into the detector.
func (b *Bridge) OnRawSignal(sig gesture.Signal) (bool, error) {
	if err := b.check("raw signal"); err != nil {
		return false, err
	}
	return b.detector.OnRawSignal(sig), nil
}

// EnableShaker toggles shake detection, optionally wiping the stored log first.
func (b *Bridge) EnableShaker(enabled, deleteLog bool) error {
	if err := b.check("enable shaker"); err != nil {
		return err
	}
	if deleteLog && b.store != nil {
		if _, err := b.store.Delete(); err != nil {
			return err
		}
	}
	b.detector.Enable(enabled)
	b.log.Info("shaker toggled", zap.Bool("enabled", enabled), zap.Bool("delete_log", deleteLog))
	return nil
}

func (b *Bridge) SetDebounceWindow(d time.Duration) { b.detector.SetWindow(d) }
func (b *Bridge) SetLogLevel(l sdk.Level)           { b.level.Store(int32(l)) }
func (b *Bridge) LogLevel() sdk.Level               { return sdk.Level(b.level.Load()) }

type Stats struct {
	State          State          `json:"state"`
	Pending        int            `json:"pending"`
	Listeners      map[string]int `json:"listeners"`
	ShakeEnabled   bool           `json:"shake_enabled"`
	DebounceWindow string         `json:"debounce_window"`
	LogLevel       sdk.Level      `json:"log_level"`
}

func (b *Bridge) Stats() Stats {
	listeners := make(map[string]int, len(vocabulary))
	for _, n := range vocabulary {
		listeners[n] = b.emitter.Listeners(n)
	}
	return Stats{
		State:          b.State(),
		Pending:        b.queue.Len(),
		Listeners:      listeners,
		ShakeEnabled:   b.detector.Enabled(),
		DebounceWindow: b.detector.Window().String(),
		LogLevel:       b.LogLevel(),
	}
}

// Stop implements sdk.Module.
func (b *Bridge) Stop(ctx context.Context) error { return b.Close(ctx) }

// Close stops the detector, delivers everything already queued and then
// drops all listeners. It is idempotent. It must not be called from inside a
// listener, since it waits for the delivery context to go idle.
func (b *Bridge) Close(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	prev := State(b.state.Swap(int32(StateTornDown)))
	if prev == StateTornDown {
		return nil
	}

	b.detector.Stop()
	b.queue.Close()
	err := b.queue.Flush(ctx)
	if err != nil {
		b.log.Warn("teardown before queue drained",
			zap.Int("pending", b.queue.Len()), zap.Error(err))
		err = fmt.Errorf("flush events: %w", err)
	}
	b.emitter.Close()
	if prev == StateActive && b.registrar != nil {
		b.registrar.Unregister(ModuleName)
	}
	b.log.Info("bridge torn down")
	return err
}

func known(name string) bool {
	for _, n := range vocabulary {
		if n == name {
			return true
		}
	}
	return false
}

var _ sdk.Module = (*Bridge)(nil)
