package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EchoPBX/devtools-bridge/internal/events"
	"github.com/EchoPBX/devtools-bridge/internal/gesture"
	"github.com/EchoPBX/devtools-bridge/internal/host"
	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type collected struct {
	mu       sync.Mutex
	payloads []any
}

func (c *collected) add(p any) error {
	c.mu.Lock()
	c.payloads = append(c.payloads, p)
	c.mu.Unlock()
	return nil
}

func (c *collected) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func defaultConfig() Config {
	return Config{
		DebounceWindow: time.Second,
		ShakeEnabled:   true,
		LogLevel:       sdk.LevelLog,
	}
}

func newStarted(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	b := New(defaultConfig(), zaptest.NewLogger(t), opts...)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func settle(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.queue.Flush(ctx))
}

func TestBridgeLifecycle(t *testing.T) {
	t.Parallel()

	b := New(defaultConfig(), zaptest.NewLogger(t))
	require.Equal(t, StateUninitialized, b.State())

	err := b.EnqueueLog("too early")
	require.ErrorIs(t, err, ErrNotStarted)
	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, "enqueue log", lerr.Op)

	require.NoError(t, b.Start())
	require.Equal(t, StateActive, b.State())
	require.ErrorIs(t, b.Start(), ErrAlreadyStarted)

	require.NoError(t, b.Close(context.Background()))
	require.Equal(t, StateTornDown, b.State())
	require.NoError(t, b.Close(context.Background()), "Close is idempotent")

	require.ErrorIs(t, b.Start(), ErrTornDown)
	require.ErrorIs(t, b.EnqueueLog("late"), ErrTornDown)
	_, err = b.Subscribe(sdk.EventLog, func(any) error { return nil })
	require.ErrorIs(t, err, ErrTornDown)
	require.ErrorIs(t, b.Unsubscribe("whatever"), ErrTornDown)
	_, err = b.OnRawSignal(gesture.Signal{Magnitude: 1})
	require.ErrorIs(t, err, ErrTornDown)
	require.ErrorIs(t, b.EnableShaker(true, false), ErrTornDown)
}

func TestBridgeRegistersWithHost(t *testing.T) {
	t.Parallel()

	reg := host.NewRegistrar(zaptest.NewLogger(t))
	b := New(defaultConfig(), zaptest.NewLogger(t), WithRegistrar(reg))
	require.NoError(t, b.Start())

	m, ok := reg.Lookup(ModuleName)
	require.True(t, ok)
	require.Equal(t, []string{sdk.EventShake, sdk.EventLog}, m.Events())

	// a second bridge cannot take the same name
	other := New(defaultConfig(), zaptest.NewLogger(t), WithRegistrar(reg))
	require.ErrorIs(t, other.Start(), host.ErrDuplicateModule)
	require.Equal(t, StateUninitialized, other.State())

	require.NoError(t, reg.Shutdown(context.Background()))
	require.Equal(t, StateTornDown, b.State())
	_, ok = reg.Lookup(ModuleName)
	require.False(t, ok)
}

func TestBridgeDeliversEverythingBeforeTeardownCompletes(t *testing.T) {
	t.Parallel()

	b := New(defaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, b.Start())

	first, second := &collected{}, &collected{}
	_, err := b.Subscribe(sdk.EventLog, func(p any) error {
		time.Sleep(100 * time.Microsecond)
		return first.add(p)
	})
	require.NoError(t, err)
	_, err = b.Subscribe(sdk.EventLog, second.add)
	require.NoError(t, err)

	const n = 500
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < n/5; i++ {
				_ = b.EnqueueLog(map[string]any{"worker": w, "i": i})
			}
		}(w)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))

	require.Equal(t, n, first.len())
	require.Equal(t, n, second.len())
	require.Zero(t, b.Stats().Listeners[sdk.EventLog])
}

func TestBridgeShakeScenario(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	b := newStarted(t, WithClock(clock.Now))

	l1 := &collected{}
	_, err := b.Subscribe(sdk.EventShake, l1.add)
	require.NoError(t, err)

	sig := gesture.Signal{Source: "accelerometer", Magnitude: 3}
	for i := 0; i < 3; i++ {
		_, err := b.OnRawSignal(sig)
		require.NoError(t, err)
		clock.Advance(60 * time.Millisecond)
	}
	settle(t, b)
	require.Equal(t, 1, l1.len())

	clock.Advance(1100 * time.Millisecond)
	accepted, err := b.OnRawSignal(sig)
	require.NoError(t, err)
	require.True(t, accepted)
	settle(t, b)
	require.Equal(t, 2, l1.len())
}

func TestBridgeLogLevelAndFormatting(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)}
	cfg := defaultConfig()
	cfg.LogLevel = sdk.LevelWarn
	cfg.Location = time.UTC
	b := New(cfg, zaptest.NewLogger(t), WithClock(clock.Now))
	require.NoError(t, b.Start())
	defer b.Close(context.Background())

	got := &collected{}
	_, err := b.Subscribe(sdk.EventLog, got.add)
	require.NoError(t, err)

	require.NoError(t, b.Log(sdk.LevelDebug, "hidden"))
	require.NoError(t, b.Log(sdk.LevelNone, "hidden too"))
	require.NoError(t, b.Log(sdk.LevelError, "disk full", 512, true))
	settle(t, b)

	require.Equal(t, 1, got.len())
	entry, ok := got.payloads[0].(sdk.LogEntry)
	require.True(t, ok)
	require.Equal(t, sdk.LevelError, entry.Level)
	require.Equal(t, "📠 [01.05.2024 10:00:05 ERROR]: ▸ disk full 512, true", entry.Line)

	b.SetLogLevel(sdk.LevelTrace)
	require.NoError(t, b.Log(sdk.LevelTrace, "now visible"))
	settle(t, b)
	require.Equal(t, 2, got.len())
}

func TestBridgeRejectsUnknownEventNames(t *testing.T) {
	t.Parallel()

	b := newStarted(t)
	_, err := b.Subscribe("DevToolsData", func(any) error { return nil })
	require.ErrorIs(t, err, ErrUnknownEvent)
	_, err = b.Subscribe(sdk.EventLog, nil)
	require.ErrorIs(t, err, events.ErrNilCallback)
}

func TestBridgeUnsubscribeTwice(t *testing.T) {
	t.Parallel()

	b := newStarted(t)
	got := &collected{}
	h, err := b.Subscribe(sdk.EventLog, got.add)
	require.NoError(t, err)

	require.NoError(t, b.Unsubscribe(h))
	require.NoError(t, b.Unsubscribe(h))

	require.NoError(t, b.EnqueueLog("ignored"))
	settle(t, b)
	require.Zero(t, got.len())
}

func TestBridgeIsolatesFailingListener(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var failures []*events.ListenerCallbackError
	b := newStarted(t, WithErrorHandler(func(err *events.ListenerCallbackError) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}))

	_, err := b.Subscribe(sdk.EventLog, func(any) error { return errors.New("listener down") })
	require.NoError(t, err)
	ok := &collected{}
	_, err = b.Subscribe(sdk.EventLog, ok.add)
	require.NoError(t, err)

	require.NoError(t, b.EnqueueLog("a"))
	require.NoError(t, b.EnqueueLog("b"))
	settle(t, b)

	require.Equal(t, []any{"a", "b"}, ok.payloads)
	mu.Lock()
	require.Len(t, failures, 2)
	mu.Unlock()
}

type fakeStore struct{ deleted int }

func (s *fakeStore) Delete() (bool, error) {
	s.deleted++
	return true, nil
}

func TestBridgeEnableShaker(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	b := newStarted(t, WithLogStore(store))

	require.NoError(t, b.EnableShaker(false, false))
	accepted, err := b.OnRawSignal(gesture.Signal{Magnitude: 1})
	require.NoError(t, err)
	require.False(t, accepted)
	require.False(t, b.Stats().ShakeEnabled)

	require.NoError(t, b.EnableShaker(true, true))
	require.Equal(t, 1, store.deleted)
	accepted, err = b.OnRawSignal(gesture.Signal{Magnitude: 1})
	require.NoError(t, err)
	require.True(t, accepted)
}

func TestBridgeStats(t *testing.T) {
	t.Parallel()

	b := newStarted(t)
	b.SetDebounceWindow(2 * time.Second)
	_, err := b.Subscribe(sdk.EventShake, func(any) error { return nil })
	require.NoError(t, err)

	st := b.Stats()
	require.Equal(t, StateActive, st.State)
	require.Equal(t, 1, st.Listeners[sdk.EventShake])
	require.Equal(t, "2s", st.DebounceWindow)
	require.Equal(t, sdk.LevelLog, st.LogLevel)
}

func TestFormatLineWithoutParams(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 12, 31, 21, 30, 0, 0, time.UTC)
	line := FormatLine(sdk.LevelLog, "hello", nil, at, nil)
	require.Equal(t, "📠 [01.01.2025 00:30:00 LOG]: ▸ hello ", line)
}
