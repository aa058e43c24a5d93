package gesture

import (
	"math"
	"sync"
	"time"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
	"go.uber.org/zap"
)

const DefaultWindow = time.Second

// Signal is one raw trigger from the motion source.
type Signal struct {
	Source    string  `json:"source,omitempty"`
	Magnitude float64 `json:"magnitude"`
}

func (s Signal) valid() bool {
	return !math.IsNaN(s.Magnitude) && !math.IsInf(s.Magnitude, 0) && s.Magnitude >= 0
}

// Enqueuer is where accepted shakes go.
type Enqueuer interface {
	Enqueue(name string, payload any, origin sdk.Origin) (sdk.Event, error)
}

type Observer interface {
	ShakeAccepted()
	SignalDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) ShakeAccepted()       {}
func (nopObserver) SignalDropped(string) {}

// Drop reasons reported to the Observer.
const (
	DropMalformed = "malformed"
	DropDebounced = "debounced"
	DropDisabled  = "disabled"
	DropStopped   = "stopped"
	DropRejected  = "rejected"
)

// Detector turns raw signals into at most one "shake" per debounce window.
type Detector struct {
	out Enqueuer
	log *zap.Logger
	obs Observer
	now func() time.Time

	mu      sync.Mutex
	last    time.Time
	window  time.Duration
	enabled bool
	stopped bool
}

type Option func(*Detector)

func WithWindow(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(det *Detector) {
		if now != nil {
			det.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(det *Detector) {
		if l != nil {
			det.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(det *Detector) {
		if o != nil {
			det.obs = o
		}
	}
}

func WithEnabled(enabled bool) Option {
	return func(det *Detector) { det.enabled = enabled }
}

func NewDetector(out Enqueuer, opts ...Option) *Detector {
	d := &Detector{
		out:     out,
		log:     zap.NewNop(),
		obs:     nopObserver{},
		now:     time.Now,
		window:  DefaultWindow,
		enabled: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnRawSignal may be called from any goroutine. It reports whether the signal
// produced a shake event.
func (d *Detector) OnRawSignal(sig Signal) bool {
	if !sig.valid() {
		d.obs.SignalDropped(DropMalformed)
		return false
	}

	d.mu.Lock()
	now := d.now()
	reason := d.accept(now)
	if reason == "" {
		// enqueue under the lock so accepted shakes keep their order
		if _, err := d.out.Enqueue(sdk.EventShake, map[string]any{}, sdk.OriginBackground); err != nil {
			reason = DropRejected
			d.log.Debug("shake not enqueued", zap.Error(err))
		} else {
			d.last = now
		}
	}
	d.mu.Unlock()

	if reason != "" {
		d.obs.SignalDropped(reason)
		return false
	}
	d.obs.ShakeAccepted()
	d.log.Debug("shake detected", zap.String("source", sig.Source))
	return true
}

// accept must be called with d.mu held.
func (d *Detector) accept(now time.Time) string {
	switch {
	case d.stopped:
		return DropStopped
	case !d.enabled:
		return DropDisabled
	case !d.last.IsZero() && now.Sub(d.last) <= d.window:
		return DropDebounced
	}
	return ""
}

func (d *Detector) SetWindow(w time.Duration) {
	if w <= 0 {
		return
	}
	d.mu.Lock()
	d.window = w
	d.mu.Unlock()
}

func (d *Detector) Window() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window
}

// Enable toggles the shaker. Re-enabling starts a fresh window.
func (d *Detector) Enable(enabled bool) {
	d.mu.Lock()
	if enabled && !d.enabled {
		d.last = time.Time{}
	}
	d.enabled = enabled
	d.mu.Unlock()
}

func (d *Detector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled && !d.stopped
}

// Stop is permanent; every later signal is dropped.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}
