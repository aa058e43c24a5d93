package events

import (
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type listener struct {
	handle sdk.Handle
	name   string
	cb     sdk.Callback
}

// Emitter maps event names to listeners kept in subscription order.
// Callbacks always run without any emitter lock held.
type Emitter struct {
	log       *zap.Logger
	obs       Observer
	onError   func(*ListenerCallbackError)
	newHandle func() sdk.Handle

	mu        sync.RWMutex
	listeners map[string][]*listener
	byHandle  map[sdk.Handle]*listener
	closed    bool
	inflight  sync.WaitGroup
}

type EmitterOption func(*Emitter)

func WithLogger(l *zap.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.log = l
		}
	}
}

func WithObserver(o Observer) EmitterOption {
	return func(e *Emitter) {
		if o != nil {
			e.obs = o
		}
	}
}

// WithErrorHandler adds a second diagnostic sink next to the logger.
func WithErrorHandler(fn func(*ListenerCallbackError)) EmitterOption {
	return func(e *Emitter) { e.onError = fn }
}

func WithHandleGenerator(fn func() sdk.Handle) EmitterOption {
	return func(e *Emitter) {
		if fn != nil {
			e.newHandle = fn
		}
	}
}

func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		log:       zap.NewNop(),
		obs:       nopObserver{},
		newHandle: func() sdk.Handle { return sdk.Handle(uuid.NewString()) },
		listeners: make(map[string][]*listener),
		byHandle:  make(map[sdk.Handle]*listener),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) Subscribe(eventName string, cb sdk.Callback) (sdk.Handle, error) {
	if eventName == "" {
		return "", ErrEmptyEventName
	}
	if cb == nil {
		return "", ErrNilCallback
	}
	l := &listener{handle: e.newHandle(), name: eventName, cb: cb}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrEmitterClosed
	}
	e.listeners[eventName] = append(e.listeners[eventName], l)
	e.byHandle[l.handle] = l
	return l.handle, nil
}

// Unsubscribe removes one listener. Unknown or already removed handles are
// ignored so teardown paths can call it freely.
func (e *Emitter) Unsubscribe(h sdk.Handle) error {
	e.mu.Lock()
	l, ok := e.byHandle[h]
	if !ok {
		e.mu.Unlock()
		e.log.Debug("unsubscribe: unknown handle", zap.String("handle", string(h)))
		return nil
	}
	delete(e.byHandle, h)
	ls := e.listeners[l.name]
	for i, cur := range ls {
		if cur == l {
			// dispatch works on copies, so shifting in place is safe
			ls = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(e.listeners, l.name)
	} else {
		e.listeners[l.name] = ls
	}
	e.mu.Unlock()
	return nil
}

// Dispatch delivers ev to the listeners registered for ev.Name when the call
// starts. Listeners added meanwhile only see later events.
func (e *Emitter) Dispatch(ev sdk.Event) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		e.log.Warn("emitter closed, event not delivered",
			zap.String("event", ev.Name), zap.Uint64("seq", ev.Seq))
		return
	}
	snapshot := append([]*listener(nil), e.listeners[ev.Name]...)
	e.inflight.Add(1)
	e.mu.RUnlock()
	defer e.inflight.Done()

	start := time.Now()
	for _, l := range snapshot {
		if err := e.invoke(l, ev); err != nil {
			e.report(err)
		}
	}
	e.obs.EventDispatched(ev.Name, len(snapshot), time.Since(start))
}

func (e *Emitter) invoke(l *listener, ev sdk.Event) (cbErr *ListenerCallbackError) {
	defer func() {
		if r := recover(); r != nil {
			cbErr = &ListenerCallbackError{
				Handle: l.handle,
				Event:  ev.Name,
				Seq:    ev.Seq,
				Err:    fmt.Errorf("%w: %v", ErrListenerPanic, r),
				Panic:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()
	if err := l.cb(ev.Payload); err != nil {
		return &ListenerCallbackError{Handle: l.handle, Event: ev.Name, Seq: ev.Seq, Err: err}
	}
	return nil
}

func (e *Emitter) report(err *ListenerCallbackError) {
	fields := []zap.Field{
		zap.String("event", err.Event),
		zap.Uint64("seq", err.Seq),
		zap.String("handle", string(err.Handle)),
		zap.Error(err.Err),
	}
	if err.Stack != "" {
		fields = append(fields, zap.String("stack", err.Stack))
	}
	e.log.Error("listener callback failed", fields...)
	e.obs.ListenerFailed(err.Event)
	if e.onError != nil {
		e.onError(err)
	}
}

// Close lets in-flight dispatches finish, then drops every listener.
// It must not be called from inside a callback.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()

	e.mu.Lock()
	e.listeners = make(map[string][]*listener)
	e.byHandle = make(map[sdk.Handle]*listener)
	e.mu.Unlock()
}

func (e *Emitter) Listeners(eventName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[eventName])
}

func (e *Emitter) Names() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.listeners))
	for n := range e.listeners {
		names = append(names, n)
	}
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

var (
	_ sdk.Emitter = (*Emitter)(nil)
	_ Dispatcher  = (*Emitter)(nil)
)
