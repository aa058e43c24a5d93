package events

import (
	"errors"
	"fmt"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
)

var (
	ErrQueueClosed    = errors.New("event queue is closed")
	ErrEmitterClosed  = errors.New("emitter is closed")
	ErrNilCallback    = errors.New("callback cannot be nil")
	ErrEmptyEventName = errors.New("event name cannot be empty")
	ErrListenerPanic  = errors.New("listener panicked")
)

// ListenerCallbackError is reported when a listener fails while an event is
// being dispatched. It never reaches the producer of the event.
type ListenerCallbackError struct {
	Handle sdk.Handle
	Event  string
	Seq    uint64
	Err    error
	Panic  any
	Stack  string
}

func (e *ListenerCallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("listener %s panicked on %q (seq %d): %v", e.Handle, e.Event, e.Seq, e.Panic)
	}
	return fmt.Sprintf("listener %s failed on %q (seq %d): %v", e.Handle, e.Event, e.Seq, e.Err)
}

func (e *ListenerCallbackError) Unwrap() error { return e.Err }

func (e *ListenerCallbackError) Is(target error) bool {
	return target == ErrListenerPanic && e.Panic != nil
}
