package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrNotStarted     = errors.New("bridge not started")
	ErrAlreadyStarted = errors.New("bridge already started")
	ErrTornDown       = errors.New("bridge torn down")
	ErrUnknownEvent   = errors.New("unknown event name")
)

// LifecycleError is returned for any call made outside the active state.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: bridge is %s", e.Op, e.State)
}

func (e *LifecycleError) Unwrap() error {
	switch e.State {
	case StateTornDown:
		return ErrTornDown
	case StateActive:
		return ErrAlreadyStarted
	default:
		return ErrNotStarted
	}
}
