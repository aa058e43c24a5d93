package sdk

import "context"

// Module is a named unit registered with the host runtime.
type Module interface {
	Emitter
	Name() string
	Events() []string
	Stop(ctx context.Context) error
}
