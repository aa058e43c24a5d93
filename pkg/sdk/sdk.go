package sdk

// Handle identifies one subscription. It is only useful for Unsubscribe.
type Handle string

// Callback receives the payload of every event it was subscribed to.
// A returned error is reported and never stops delivery to other listeners.
type Callback func(payload any) error

// Emitter is the listener capability the bridge exposes to the host runtime.
type Emitter interface {
	Subscribe(eventName string, cb Callback) (Handle, error)
	Unsubscribe(h Handle) error
}
