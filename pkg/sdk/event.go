package sdk

import (
	"fmt"
	"time"
)

// Event names the bridge publishes to the host runtime.
const (
	EventShake = "shake"
	EventLog   = "log"
)

// Origin tells which side of the bridge produced an event.
type Origin int

const (
	OriginBackground Origin = iota
	OriginMain
)

func (o Origin) String() string {
	switch o {
	case OriginMain:
		return "main"
	case OriginBackground:
		return "background"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

func (o Origin) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Origin) UnmarshalText(b []byte) error {
	switch string(b) {
	case "main":
		*o = OriginMain
	case "background", "":
		*o = OriginBackground
	default:
		return fmt.Errorf("unknown origin %q", string(b))
	}
	return nil
}

// Event es lo que viaja por la cola hacia los listeners.
// Seq is assigned by the queue at enqueue time and is unique per bridge.
type Event struct {
	Name    string    `json:"name"`
	Payload any       `json:"payload"`
	Seq     uint64    `json:"seq"`
	Origin  Origin    `json:"origin"`
	Time    time.Time `json:"time"`
}
