package sdk

import (
	"fmt"
	"strings"
	"time"
)

// Level orders log entries by verbosity. An entry is kept when its level is
// at or below the configured threshold.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelLog
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelLog:
		return "LOG"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return "?"
	}
}

// ParseLevel accepts level names in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "log", "info", "":
		return LevelLog, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelNone, fmt.Errorf("unknown log level %q", s)
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LogEntry is the payload of a "log" event.
type LogEntry struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Params  []any     `json:"params,omitempty"`
	Time    time.Time `json:"time"`
	Line    string    `json:"line"`
}
