package logging

import (
	"fmt"

	"go.uber.org/zap"
)

type Cfg struct {
	Level string
	JSON  bool
}

// New builds the process logger. The returned level can be changed at
// runtime, which is how a config reload adjusts verbosity.
func New(c Cfg) (*zap.Logger, zap.AtomicLevel, error) {
	cfg := zap.NewProductionConfig()
	if !c.JSON {
		cfg.Encoding = "console"
	}
	if c.Level != "" {
		if err := cfg.Level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, cfg.Level, fmt.Errorf("log level: %w", err)
		}
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, cfg.Level, err
	}
	return l, cfg.Level, nil
}

// SetLevel applies a textual level to an existing atomic level.
func SetLevel(lvl zap.AtomicLevel, level string) error {
	return lvl.UnmarshalText([]byte(level))
}
