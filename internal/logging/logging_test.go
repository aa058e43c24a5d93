package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewAndSetLevel(t *testing.T) {
	t.Parallel()

	l, lvl, err := New(Cfg{Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, l)
	require.Equal(t, zapcore.WarnLevel, lvl.Level())
	require.False(t, l.Core().Enabled(zapcore.InfoLevel))

	require.NoError(t, SetLevel(lvl, "debug"))
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))

	require.Error(t, SetLevel(lvl, "loud"))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, _, err := New(Cfg{Level: "loud", JSON: true})
	require.Error(t, err)
}
