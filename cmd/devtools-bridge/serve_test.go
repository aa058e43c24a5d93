package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stuckServer struct{}

// Shutdown waits out its deadline like a server with a client that never
// hangs up.
func (stuckServer) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type recordingModules struct {
	ctxErr   error
	deadline time.Duration
	err      error
}

func (m *recordingModules) Shutdown(ctx context.Context) error {
	m.ctxErr = ctx.Err()
	if d, ok := ctx.Deadline(); ok {
		m.deadline = time.Until(d)
	}
	return m.err
}

func TestShutdownGivesModulesTheirOwnDeadline(t *testing.T) {
	t.Parallel()

	mods := &recordingModules{}
	err := shutdown(zaptest.NewLogger(t), stuckServer{}, 20*time.Millisecond, mods, time.Minute)
	require.NoError(t, err)
	require.NoError(t, mods.ctxErr)
	require.Greater(t, mods.deadline, 30*time.Second)
}

func TestShutdownReturnsModuleError(t *testing.T) {
	t.Parallel()

	boom := errors.New("flush incomplete")
	mods := &recordingModules{err: boom}
	err := shutdown(zaptest.NewLogger(t), stuckServer{}, time.Millisecond, mods, time.Second)
	require.ErrorIs(t, err, boom)
}
