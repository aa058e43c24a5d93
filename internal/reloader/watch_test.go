package reloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatchFileCoalescesWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 10)
	done, err := WatchFile(ctx, path, 50*time.Millisecond, zaptest.NewLogger(t), func() {
		calls <- struct{}{}
	})
	require.NoError(t, err)

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))
	}

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not triggered")
	}
	select {
	case <-calls:
		t.Fatal("writes were not coalesced")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchFileMissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := WatchFile(context.Background(), filepath.Join(t.TempDir(), "nope", "c.yaml"), 0, nil, func() {})
	require.Error(t, err)
}
