package motion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EchoPBX/devtools-bridge/internal/config"
	"github.com/EchoPBX/devtools-bridge/internal/gesture"
)

var errClosed = errors.New("closed")

// stopAfter accepts n signals and then reports the sink as gone.
type stopAfter struct {
	mu   sync.Mutex
	n    int
	got  []gesture.Signal
	full chan struct{}
}

func newStopAfter(n int) *stopAfter { return &stopAfter{n: n, full: make(chan struct{})} }

func (s *stopAfter) OnRawSignal(sig gesture.Signal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == s.n {
		return false, errClosed
	}
	s.got = append(s.got, sig)
	if len(s.got) == s.n {
		close(s.full)
	}
	return true, nil
}

func runWithin(t *testing.T, c *Client, ctx context.Context) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestClientReadsSamplesFromWebsocket(t *testing.T) {
	t.Parallel()

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 4; i++ {
			if err := conn.WriteJSON(Sample{Source: "accelerometer", Magnitude: float64(i + 1)}); err != nil {
				return
			}
		}
		// keep the connection open until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sink := newStopAfter(3)
	cfg := config.Motion{Enabled: true, URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Interval: time.Second}
	c := NewClient(cfg, zaptest.NewLogger(t), sink)
	runWithin(t, c, context.Background())

	require.Len(t, sink.got, 3)
	require.Equal(t, "accelerometer", sink.got[0].Source)
	require.Equal(t, 3.0, sink.got[2].Magnitude)
}

func TestClientStopsOnContextWhileDialing(t *testing.T) {
	t.Parallel()

	cfg := config.Motion{Enabled: true, URL: "ws://127.0.0.1:1/motion", Interval: time.Second}
	c := NewClient(cfg, zaptest.NewLogger(t), newStopAfter(1))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	runWithin(t, c, ctx)
	c.Close()
}

func TestClientFakeMode(t *testing.T) {
	t.Parallel()

	sink := newStopAfter(2)
	c := NewClient(config.Motion{Fake: true, Interval: 5 * time.Millisecond}, zaptest.NewLogger(t), sink)
	runWithin(t, c, context.Background())

	<-sink.full
	require.Len(t, sink.got, 2)
	require.Equal(t, "fake", sink.got[0].Source)
}
