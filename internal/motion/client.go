package motion

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EchoPBX/devtools-bridge/internal/config"
	"github.com/EchoPBX/devtools-bridge/internal/gesture"
)

// SignalSink receives every raw sample. The bridge implements it.
type SignalSink interface {
	OnRawSignal(sig gesture.Signal) (bool, error)
}

// Sample is the JSON frame a motion source sends.
type Sample struct {
	Source    string  `json:"source"`
	Magnitude float64 `json:"magnitude"`
	TS        int64   `json:"ts,omitempty"`
}

const (
	redialDelay    = 2 * time.Second
	reconnectDelay = time.Second
)

// Client feeds a SignalSink from a websocket motion source, or from a ticker
// when running fake.
type Client struct {
	log  *zap.Logger
	sink SignalSink

	mu   sync.Mutex
	cfg  config.Motion
	conn *websocket.Conn
}

func NewClient(cfg config.Motion, log *zap.Logger, sink SignalSink) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, log: log, sink: sink}
}

// Run blocks until ctx is done or the sink stops accepting signals.
func (c *Client) Run(ctx context.Context) {
	if c.config().Fake {
		c.runFake(ctx)
		return
	}
	for ctx.Err() == nil {
		cfg := c.config()
		d := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.Insecure},
		}
		conn, _, err := d.DialContext(ctx, cfg.URL, http.Header{"User-Agent": {"devtools-bridge"}})
		if err != nil {
			c.log.Warn("motion dial failed", zap.String("url", cfg.URL), zap.Error(err))
			if !sleep(ctx, redialDelay) {
				return
			}
			continue
		}
		c.setConn(conn)
		c.log.Info("motion source connected", zap.String("url", cfg.URL))

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		done := c.read(conn)
		stop()
		_ = conn.Close()
		c.setConn(nil)
		if done {
			return
		}
		if !sleep(ctx, reconnectDelay) {
			return
		}
	}
}

// read returns true when the sink is gone and the client should stop.
func (c *Client) read(conn *websocket.Conn) bool {
	for {
		var s Sample
		if err := conn.ReadJSON(&s); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				c.log.Info("motion source closed")
			} else {
				c.log.Warn("motion read", zap.Error(err))
			}
			return false
		}
		if c.deliver(s) {
			return true
		}
	}
}

func (c *Client) deliver(s Sample) (stop bool) {
	_, err := c.sink.OnRawSignal(gesture.Signal{Source: s.Source, Magnitude: s.Magnitude})
	if err != nil {
		c.log.Info("motion sink closed", zap.Error(err))
		return true
	}
	return false
}

func (c *Client) runFake(ctx context.Context) {
	t := time.NewTicker(c.config().Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.deliver(Sample{Source: "fake", Magnitude: 2.5}) {
				return
			}
		}
	}
}

// Reload takes effect on the next dial.
func (c *Client) Reload(cfg config.Motion) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) config() config.Motion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
