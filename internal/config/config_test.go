package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
)

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte("{}"))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", c.Addr())
	require.Equal(t, "info", c.Logging.Level)
	require.Equal(t, time.Second, c.Bridge.DebounceWindow)
	require.Equal(t, sdk.LevelLog, c.BridgeLevel())
	require.Equal(t, 5*time.Second, c.Bridge.FlushTimeout)
	require.Equal(t, "log.txt", c.Sink.Path)
	require.Equal(t, 20*time.Second, c.Upload.Timeout)
	require.Equal(t, 5*time.Second, c.HTTP.ShutdownTimeout)
	require.Empty(t, c.Upload.Slack.Token)

	loc, err := c.BridgeLocation()
	require.NoError(t, err)
	require.Nil(t, loc)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  bind: 127.0.0.1
  port: 9099
  cors_origins: ["http://localhost:3000"]
  shutdown_timeout: 2s
logging:
  level: debug
bridge:
  debounce_window: 750ms
  log_level: warn
  location: UTC
motion:
  enabled: true
  fake: true
  interval: 500ms
upload:
  webhook: https://discord.example/api/webhooks/1/abc
  slack:
    token: xoxb-1
    channel: C42
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9099", c.Addr())
	require.Equal(t, 2*time.Second, c.HTTP.ShutdownTimeout)
	require.Equal(t, "xoxb-1", c.Upload.Slack.Token2)
	require.Equal(t, "C42", c.Upload.Slack.Channel)
	require.Equal(t, []string{"http://localhost:3000"}, c.HTTP.CORSOrigins)
	require.Equal(t, 750*time.Millisecond, c.Bridge.DebounceWindow)
	require.Equal(t, sdk.LevelWarn, c.BridgeLevel())
	require.True(t, c.Motion.Fake)
	require.Equal(t, 500*time.Millisecond, c.Motion.Interval)

	loc, err := c.BridgeLocation()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DEVBRIDGE_HTTP_PORT", "7000")
	t.Setenv("DEVBRIDGE_BRIDGE_DEBOUNCE_WINDOW", "2s")
	t.Setenv("DEVBRIDGE_AUTH_JWT_PUBLIC_KEYS", "/a.pem,/b.pem")
	t.Setenv("DEVBRIDGE_UPLOAD_SLACK_TOKEN", "xoxb-env")
	t.Setenv("DEVBRIDGE_UPLOAD_SLACK_CHANNEL", "C7")

	c, err := Parse([]byte("http:\n  port: 9000\n"))
	require.NoError(t, err)
	require.Equal(t, 7000, c.HTTP.Port)
	require.Equal(t, 2*time.Second, c.Bridge.DebounceWindow)
	require.Equal(t, []string{"/a.pem", "/b.pem"}, c.Auth.JWTPublicKeys)
	require.Equal(t, "xoxb-env", c.Upload.Slack.Token)
	require.Equal(t, "C7", c.Upload.Slack.Channel)
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"port out of range":  "http:\n  port: 70000\n",
		"unknown log level":  "logging:\n  level: loud\n",
		"bridge level":       "bridge:\n  log_level: chatty\n",
		"tls without cert":   "http:\n  tls:\n    enabled: true\n",
		"bad zone":           "bridge:\n  location: Mars/Olympus\n",
		"motion without url": "motion:\n  enabled: true\n",
		"bad webhook":        "upload:\n  webhook: not a url\n",
		"negative window":    "bridge:\n  debounce_window: -1s\n",
		"slack no channel":   "upload:\n  slack:\n    token: xoxb-1\n",
	}
	for name, doc := range cases {
		name, doc := name, doc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}
