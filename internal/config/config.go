package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
)

// EnvPrefix is prepended to every environment override, e.g.
// DEVBRIDGE_HTTP_PORT or DEVBRIDGE_BRIDGE_DEBOUNCE_WINDOW.
const EnvPrefix = "DEVBRIDGE_"

type Config struct {
	HTTP    HTTP    `yaml:"http" envPrefix:"HTTP_"`
	Auth    Auth    `yaml:"auth" envPrefix:"AUTH_"`
	Logging Logging `yaml:"logging" envPrefix:"LOG_"`
	Bridge  Bridge  `yaml:"bridge" envPrefix:"BRIDGE_"`
	Motion  Motion  `yaml:"motion" envPrefix:"MOTION_"`
	Sink    Sink    `yaml:"sink" envPrefix:"SINK_"`
	Upload  Upload  `yaml:"upload" envPrefix:"UPLOAD_"`
}

type HTTP struct {
	Bind string `yaml:"bind" env:"BIND" validate:"required"`
	Port int    `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	TLS  struct {
		Enabled bool   `yaml:"enabled" env:"ENABLED"`
		Cert    string `yaml:"cert" env:"CERT" validate:"required_if=Enabled true"`
		Key     string `yaml:"key" env:"KEY" validate:"required_if=Enabled true"`
	} `yaml:"tls" envPrefix:"TLS_"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

type Auth struct {
	JWTPublicKeys []string `yaml:"jwt_public_keys" env:"JWT_PUBLIC_KEYS" envSeparator:","` // rutas a PEM
	Issuer        string   `yaml:"issuer" env:"ISSUER"`
	Audience      string   `yaml:"audience" env:"AUDIENCE"`
}

type Logging struct {
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

type Bridge struct {
	DebounceWindow time.Duration `yaml:"debounce_window" env:"DEBOUNCE_WINDOW" validate:"gt=0"`
	DisableShake   bool          `yaml:"disable_shake" env:"DISABLE_SHAKE"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL" validate:"loglevel"`
	// vacío = UTC+3
	Location     string        `yaml:"location" env:"LOCATION" validate:"omitempty,timezone"`
	FlushTimeout time.Duration `yaml:"flush_timeout" env:"FLUSH_TIMEOUT" validate:"gt=0"`
}

type Motion struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	URL      string        `yaml:"url" env:"URL" validate:"omitempty,url"` // ws://host:port/motion
	Fake     bool          `yaml:"fake" env:"FAKE"`
	Insecure bool          `yaml:"insecure" env:"INSECURE"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL" validate:"gt=0"`
}

type Sink struct {
	Disabled bool   `yaml:"disabled" env:"DISABLED"`
	Path     string `yaml:"path" env:"PATH" validate:"required"`
}

type Upload struct {
	Webhook string        `yaml:"webhook" env:"WEBHOOK" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gt=0"`
	Slack   Slack         `yaml:"slack" envPrefix:"SLACK_"`
}

// Slack is off while Token is empty. Token2 defaults to Token.
type Slack struct {
	Token    string `yaml:"token" env:"TOKEN"`
	Token2   string `yaml:"token2" env:"TOKEN2"`
	Channel  string `yaml:"channel" env:"CHANNEL" validate:"required_with=Token"`
	Platform string `yaml:"platform" env:"PLATFORM"`
}

// Load reads the YAML file, applies DEVBRIDGE_* overrides, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	c.defaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

func (c *Config) defaults() {
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Bridge.DebounceWindow == 0 {
		c.Bridge.DebounceWindow = time.Second
	}
	if c.Bridge.LogLevel == "" {
		c.Bridge.LogLevel = "log"
	}
	if c.Bridge.FlushTimeout == 0 {
		c.Bridge.FlushTimeout = 5 * time.Second
	}
	if c.Motion.Interval == 0 {
		c.Motion.Interval = 2 * time.Second
	}
	if c.Sink.Path == "" {
		c.Sink.Path = "log.txt"
	}
	if c.Upload.Timeout == 0 {
		c.Upload.Timeout = 20 * time.Second
	}
	if c.Upload.Slack.Token2 == "" {
		c.Upload.Slack.Token2 = c.Upload.Slack.Token
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
			_, err := sdk.ParseLevel(fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		return err
	}
	if c.Motion.Enabled && !c.Motion.Fake && c.Motion.URL == "" {
		return fmt.Errorf("motion.url is required unless motion.fake is set")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Bind, c.HTTP.Port)
}

// BridgeLevel is the parsed bridge log threshold.
func (c *Config) BridgeLevel() sdk.Level {
	l, err := sdk.ParseLevel(c.Bridge.LogLevel)
	if err != nil {
		return sdk.LevelLog
	}
	return l
}

// BridgeLocation returns nil when no zone is configured.
func (c *Config) BridgeLocation() (*time.Location, error) {
	if c.Bridge.Location == "" {
		return nil, nil
	}
	return time.LoadLocation(c.Bridge.Location)
}
