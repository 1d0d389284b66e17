// Package config loads orbitlink's YAML configuration.
//
// Configuration comes from a single file named by the ORBITLINK_CONFIG
// environment variable (via Load) or a --config flag (via LoadFile). Without
// either, Default is used. Durations are Go duration strings ("1500ms",
// "2s"). ${HOME} and ${VAR:-default} are expanded in path fields.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ricochet1k/orbitlink/internal/retry"
)

const EnvConfig = "ORBITLINK_CONFIG"

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Session       SessionConfig       `yaml:"session"`
	Reconnect     ReconnectConfig     `yaml:"reconnect"`
	Heartbeat     HeartbeatConfig     `yaml:"heartbeat"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
	Paths         PathsConfig         `yaml:"paths"`
	DevServer     DevServerConfig     `yaml:"devserver"`
}

// ServerConfig describes the websocket endpoint of the backend.
type ServerConfig struct {
	URL          string        `yaml:"url"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongWait     time.Duration `yaml:"pong_wait"`
}

// ConnectionConfig is the reconnect backoff and attempt ceiling.
type ConnectionConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
}

type SessionConfig struct {
	// ReadyTimeout bounds how long a queued continuation waits.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// FallbackDelay marks a joined project ready without server
	// confirmation once it elapses.
	FallbackDelay time.Duration `yaml:"fallback_delay"`
}

type ReconnectConfig struct {
	InitialSettle   time.Duration `yaml:"initial_settle"`
	ReconnectSettle time.Duration `yaml:"reconnect_settle"`
}

type HeartbeatConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold time.Duration `yaml:"threshold"`
}

type NotificationsConfig struct {
	// Desktop enables the notify-send/osascript notifier.
	Desktop bool `yaml:"desktop"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PathsConfig struct {
	// State holds preferences.json. Empty means storage.DefaultBaseDir.
	State string `yaml:"state"`
}

// DevServerConfig configures the development backend.
type DevServerConfig struct {
	Listen string `yaml:"listen"`

	// ReadyDelay delays project-ready after a join.
	ReadyDelay time.Duration `yaml:"ready_delay"`

	// WithholdReady never sends project-ready.
	WithholdReady bool `yaml:"withhold_ready"`

	// WithholdPong never answers pings.
	WithholdPong bool `yaml:"withhold_pong"`
}

func Default() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Server: ServerConfig{
			URL:          "ws://127.0.0.1:8090/api/realtime",
			DialTimeout:  10 * time.Second,
			PingInterval: 25 * time.Second,
			PongWait:     60 * time.Second,
		},
		Connection: ConnectionConfig{
			MaxAttempts:  policy.MaxAttempts,
			InitialDelay: policy.InitialDelay,
			MaxDelay:     policy.MaxDelay,
			Multiplier:   policy.Multiplier,
			Jitter:       policy.Jitter,
		},
		Session: SessionConfig{
			ReadyTimeout:  5 * time.Second,
			FallbackDelay: 2 * time.Second,
		},
		Reconnect: ReconnectConfig{
			InitialSettle:   1 * time.Second,
			ReconnectSettle: 2 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval:  60 * time.Second,
			Threshold: 120 * time.Second,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		DevServer: DevServerConfig{
			Listen: "127.0.0.1:8090",
		},
	}
}

// Load reads the file named by ORBITLINK_CONFIG, or returns Default when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults. Fields the file omits keep their
// default values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// RetryPolicy converts the connection section to a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.Connection.MaxAttempts,
		InitialDelay: c.Connection.InitialDelay,
		MaxDelay:     c.Connection.MaxDelay,
		Multiplier:   c.Connection.Multiplier,
		Jitter:       c.Connection.Jitter,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("server.url must be a ws:// or wss:// URL, got %q", c.Server.URL))
	}

	if c.Connection.MaxAttempts < 1 {
		errs = append(errs, errors.New("connection.max_attempts must be at least 1"))
	}
	if c.Connection.InitialDelay <= 0 {
		errs = append(errs, errors.New("connection.initial_delay must be positive"))
	}
	if c.Connection.MaxDelay < c.Connection.InitialDelay {
		errs = append(errs, errors.New("connection.max_delay must not be below initial_delay"))
	}
	if c.Connection.Multiplier < 1 {
		errs = append(errs, errors.New("connection.multiplier must be at least 1"))
	}
	if c.Connection.Jitter < 0 || c.Connection.Jitter > 1 {
		errs = append(errs, errors.New("connection.jitter must be between 0 and 1"))
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"session.ready_timeout", c.Session.ReadyTimeout},
		{"session.fallback_delay", c.Session.FallbackDelay},
		{"reconnect.initial_settle", c.Reconnect.InitialSettle},
		{"reconnect.reconnect_settle", c.Reconnect.ReconnectSettle},
		{"heartbeat.interval", c.Heartbeat.Interval},
		{"heartbeat.threshold", c.Heartbeat.Threshold},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.Heartbeat.Threshold < c.Heartbeat.Interval {
		errs = append(errs, errors.New("heartbeat.threshold must not be below heartbeat.interval"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func (c *Config) expandVariables() {
	c.Paths.State = expandVars(c.Paths.State)
}

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
