// Package config loads the YAML configuration of the listenify-rtc command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/listenify-platform/listenify-app/pkg/client"
	"gopkg.in/yaml.v3"
)

// Config is the full file. Durations are written as Go duration strings ("1.5s").
type Config struct {
	Connection Connection `yaml:"connection"`
	Log        Log        `yaml:"log"`
	Metrics    Metrics    `yaml:"metrics"`
	Relay      Relay      `yaml:"relay"`
}

type Connection struct {
	URL                  string        `yaml:"url"`
	Token                string        `yaml:"token"`
	Origin               string        `yaml:"origin"`
	Name                 string        `yaml:"name"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	ReconnectionAttempts int           `yaml:"reconnection_attempts"`
	ReconnectionDelay    time.Duration `yaml:"reconnection_delay"`
	ReconnectionDelayMax time.Duration `yaml:"reconnection_delay_max"`
	Timeout              time.Duration `yaml:"timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReadLimit            int64         `yaml:"read_limit"`
	Debug                bool          `yaml:"debug"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotation through lumberjack when set; logs go to stderr otherwise.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Metrics struct {
	// Listen is the address of the Prometheus endpoint. Empty disables it.
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type Relay struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	Prefix      string        `yaml:"prefix"`
	Queue       string        `yaml:"queue"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	o := client.DefaultOptions()
	return &Config{
		Connection: Connection{
			Name:                 "listenify-rtc",
			AutoReconnect:        o.AutoReconnect,
			ReconnectionAttempts: o.ReconnectionAttempts,
			ReconnectionDelay:    o.ReconnectionDelay,
			ReconnectionDelayMax: o.ReconnectionDelayMax,
			Timeout:              o.Timeout,
			WriteTimeout:         o.WriteTimeout,
			PingInterval:         o.PingInterval,
		},
		Log: Log{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Metrics: Metrics{Path: "/metrics"},
		Relay: Relay{
			Prefix:      "listenify.rtc",
			CallTimeout: 10 * time.Second,
		},
	}
}

// Load reads path over Default. ${VAR} references are expanded from the environment first,
// so tokens can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	conn := c.Connection
	for name, d := range map[string]time.Duration{
		"reconnection_delay":     conn.ReconnectionDelay,
		"reconnection_delay_max": conn.ReconnectionDelayMax,
		"timeout":                conn.Timeout,
		"write_timeout":          conn.WriteTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("connection.%s must not be negative", name))
		}
	}
	if conn.ReconnectionDelayMax > 0 && conn.ReconnectionDelayMax < conn.ReconnectionDelay {
		errs = append(errs, errors.New("connection.reconnection_delay_max must be >= reconnection_delay"))
	}
	if conn.ReadLimit < 0 {
		errs = append(errs, errors.New("connection.read_limit must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Metrics.Listen != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if c.Relay.Enabled && c.Relay.CallTimeout < 0 {
		errs = append(errs, errors.New("relay.call_timeout must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
}

// ClientOptions converts the connection section into client options.
func (c *Config) ClientOptions() []client.Option {
	conn := c.Connection
	return []client.Option{
		client.WithURL(conn.URL),
		client.WithToken(conn.Token),
		client.WithOrigin(conn.Origin),
		client.WithName(conn.Name),
		client.WithAutoReconnect(conn.AutoReconnect),
		client.WithReconnection(conn.ReconnectionAttempts, conn.ReconnectionDelay, conn.ReconnectionDelayMax),
		client.WithTimeout(conn.Timeout),
		client.WithWriteTimeout(conn.WriteTimeout),
		client.WithPingInterval(conn.PingInterval),
		client.WithReadLimit(conn.ReadLimit),
		client.WithDebug(conn.Debug),
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", level, err)
	}
	return l, nil
}
