// Package config defines the server's TOML configuration: transport
// addresses, database connection, route engine policy, and event stream
// tuning.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/routeforge/routeforge/internal/routes"
)

// Version is the config schema version this build reads.
const Version = "v1"

// Config is the root of the server configuration.
type Config struct {
	Version  string   `toml:"version"`
	Logging  Logging  `toml:"logging"`
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	Routes   Routes   `toml:"routes"`
	Events   Events   `toml:"events"`
}

// Logging selects the slog handler format, verbosity, and destination.
// Output accepts "stdout", "stderr", or a file path.
type Logging struct {
	Format LogFormat `toml:"format"`
	Level  LogLevel  `toml:"level"`
	Output string    `toml:"output" env_interpolation:"yes"`
}

// Server configures the HTTP API listener.
type Server struct {
	Listen string `toml:"listen" env_interpolation:"yes"`
}

// Database configures the Postgres connection.
type Database struct {
	DSN string `toml:"dsn" env_interpolation:"yes"`
}

// Routes configures the route engine defaults and endpoint policy.
type Routes struct {
	Tenant           string   `toml:"tenant"            env_interpolation:"yes"`
	AllowedSchemes   []string `toml:"allowed_schemes"`
	AllowedHTTPHosts []string `toml:"allowed_http_hosts" env_interpolation:"yes"`
	EndpointTimeout  Duration `toml:"endpoint_timeout"`
}

// Events configures the event fan-out layer. The notification caps bound the
// reserved notification stream separately; unset they inherit the activity
// caps.
type Events struct {
	HeartbeatInterval       Duration `toml:"heartbeat_interval"`
	HistoryMax              int      `toml:"history_max"`
	MaxSubscribers          int      `toml:"max_subscribers"`
	Retention               Duration `toml:"retention"`
	NotificationHistoryMax  int      `toml:"notification_history_max"`
	NotificationMaxEmitters int      `toml:"notification_max_emitters"`
}

// applyDefaults fills unset fields with the shipping defaults.
func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = Version
	}
	if c.Logging.Format == LogFormatUnspecified {
		c.Logging.Format = LogFormatText
	}
	if c.Logging.Level == LogLevelUnspecified {
		c.Logging.Level = LogLevelInfo
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Routes.Tenant == "" {
		c.Routes.Tenant = routes.DefaultTenant
	}
	if len(c.Routes.AllowedSchemes) == 0 {
		c.Routes.AllowedSchemes = []string{"direct", "log", "bean", "http", "https"}
	}
	if c.Routes.EndpointTimeout <= 0 {
		c.Routes.EndpointTimeout = Duration(30 * time.Second)
	}
	if c.Events.HeartbeatInterval <= 0 {
		c.Events.HeartbeatInterval = Duration(25 * time.Second)
	}
	if c.Events.HistoryMax <= 0 {
		c.Events.HistoryMax = 200
	}
	if c.Events.MaxSubscribers <= 0 {
		c.Events.MaxSubscribers = 16
	}
	if c.Events.Retention <= 0 {
		c.Events.Retention = Duration(10 * time.Minute)
	}
}

// Validate checks the configuration for errors. Defaults are applied first,
// so only genuinely contradictory values fail.
func (c *Config) Validate() error {
	var errs []error

	if c.Version != Version {
		errs = append(errs, fmt.Errorf("unsupported config version: %s", c.Version))
	}
	if !c.Logging.Format.IsValid() {
		errs = append(errs, fmt.Errorf("unknown log format: %s", c.Logging.Format))
	}
	if !c.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("unknown log level: %s", c.Logging.Level))
	}
	if err := routes.ValidateKeyParts(c.Routes.Tenant, "placeholder"); err != nil {
		errs = append(errs, fmt.Errorf("default tenant: %w", err))
	}
	for _, scheme := range c.Routes.AllowedSchemes {
		switch scheme {
		case "direct", "log", "bean", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("unknown endpoint scheme in allowlist: %s", scheme))
		}
	}

	return errors.Join(errs...)
}
