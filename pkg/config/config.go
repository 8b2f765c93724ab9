package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/unklstewy/skyplot/pkg/coordinates"
	"github.com/unklstewy/skyplot/pkg/logger"
)

// Config represents the complete application configuration.
// Files ending in .toml are decoded as TOML, anything else as JSON.
type Config struct {
	Server   ServerConfig            `json:"server" toml:"server"`
	OpenSky  OpenSkyConfig           `json:"opensky" toml:"opensky"`
	Region   coordinates.BoundingBox `json:"region" toml:"region"`
	Ingest   IngestConfig            `json:"ingest" toml:"ingest"`
	Database DatabaseConfig          `json:"database" toml:"database"`
	Logging  logger.Config           `json:"logging" toml:"logging"`
	Tracing  TracingConfig           `json:"tracing" toml:"tracing"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port" toml:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host" toml:"host"`

	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins"`

	// ShutdownTimeoutSeconds bounds graceful shutdown
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// OpenSkyConfig contains upstream API settings.
type OpenSkyConfig struct {
	// BaseURL is the REST API root
	BaseURL string `json:"base_url" toml:"base_url"`

	// Username and Password enable authenticated access (should be loaded
	// from environment)
	Username string `json:"username,omitempty" toml:"username"`
	Password string `json:"password,omitempty" toml:"password"`

	// TimeoutSeconds bounds a single request. 0 disables the timeout: a hung
	// request then holds the ingestion slot until shutdown.
	TimeoutSeconds float64 `json:"timeout_seconds" toml:"timeout_seconds"`

	// MinIntervalSeconds is the minimum time between API calls.
	// 0 = no rate limit. Anonymous users get 10 second resolution, so
	// polling faster only repeats data.
	MinIntervalSeconds float64 `json:"min_interval_seconds" toml:"min_interval_seconds"`
}

// Timeout returns the request timeout as a duration.
func (o OpenSkyConfig) Timeout() time.Duration {
	return seconds(o.TimeoutSeconds)
}

// MinInterval returns the request spacing as a duration.
func (o OpenSkyConfig) MinInterval() time.Duration {
	return seconds(o.MinIntervalSeconds)
}

// IngestConfig controls the polling cycle.
type IngestConfig struct {
	// IntervalMS is the polling interval in milliseconds
	IntervalMS int `json:"interval_ms" toml:"interval_ms"`

	// IconURL is the aircraft glyph reference attached to every row
	IconURL string `json:"icon_url" toml:"icon_url"`
}

// Interval returns the polling interval as a duration.
func (i IngestConfig) Interval() time.Duration {
	return time.Duration(i.IntervalMS) * time.Millisecond
}

// DatabaseConfig contains settings for the optional cycle event log.
type DatabaseConfig struct {
	// Enabled turns on cycle event persistence
	Enabled bool `json:"enabled" toml:"enabled"`

	// Driver is the database driver (postgres, sqlite)
	Driver string `json:"driver" toml:"driver"`

	// Path is the sqlite database file
	Path string `json:"path,omitempty" toml:"path"`

	// Host is the database server hostname
	Host string `json:"host" toml:"host"`

	// Port is the database server port
	Port int `json:"port" toml:"port"`

	// Database is the database name
	Database string `json:"database" toml:"database"`

	// Username for database authentication
	Username string `json:"username" toml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password,omitempty" toml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" toml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" toml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" toml:"max_idle_conns"`

	// RetentionHours is how long cycle events are kept (0 = forever)
	RetentionHours int `json:"retention_hours" toml:"retention_hours"`
}

// TracingConfig controls OpenTelemetry spans for ingestion cycles.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" toml:"enabled"`
	ServiceName string  `json:"service_name" toml:"service_name"`
	Exporter    string  `json:"exporter" toml:"exporter"` // stdout | otlp
	Endpoint    string  `json:"endpoint,omitempty" toml:"endpoint"`
	SampleRatio float64 `json:"sample_ratio" toml:"sample_ratio"`
}

// Load reads configuration from a JSON or TOML file.
// If the file doesn't exist, returns a default configuration.
// Missing keys keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON or TOML file, chosen by extension.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
// The region covers the contiguous United States.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   "8080",
			Host:                   "0.0.0.0",
			ShutdownTimeoutSeconds: 10,
		},
		OpenSky: OpenSkyConfig{
			BaseURL:            "https://opensky-network.org/api",
			TimeoutSeconds:     10,
			MinIntervalSeconds: 5,
		},
		Region: coordinates.BoundingBox{
			LatMin: 30.038,
			LonMin: -125.974,
			LatMax: 52.214,
			LonMax: -68.748,
		},
		Ingest: IngestConfig{
			IntervalMS: 5000,
			IconURL:    "https://cdn-icons-png.flaticon.com/512/0/619.png",
		},
		Database: DatabaseConfig{
			Enabled:        false,
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			Database:       "skyplot",
			Username:       "skyplot",
			SSLMode:        "disable",
			MaxOpenConns:   5,
			MaxIdleConns:   2,
			RetentionHours: 72,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			ServiceName: "skyplot",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
	}
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Region.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("region: %w", err))
	}
	if c.Ingest.IntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("ingest.interval_ms must be positive, got %d", c.Ingest.IntervalMS))
	}
	if c.OpenSky.BaseURL == "" {
		errs = append(errs, errors.New("opensky.base_url is required"))
	}
	if c.OpenSky.TimeoutSeconds < 0 || c.OpenSky.MinIntervalSeconds < 0 {
		errs = append(errs, errors.New("opensky timeouts and intervals must not be negative"))
	}
	if (c.OpenSky.Username == "") != (c.OpenSky.Password == "") {
		errs = append(errs, errors.New("opensky.username and opensky.password must be set together"))
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres":
		case "sqlite":
			if c.Database.Path == "" {
				errs = append(errs, errors.New("database.path is required for sqlite"))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
		}
	}

	if c.Tracing.Enabled {
		switch strings.ToLower(c.Tracing.Exporter) {
		case "", "stdout", "otlp":
		default:
			errs = append(errs, fmt.Errorf("unsupported tracing exporter %q", c.Tracing.Exporter))
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %g", c.Tracing.SampleRatio))
		}
	}

	return errors.Join(errs...)
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("SKYPLOT_PORT"); port != "" {
		c.Server.Port = port
	}
	if user := os.Getenv("SKYPLOT_OPENSKY_USERNAME"); user != "" {
		c.OpenSky.Username = user
	}
	if pass := os.Getenv("SKYPLOT_OPENSKY_PASSWORD"); pass != "" {
		c.OpenSky.Password = pass
	}
	if dbPassword := os.Getenv("SKYPLOT_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if level := os.Getenv("SKYPLOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if endpoint := os.Getenv("SKYPLOT_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.Endpoint = endpoint
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
