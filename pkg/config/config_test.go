package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Expected addr 0.0.0.0:8080, got %s", cfg.Server.Addr())
	}

	// Region defaults to the contiguous US
	if cfg.Region.LonMin != -125.974 || cfg.Region.LatMax != 52.214 {
		t.Errorf("Unexpected default region %+v", cfg.Region)
	}

	// Ingest defaults
	if cfg.Ingest.Interval() != 5*time.Second {
		t.Errorf("Expected 5s interval, got %v", cfg.Ingest.Interval())
	}
	if cfg.Ingest.IconURL == "" {
		t.Error("Expected default icon URL")
	}

	// OpenSky defaults
	if cfg.OpenSky.Timeout() != 10*time.Second {
		t.Errorf("Expected 10s timeout, got %v", cfg.OpenSky.Timeout())
	}
	if cfg.OpenSky.MinInterval() != 5*time.Second {
		t.Errorf("Expected 5s min interval, got %v", cfg.OpenSky.MinInterval())
	}

	// Database defaults
	if cfg.Database.Enabled {
		t.Error("Expected event log disabled by default")
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Expected postgres driver, got %s", cfg.Database.Driver)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got: %v", err)
	}
}

// TestLoadNonExistentFile tests that Load returns default config when file doesn't exist.
func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("Expected no error for non-existent file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config, got nil")
	}
	if cfg.Server.Port != "8080" {
		t.Error("Did not get default config for non-existent file")
	}
}

// TestLoadJSON tests loading a JSON configuration file.
func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "skyplot.json")

	data := `{
		"server": {"port": "9090"},
		"region": {"lamin": 45.8, "lomin": 5.9, "lamax": 47.8, "lomax": 10.5},
		"ingest": {"interval_ms": 10000}
	}`
	if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Region.LatMin != 45.8 || cfg.Region.LonMax != 10.5 {
		t.Errorf("Unexpected region %+v", cfg.Region)
	}
	if cfg.Ingest.Interval() != 10*time.Second {
		t.Errorf("Expected 10s interval, got %v", cfg.Ingest.Interval())
	}
	// Keys absent from the file keep their defaults
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host, got %s", cfg.Server.Host)
	}
	if cfg.OpenSky.BaseURL != "https://opensky-network.org/api" {
		t.Errorf("Expected default base URL, got %s", cfg.OpenSky.BaseURL)
	}
}

// TestLoadTOML tests loading a TOML configuration file.
func TestLoadTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "skyplot.toml")

	data := `
[server]
port = "7070"
allowed_origins = ["http://localhost:3000"]

[region]
lamin = 35.0
lomin = -10.0
lamax = 60.0
lomax = 30.0

[ingest]
interval_ms = 2500

[database]
enabled = true
driver = "sqlite"
path = "events.db"

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("Expected port 7070, got %s", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("Unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Region.LonMin != -10.0 {
		t.Errorf("Expected lomin -10, got %v", cfg.Region.LonMin)
	}
	if cfg.Ingest.IntervalMS != 2500 {
		t.Errorf("Expected interval 2500, got %d", cfg.Ingest.IntervalMS)
	}
	if !cfg.Database.Enabled || cfg.Database.Driver != "sqlite" || cfg.Database.Path != "events.db" {
		t.Errorf("Unexpected database config %+v", cfg.Database)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging config %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got: %v", err)
	}
}

// TestLoadInvalidFile tests error handling for malformed files.
func TestLoadInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		file string
		data string
	}{
		{"Invalid JSON", "bad.json", `{"server": {"port": }`},
		{"Invalid TOML", "bad.toml", "[server\nport = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatalf("Failed to write test file: %v", err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("Expected error for invalid file")
			}
			if !contains(err.Error(), "failed to parse config file") {
				t.Errorf("Expected parse error, got: %v", err)
			}
		})
	}
}

// TestSaveRoundTrip tests Save followed by Load for both formats.
func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"nested/dir/skyplot.json", "skyplot.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := DefaultConfig()
			cfg.Server.Port = "9999"
			cfg.Ingest.IntervalMS = 1234
			cfg.Region.LatMin = 10

			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Server.Port != "9999" || loaded.Ingest.IntervalMS != 1234 || loaded.Region.LatMin != 10 {
				t.Errorf("Round trip mismatch: %+v", loaded)
			}
		})
	}
}

// TestSaveOmitsEmptySecrets checks that unset credentials are not written.
func TestSaveOmitsEmptySecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skyplot.json")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := raw["opensky"]["password"]; ok {
		t.Error("Empty password should be omitted")
	}
}

// TestEnvironmentOverrides tests environment variable overrides.
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SKYPLOT_PORT", "3000")
	t.Setenv("SKYPLOT_OPENSKY_USERNAME", "pilot")
	t.Setenv("SKYPLOT_OPENSKY_PASSWORD", "secret")
	t.Setenv("SKYPLOT_DB_PASSWORD", "dbsecret")
	t.Setenv("SKYPLOT_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "3000" {
		t.Errorf("Expected port 3000, got %s", cfg.Server.Port)
	}
	if cfg.OpenSky.Username != "pilot" || cfg.OpenSky.Password != "secret" {
		t.Errorf("Credentials not applied: %+v", cfg.OpenSky)
	}
	if cfg.Database.Password != "dbsecret" {
		t.Errorf("Expected db password override, got %s", cfg.Database.Password)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.Logging.Level)
	}
}

// TestValidate tests configuration validation.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Inverted latitudes", func(c *Config) { c.Region.LatMin, c.Region.LatMax = 50, 40 }, "region"},
		{"Polar region", func(c *Config) { c.Region.LatMax = 90 }, "region"},
		{"Zero interval", func(c *Config) { c.Ingest.IntervalMS = 0 }, "interval_ms"},
		{"Missing base URL", func(c *Config) { c.OpenSky.BaseURL = "" }, "base_url"},
		{"Negative timeout", func(c *Config) { c.OpenSky.TimeoutSeconds = -1 }, "negative"},
		{"Username without password", func(c *Config) { c.OpenSky.Username = "pilot" }, "set together"},
		{"Unknown log level", func(c *Config) { c.Logging.Level = "loud" }, "logging"},
		{"Unknown driver", func(c *Config) { c.Database.Enabled = true; c.Database.Driver = "mysql" }, "unsupported database driver"},
		{"Sqlite without path", func(c *Config) { c.Database.Enabled = true; c.Database.Driver = "sqlite" }, "database.path"},
		{"Unknown tracing exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" }, "tracing exporter"},
		{"Sample ratio above one", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRatio = 2 }, "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

// Helper function
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > 0 && len(substr) > 0 && hasSubstring(s, substr)))
}

func hasSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
