// Package config handles configuration loading, validation, and management for watergb.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// API environment presets.
const (
	EnvProduction = "production"
	EnvLocal      = "local"
	EnvLAN        = "lan"
)

// Environments maps a preset name to its backend base URL.
var Environments = map[string]string{
	EnvProduction: "https://gwsudan.xyz/api",
	EnvLocal:      "http://localhost:3000/api",
	EnvLAN:        "http://192.168.0.103:3000/api",
}

// Config holds the complete client configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// API configures the backend the client talks to.
	API APIConfig `toml:"api" json:"api" yaml:"api"`

	// Connectivity configures the background reachability probe.
	Connectivity ConnectivityConfig `toml:"connectivity" json:"connectivity" yaml:"connectivity"`

	// Storage configures where the session token is persisted.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Diagnostics configures the in-memory debug log and its viewer.
	Diagnostics DiagnosticsConfig `toml:"diagnostics" json:"diagnostics" yaml:"diagnostics"`

	// Logging configures the operational process log.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// APIConfig holds backend connection settings.
type APIConfig struct {
	// Environment selects a preset base URL: "production", "local" or "lan".
	// Ignored when BaseURL is set.
	Environment string `toml:"environment" json:"environment" yaml:"environment"`

	// BaseURL is the API root including the /api path segment.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// TimeoutMs bounds every request.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// MaxLoggedBodyBytes truncates bodies recorded in the debug log.
	// Zero disables truncation.
	MaxLoggedBodyBytes int `toml:"max_logged_body_bytes" json:"max_logged_body_bytes" yaml:"max_logged_body_bytes"`

	// CAFile is an optional PEM bundle added to the system roots.
	CAFile string `toml:"ca_file" json:"ca_file" yaml:"ca_file"`
}

// ResolvedBaseURL returns BaseURL, or the URL of the selected environment.
func (a APIConfig) ResolvedBaseURL() string {
	if a.BaseURL != "" {
		return strings.TrimRight(a.BaseURL, "/")
	}
	if u, ok := Environments[a.Environment]; ok {
		return u
	}
	return Environments[EnvProduction]
}

// Timeout returns TimeoutMs as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// ConnectivityConfig holds prober settings.
type ConnectivityConfig struct {
	// IntervalSec is the time between probes.
	IntervalSec int `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`

	// ProbePath is appended to the base URL for each probe.
	ProbePath string `toml:"probe_path" json:"probe_path" yaml:"probe_path"`

	// TimeoutMs bounds a single probe.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// Interval returns IntervalSec as a duration.
func (c ConnectivityConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// Timeout returns TimeoutMs as a duration.
func (c ConnectivityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// StorageConfig holds token persistence settings.
type StorageConfig struct {
	// TokenDBPath is the SQLite database holding the session token.
	TokenDBPath string `toml:"token_db_path" json:"token_db_path" yaml:"token_db_path"`

	// KeyPath is the per-install secret the integrity key is derived from.
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// DiagnosticsConfig holds debug log settings.
type DiagnosticsConfig struct {
	// Enabled turns the in-memory debug log on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// MaxLogs is the debug log capacity.
	MaxLogs int `toml:"max_logs" json:"max_logs" yaml:"max_logs"`

	// Console mirrors debug log entries to stderr.
	Console bool `toml:"console" json:"console" yaml:"console"`

	// DebugAddr is the listen address of the debug HTTP server used by
	// "monitor". Empty disables it.
	DebugAddr string `toml:"debug_addr" json:"debug_addr" yaml:"debug_addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := DataDir()
	return &Config{
		Version: Version,
		API: APIConfig{
			Environment:        EnvProduction,
			TimeoutMs:          15000,
			MaxLoggedBodyBytes: 64 * 1024,
		},
		Connectivity: ConnectivityConfig{
			IntervalSec: 30,
			ProbePath:   "/neighborhoods",
			TimeoutMs:   15000,
		},
		Storage: StorageConfig{
			TokenDBPath:   filepath.Join(dataDir, "session.db"),
			KeyPath:       filepath.Join(dataDir, "session.key"),
			BusyTimeoutMs: 5000,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: true,
			MaxLogs: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "watergb.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base watergb data directory. WATERGB_DATA_DIR
// overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv("WATERGB_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the client writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.TokenDBPath),
		filepath.Dir(c.Storage.KeyPath),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with WATERGB_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("WATERGB_API_ENV"); v != "" {
		c.API.Environment = v
	}
	if v := os.Getenv("WATERGB_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("WATERGB_API_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.API.TimeoutMs = ms
		}
	}

	if v := os.Getenv("WATERGB_TOKEN_DB_PATH"); v != "" {
		c.Storage.TokenDBPath = v
	}

	if v := os.Getenv("WATERGB_DEBUG_ADDR"); v != "" {
		c.Diagnostics.DebugAddr = v
	}
	if v := os.Getenv("WATERGB_DIAGNOSTICS"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Diagnostics.Enabled = on
		}
	}

	if v := os.Getenv("WATERGB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WATERGB_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:      c.Version,
		API:          c.API,
		Connectivity: c.Connectivity,
		Storage:      c.Storage,
		Diagnostics:  c.Diagnostics,
		Logging:      c.Logging,
	}
}
