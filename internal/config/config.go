// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration: a YAML
// file, overridden by UNSHACKLE_* environment variables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unshackle-dl/unshackle/internal/drm"
)

// Config is the full daemon configuration.
type Config struct {
	// Listen is the HTTP bind address, host:port.
	Listen string `yaml:"listen"`

	// Debug enables debug_info in API error envelopes and verbose logging.
	Debug bool `yaml:"debug"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// OutputDir is where completed downloads land.
	OutputDir string `yaml:"output_dir"`

	// TempDir holds worker temp files; empty means the OS temp dir.
	TempDir string `yaml:"temp_dir"`

	// ServicesDir holds one <tag>.yaml per service adapter, watched for
	// changes at runtime.
	ServicesDir string `yaml:"services_dir"`

	// VaultPath is the SQLite key vault file.
	VaultPath string `yaml:"vault_path"`

	// SessionLogDir, when set, enables per-session debug log files.
	SessionLogDir string `yaml:"session_log_dir"`

	// LogDRMKeys opts decrypted key values into the session debug log.
	LogDRMKeys bool `yaml:"log_drm_keys"`

	Scheduler SchedulerConfig  `yaml:"scheduler"`
	API       APIConfig        `yaml:"api"`
	DRM       drm.ClientConfig `yaml:"drm"`
	Tools     ToolsConfig      `yaml:"tools"`
	Update    UpdateConfig     `yaml:"update"`

	// Proxies maps provider name -> base URI template for proxy
	// resolution ("provider:country" queries).
	Proxies map[string]string `yaml:"proxies"`

	// Services carries global defaults merged under every service's own
	// config file.
	Services map[string]any `yaml:"services"`
}

// Duration is a time.Duration that decodes from YAML duration strings
// ("90m", "24h") as well as integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// SchedulerConfig tunes the download scheduler.
type SchedulerConfig struct {
	MaxConcurrent int      `yaml:"max_concurrent"`
	QueueCapacity int      `yaml:"queue_capacity"`
	Retention     Duration `yaml:"retention"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	// RequestsPerMinute rate-limits clients by IP; zero disables.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ToolsConfig names the external binaries the worker drives.
type ToolsConfig struct {
	Downloader     string   `yaml:"downloader"`
	DownloaderArgs []string `yaml:"downloader_args"`
	Muxer          string   `yaml:"muxer"`
	MuxerArgs      []string `yaml:"muxer_args"`
}

// UpdateConfig tunes the GitHub release check surfaced by /health.
type UpdateConfig struct {
	Disabled bool     `yaml:"disabled"`
	Repo     string   `yaml:"repo"` // owner/name
	CacheTTL Duration `yaml:"cache_ttl"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:    ":8786",
		LogLevel:  "info",
		OutputDir: "downloads",
		VaultPath: "vault.db",
		Scheduler: SchedulerConfig{
			MaxConcurrent: 2,
			QueueCapacity: 256,
			Retention:     Duration(24 * time.Hour),
		},
		API: APIConfig{
			RequestsPerMinute: 120,
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		Update: UpdateConfig{
			Repo:     "unshackle-dl/unshackle",
			CacheTTL: Duration(6 * time.Hour),
		},
	}
}

// Load reads path (optional), applies environment overrides and validates.
// A missing file is not an error when path is empty; a named file must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from UNSHACKLE_* variables.
func applyEnv(cfg *Config) {
	envString("UNSHACKLE_LISTEN", &cfg.Listen)
	envBool("UNSHACKLE_DEBUG", &cfg.Debug)
	envString("UNSHACKLE_LOG_LEVEL", &cfg.LogLevel)
	envString("UNSHACKLE_OUTPUT_DIR", &cfg.OutputDir)
	envString("UNSHACKLE_TEMP_DIR", &cfg.TempDir)
	envString("UNSHACKLE_SERVICES_DIR", &cfg.ServicesDir)
	envString("UNSHACKLE_VAULT_PATH", &cfg.VaultPath)
	envString("UNSHACKLE_SESSION_LOG_DIR", &cfg.SessionLogDir)
	envBool("UNSHACKLE_LOG_DRM_KEYS", &cfg.LogDRMKeys)
	envInt("UNSHACKLE_MAX_CONCURRENT", &cfg.Scheduler.MaxConcurrent)
	envInt("UNSHACKLE_QUEUE_CAPACITY", &cfg.Scheduler.QueueCapacity)
	envDuration("UNSHACKLE_RETENTION", &cfg.Scheduler.Retention)
	envInt("UNSHACKLE_REQUESTS_PER_MINUTE", &cfg.API.RequestsPerMinute)
	envString("UNSHACKLE_DOWNLOADER", &cfg.Tools.Downloader)
	envString("UNSHACKLE_MUXER", &cfg.Tools.Muxer)
	envBool("UNSHACKLE_UPDATE_DISABLED", &cfg.Update.Disabled)
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen must not be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("config: output_dir must not be empty")
	}
	if c.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("config: scheduler.max_concurrent must not be negative")
	}
	if c.Scheduler.Retention < 0 {
		return fmt.Errorf("config: scheduler.retention must not be negative")
	}
	if c.API.RequestsPerMinute < 0 {
		return fmt.Errorf("config: api.requests_per_minute must not be negative")
	}
	switch c.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if c.Update.Repo == "" && !c.Update.Disabled {
		return fmt.Errorf("config: update.repo must be set unless update.disabled")
	}
	return nil
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	if v, ok := os.LookupEnv(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *Duration) {
	if v, ok := os.LookupEnv(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
