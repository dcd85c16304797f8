// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unshackle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8786", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "downloads", cfg.OutputDir)
	assert.Equal(t, "vault.db", cfg.VaultPath)
	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 256, cfg.Scheduler.QueueCapacity)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Retention.Std())
	assert.Equal(t, 120, cfg.API.RequestsPerMinute)
	assert.Equal(t, 10*time.Second, cfg.API.ShutdownTimeout.Std())
	assert.Equal(t, "unshackle-dl/unshackle", cfg.Update.Repo)
	assert.Equal(t, 6*time.Hour, cfg.Update.CacheTTL.Std())
	assert.False(t, cfg.Debug)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
log_level: debug
output_dir: /srv/media
scheduler:
  max_concurrent: 4
  retention: 48h
api:
  requests_per_minute: 30
tools:
  downloader: n_m3u8dl-re
  downloader_args: ["--no-log"]
  muxer: mkvmerge
proxies:
  basic: "http://proxy.invalid:8080?country={country}"
services:
  profile: default
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/srv/media", cfg.OutputDir)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 48*time.Hour, cfg.Scheduler.Retention.Std())
	// Unset file fields keep their defaults.
	assert.Equal(t, 256, cfg.Scheduler.QueueCapacity)
	assert.Equal(t, 30, cfg.API.RequestsPerMinute)
	assert.Equal(t, "n_m3u8dl-re", cfg.Tools.Downloader)
	assert.Equal(t, []string{"--no-log"}, cfg.Tools.DownloaderArgs)
	assert.Equal(t, "mkvmerge", cfg.Tools.Muxer)
	assert.Contains(t, cfg.Proxies, "basic")
	assert.Equal(t, "default", cfg.Services["profile"])
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "listen: \":1\"\nbind_addres: \":2\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind_addres")
}

func TestLoadMissingNamedFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UNSHACKLE_LISTEN", ":7000")
	t.Setenv("UNSHACKLE_DEBUG", "true")
	t.Setenv("UNSHACKLE_LOG_LEVEL", "warn")
	t.Setenv("UNSHACKLE_MAX_CONCURRENT", "8")
	t.Setenv("UNSHACKLE_RETENTION", "1h30m")
	t.Setenv("UNSHACKLE_UPDATE_DISABLED", "1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 90*time.Minute, cfg.Scheduler.Retention.Std())
	assert.True(t, cfg.Update.Disabled)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\n")
	t.Setenv("UNSHACKLE_LISTEN", ":9001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.Listen)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }, "output_dir"},
		{"negative concurrency", func(c *Config) { c.Scheduler.MaxConcurrent = -1 }, "max_concurrent"},
		{"negative retention", func(c *Config) { c.Scheduler.Retention = Duration(-time.Hour) }, "retention"},
		{"negative rate limit", func(c *Config) { c.API.RequestsPerMinute = -5 }, "requests_per_minute"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"update repo required", func(c *Config) { c.Update.Repo = "" }, "update.repo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("repo optional when disabled", func(t *testing.T) {
		cfg := Default()
		cfg.Update.Repo = ""
		cfg.Update.Disabled = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestDurationDecoding(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 90m"), &v))
	assert.Equal(t, 90*time.Minute, v.D.Std())

	require.NoError(t, yaml.Unmarshal([]byte("d: 5000000000"), &v))
	assert.Equal(t, 5*time.Second, v.D.Std())

	assert.Error(t, yaml.Unmarshal([]byte("d: fast"), &v))
	assert.Error(t, yaml.Unmarshal([]byte("d: [1]"), &v))
}
