package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Prefetch.MaxConcurrent)
	assert.Equal(t, 100*time.Millisecond, cfg.Prefetch.BatchTimeout)
	assert.Equal(t, 2*time.Second, cfg.Prefetch.FinalSweepTimeout)
	assert.Zero(t, cfg.Prefetch.TaskTimeout)
	assert.Equal(t, []string{"/admin/"}, cfg.Prefetch.ExcludedPrefixes)
	assert.Equal(t, []string{"js", "css", "png", "jpg", "jpeg", "svg", "webp", "woff", "woff2"},
		cfg.Prefetch.StaticExtensions)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, SourceEmpty, cfg.Document.Source)
	assert.Equal(t, 150*time.Millisecond, cfg.Document.Settle)
	assert.True(t, cfg.Progress.Enabled)
	assert.False(t, cfg.Fetch.RespectRobots)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
prefetch:
  max_concurrent: 2
  batch_timeout: 250ms
  task_timeout: 30s
  excluded_prefixes: ["/admin/", "/account/"]
fetch:
  user_agent: warm-agent
  rps: 2.5
  respect_robots: true
cache:
  backend: local
  dir: /var/cache/linkwarmer
document:
  source: file
  path: public/index.html
  base_url: https://docs.example.com/
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Prefetch.MaxConcurrent)
	assert.Equal(t, 250*time.Millisecond, cfg.Prefetch.BatchTimeout)
	assert.Equal(t, 2*time.Second, cfg.Prefetch.FinalSweepTimeout)
	assert.Equal(t, 30*time.Second, cfg.Prefetch.TaskTimeout)
	assert.Equal(t, []string{"/admin/", "/account/"}, cfg.Prefetch.ExcludedPrefixes)
	assert.Equal(t, "warm-agent", cfg.Fetch.UserAgent)
	assert.InDelta(t, 2.5, cfg.Fetch.RPS, 1e-9)
	assert.True(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, CacheLocal, cfg.Cache.Backend)
	assert.Equal(t, SourceFile, cfg.Document.Source)
	assert.False(t, cfg.Logging.Development)

	base, err := cfg.Document.Base()
	require.NoError(t, err)
	assert.Equal(t, "docs.example.com", base.Host)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LINKWARMER_PREFETCH_MAX_CONCURRENT", "8")
	t.Setenv("LINKWARMER_FETCH_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Prefetch.MaxConcurrent)
	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Prefetch: PrefetchConfig{
			MaxConcurrent:     4,
			BatchTimeout:      100 * time.Millisecond,
			FinalSweepTimeout: 2 * time.Second,
		},
		Fetch:    FetchConfig{Timeout: time.Second},
		Cache:    CacheConfig{Backend: CacheMemory},
		Document: DocumentConfig{Source: SourceEmpty, BaseURL: "https://site/"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Prefetch.MaxConcurrent = 0 }, "prefetch.max_concurrent"},
		{"invalid batch timeout", func(c *Config) { c.Prefetch.BatchTimeout = 0 }, "final sweep"},
		{"negative task timeout", func(c *Config) { c.Prefetch.TaskTimeout = -time.Second }, "prefetch.task_timeout"},
		{"invalid fetch timeout", func(c *Config) { c.Fetch.Timeout = 0 }, "fetch.timeout"},
		{"negative rps", func(c *Config) { c.Fetch.RPS = -1 }, "fetch.rps"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"local cache without dir", func(c *Config) { c.Cache.Backend = CacheLocal }, "cache.dir"},
		{"unknown source", func(c *Config) { c.Document.Source = "ftp" }, "document.source"},
		{"file without path", func(c *Config) { c.Document.Source = SourceFile }, "document.path"},
		{"headless without url", func(c *Config) { c.Document.Source = SourceHeadless }, "headless.url"},
		{"relative base", func(c *Config) { c.Document.BaseURL = "/docs/" }, "document.base_url"},
		{"mailto base", func(c *Config) { c.Document.BaseURL = "mailto:a@b" }, "document.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
