// Package config loads and validates linkwarmer configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Document DocumentConfig `mapstructure:"document"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PrefetchConfig governs the scheduler, discovery filter and idle hints.
type PrefetchConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
	FinalSweepTimeout time.Duration `mapstructure:"final_sweep_timeout"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`
	ExcludedPrefixes  []string      `mapstructure:"excluded_prefixes"`
	StaticExtensions  []string      `mapstructure:"static_extensions"`
}

// FetchConfig configures the warm-up HTTP client.
type FetchConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	RPS           float64       `mapstructure:"rps"`
	Burst         int           `mapstructure:"burst"`
	Backoff       time.Duration `mapstructure:"backoff"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// Cache backends.
const (
	CacheMemory = "memory"
	CacheLocal  = "local"
)

// CacheConfig selects where warmed responses live.
type CacheConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// Document sources.
const (
	SourceEmpty    = "empty"
	SourceFile     = "file"
	SourceHeadless = "headless"
)

// DocumentConfig selects where the live document comes from.
type DocumentConfig struct {
	Source  string        `mapstructure:"source"`
	Path    string        `mapstructure:"path"`
	BaseURL string        `mapstructure:"base_url"`
	Watch   bool          `mapstructure:"watch"`
	Settle  time.Duration `mapstructure:"settle"`
}

// HeadlessConfig configures the browser-backed document source.
type HeadlessConfig struct {
	URL               string        `mapstructure:"url"`
	ExecPath          string        `mapstructure:"exec_path"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKWARMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("prefetch.max_concurrent", 4)
	v.SetDefault("prefetch.batch_timeout", "100ms")
	v.SetDefault("prefetch.final_sweep_timeout", "2s")
	v.SetDefault("prefetch.task_timeout", "0s")
	v.SetDefault("prefetch.excluded_prefixes", []string{"/admin/"})
	v.SetDefault("prefetch.static_extensions", []string{
		"js", "css", "png", "jpg", "jpeg", "svg", "webp", "woff", "woff2",
	})
	v.SetDefault("fetch.user_agent", "linkwarmer/0.1")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.rps", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.backoff", "5s")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("document.source", SourceEmpty)
	v.SetDefault("document.path", "")
	v.SetDefault("document.base_url", "http://localhost:8080/")
	v.SetDefault("document.watch", true)
	v.SetDefault("document.settle", "150ms")
	v.SetDefault("headless.url", "")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.poll_interval", "2s")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Prefetch.MaxConcurrent <= 0 {
		return fmt.Errorf("prefetch.max_concurrent must be > 0")
	}
	if c.Prefetch.BatchTimeout <= 0 || c.Prefetch.FinalSweepTimeout <= 0 {
		return fmt.Errorf("prefetch batch and final sweep timeouts must be > 0")
	}
	if c.Prefetch.TaskTimeout < 0 {
		return fmt.Errorf("prefetch.task_timeout must be >= 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.RPS < 0 {
		return fmt.Errorf("fetch.rps must be >= 0")
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheLocal:
		if strings.TrimSpace(c.Cache.Dir) == "" {
			return fmt.Errorf("cache.dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of %s, %s", c.Cache.Backend, CacheMemory, CacheLocal)
	}
	switch c.Document.Source {
	case SourceEmpty:
	case SourceFile:
		if strings.TrimSpace(c.Document.Path) == "" {
			return fmt.Errorf("document.path must be set for the file source")
		}
	case SourceHeadless:
		if strings.TrimSpace(c.Headless.URL) == "" {
			return fmt.Errorf("headless.url must be set for the headless source")
		}
	default:
		return fmt.Errorf("document.source %q is not one of %s, %s, %s",
			c.Document.Source, SourceEmpty, SourceFile, SourceHeadless)
	}
	if c.Document.Source != SourceHeadless {
		if _, err := c.Document.Base(); err != nil {
			return err
		}
	}
	return nil
}

// Base parses document.base_url. Only absolute http(s) URLs are accepted.
func (d DocumentConfig) Base() (*url.URL, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse document.base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("document.base_url must be an absolute http(s) URL, got %q", d.BaseURL)
	}
	return u, nil
}
