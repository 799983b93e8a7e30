// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
	StorageNone   = "none"
)

// maxStaticPages is the most result pages a static site crawl may request.
const maxStaticPages = 5

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Registry RegistryConfig `mapstructure:"registry"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Search   SearchConfig   `mapstructure:"search"`
	Walker   WalkerConfig   `mapstructure:"walker"`
	Evidence EvidenceConfig `mapstructure:"evidence"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the optional log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// RegistryConfig locates the site registry.
type RegistryConfig struct {
	Path            string `mapstructure:"path"`
	DefaultCategory string `mapstructure:"default_category"`
}

// CrawlerConfig governs static fetching and dispatch.
type CrawlerConfig struct {
	UserAgent            string  `mapstructure:"user_agent"`
	RespectRobots        bool    `mapstructure:"respect_robots"`
	StaticPages          int     `mapstructure:"static_pages"`
	StaticTimeoutSeconds int     `mapstructure:"static_timeout_seconds"`
	MaxBodyBytes         int     `mapstructure:"max_body_bytes"`
	RateLimitRPS         float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int     `mapstructure:"rate_limit_burst"`
	ShellThreshold       int     `mapstructure:"shell_threshold"`

	// RateLimitPerDomain overrides RateLimitRPS per host (without "www.").
	RateLimitPerDomain map[string]float64 `mapstructure:"rate_limit_per_domain"`
}

// HeadlessConfig configures the browser-driven strategy.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	Pages             int    `mapstructure:"pages"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	ResultWaitSeconds int    `mapstructure:"result_wait_seconds"`
	ClickWaitSeconds  int    `mapstructure:"click_wait_seconds"`
	SettleMillis      int    `mapstructure:"settle_ms"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`
	ExecPath          string `mapstructure:"exec_path"`
}

// SearchConfig configures the search fallback engine.
type SearchConfig struct {
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxResults      int    `mapstructure:"max_results"`
	Language        string `mapstructure:"language"`
	UserAgent       string `mapstructure:"user_agent"`
	SaveResultPages bool   `mapstructure:"save_result_pages"`
}

// WalkerConfig configures ad-hoc walks from a start URL.
type WalkerConfig struct {
	MaxPages       int `mapstructure:"max_pages"`
	VisitBudget    int `mapstructure:"visit_budget"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// EvidenceConfig configures paragraph extraction.
type EvidenceConfig struct {
	MaxResults     int `mapstructure:"max_results"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StorageConfig selects where fetched pages are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls the optional search-attempt database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMS int  `mapstructure:"max_batch_wait_ms"`
}

// TracingConfig toggles OpenTelemetry request tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.file", "")
	v.SetDefault("registry.path", "configs/sites.json")
	v.SetDefault("registry.default_category", "General")
	v.SetDefault("crawler.user_agent", "evidence-crawler/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.static_pages", 5)
	v.SetDefault("crawler.static_timeout_seconds", 10)
	v.SetDefault("crawler.max_body_bytes", 0)
	v.SetDefault("crawler.rate_limit_rps", 2)
	v.SetDefault("crawler.rate_limit_burst", 2)
	v.SetDefault("crawler.shell_threshold", 2048)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.pages", 3)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.result_wait_seconds", 5)
	v.SetDefault("headless.click_wait_seconds", 3)
	v.SetDefault("headless.settle_ms", 1000)
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("search.max_results", 10)
	v.SetDefault("search.language", "en")
	v.SetDefault("search.user_agent", "")
	v.SetDefault("search.save_result_pages", false)
	v.SetDefault("walker.max_pages", 5)
	v.SetDefault("walker.visit_budget", 50)
	v.SetDefault("walker.timeout_seconds", 10)
	v.SetDefault("evidence.max_results", 5)
	v.SetDefault("evidence.timeout_seconds", 15)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local_dir", "./resource")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "search_attempts")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "evidence-crawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.StaticPages <= 0 || c.Crawler.StaticPages > maxStaticPages {
		return fmt.Errorf("crawler.static_pages must be between 1 and %d", maxStaticPages)
	}
	if c.Crawler.StaticTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.static_timeout_seconds must be > 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if c.Headless.Enabled {
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
		}
		if c.Headless.Pages <= 0 {
			return fmt.Errorf("headless.pages must be > 0 when headless is enabled")
		}
		if c.Headless.NavTimeoutSec <= 0 {
			return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
		}
	}
	if c.Search.TimeoutSeconds <= 0 {
		return fmt.Errorf("search.timeout_seconds must be > 0")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	if c.Walker.VisitBudget <= 0 {
		return fmt.Errorf("walker.visit_budget must be > 0")
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case StorageMemory, StorageNone:
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory, none (got %q)", c.Storage.Backend)
	}
	if c.Progress.Enabled && c.Progress.BufferSize < 0 {
		return fmt.Errorf("progress.buffer_size must be >= 0")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// Seconds converts a seconds setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
