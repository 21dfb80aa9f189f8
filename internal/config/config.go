// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hireworks/jobsift/internal/jobs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig                  `mapstructure:"server"`
	Auth         AuthConfig                    `mapstructure:"auth"`
	Logging      LoggingConfig                 `mapstructure:"logging"`
	Pipeline     PipelineConfig                `mapstructure:"pipeline"`
	Discovery    DiscoveryConfig               `mapstructure:"discovery"`
	HTTP         HTTPConfig                    `mapstructure:"http"`
	Rate         RateConfig                    `mapstructure:"rate"`
	Storage      StorageConfig                 `mapstructure:"storage"`
	Database     DatabaseConfig                `mapstructure:"database"`
	PubSub       PubSubConfig                  `mapstructure:"pubsub"`
	Progress     ProgressConfig                `mapstructure:"progress"`
	StandardRuns map[string]jobs.RunParameters `mapstructure:"standard_runs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PipelineConfig governs worker fan-out and per-run defaults.
type PipelineConfig struct {
	Concurrency          int  `mapstructure:"concurrency"`
	QueueDepth           int  `mapstructure:"queue_depth"`
	MaxPostingsDefault   int  `mapstructure:"max_postings_default"`
	MaxPerCompanyDefault int  `mapstructure:"max_per_company_default"`
	FetchATS             bool `mapstructure:"fetch_ats"`
	RunBudgetSeconds     int  `mapstructure:"run_budget_seconds"`
}

// DiscoveryConfig shapes the listing-surface listers.
type DiscoveryConfig struct {
	BaseURL        string         `mapstructure:"base_url"`
	UserAgent      string         `mapstructure:"user_agent"`
	PageSize       int            `mapstructure:"page_size"`
	MaxPages       int            `mapstructure:"max_pages"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the interception lister.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	ScrollRounds  int  `mapstructure:"scroll_rounds"`
}

// HTTPConfig configures the ATS API client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RateConfig shapes the request governor.
type RateConfig struct {
	MinIntervalMs int     `mapstructure:"min_interval_ms"`
	JitterPct     float64 `mapstructure:"jitter_pct"`
	PerHostRPS    float64 `mapstructure:"per_host_rps"`
	PerHostBurst  int     `mapstructure:"per_host_burst"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures filesystem blob storage.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to Postgres. An empty DSN disables the
// relational stores.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	PostingsTable   string `mapstructure:"postings_table"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion-event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig shapes the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool        `mapstructure:"enabled"`
	LogEnabled    bool        `mapstructure:"log_enabled"`
	BufferSize    int         `mapstructure:"buffer_size"`
	SinkTimeoutMs int         `mapstructure:"sink_timeout_ms"`
	Batch         BatchConfig `mapstructure:"batch"`
}

// BatchConfig bounds progress sink flushes.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Load builds a Config from disk/environment. With an empty path it searches
// the usual config locations; a missing file is fine, env and defaults
// still apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBSIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/jobsift")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logging.development", true)
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.max_postings_default", 100)
	v.SetDefault("pipeline.max_per_company_default", 50)
	v.SetDefault("pipeline.fetch_ats", true)
	v.SetDefault("pipeline.run_budget_seconds", 900)
	v.SetDefault("discovery.user_agent", "jobsift/0.1")
	v.SetDefault("discovery.page_size", 25)
	v.SetDefault("discovery.max_pages", 4)
	v.SetDefault("discovery.timeout_seconds", 15)
	v.SetDefault("discovery.headless.enabled", false)
	v.SetDefault("discovery.headless.max_parallel", 1)
	v.SetDefault("discovery.headless.nav_timeout_seconds", 25)
	v.SetDefault("discovery.headless.scroll_rounds", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("rate.min_interval_ms", 1000)
	v.SetDefault("rate.jitter_pct", 0.25)
	v.SetDefault("rate.per_host_rps", 1)
	v.SetDefault("rate.per_host_burst", 2)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("storage.content_type", "application/json; charset=utf-8")
	v.SetDefault("storage.local.base_dir", "./data")
	v.SetDefault("database.postings_table", "postings")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 1800)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Discovery.BaseURL == "" {
		return fmt.Errorf("discovery.base_url is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Discovery.Headless.Enabled && c.Discovery.Headless.MaxParallel <= 0 {
		return fmt.Errorf("discovery.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required for the gcs backend")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic is set")
	}
	return nil
}

// RunBudget converts the pipeline run budget into a duration. Zero means
// unlimited.
func (c Config) RunBudget() time.Duration {
	return time.Duration(c.Pipeline.RunBudgetSeconds) * time.Second
}

// HTTPTimeout converts the ATS client timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DiscoveryTimeout converts the lister timeout into a duration.
func (c Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutSeconds) * time.Second
}

// MinInterval converts the governor spacing into a duration.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.Rate.MinIntervalMs) * time.Millisecond
}
