package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the crawling core.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler" yaml:"crawler"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// CrawlerConfig controls the BasicCrawler, its AutoscaledPool, and its
// optional session pool — the knobs spec.md §6 names directly.
type CrawlerConfig struct {
	HandleRequestTimeoutSecs int `mapstructure:"handle_request_timeout_secs" yaml:"handle_request_timeout_secs"`
	MaxRequestRetries        int `mapstructure:"max_request_retries"         yaml:"max_request_retries"`
	MaxRequestsPerCrawl      int `mapstructure:"max_requests_per_crawl"      yaml:"max_requests_per_crawl"`

	BackingStoreTimeoutSecs int           `mapstructure:"backing_store_timeout_secs" yaml:"backing_store_timeout_secs"`
	BackingStoreRetryBudget int           `mapstructure:"backing_store_retry_budget" yaml:"backing_store_retry_budget"`
	SafeMigrationWaitSecs   int           `mapstructure:"safe_migration_wait_secs"   yaml:"safe_migration_wait_secs"`

	UseSessionPool bool         `mapstructure:"use_session_pool" yaml:"use_session_pool"`
	Session        SessionConfig `mapstructure:"session"         yaml:"session"`

	Pool        PoolConfig        `mapstructure:"pool"         yaml:"pool"`
	LoadMonitor LoadMonitorConfig `mapstructure:"load_monitor" yaml:"load_monitor"`

	// BackingStore selects the persistence tier for the request queue and
	// checkpoint/statistics state: "memory" or "mongo".
	BackingStore string `mapstructure:"backing_store" yaml:"backing_store"`
	MongoURI     string `mapstructure:"mongo_uri"     yaml:"mongo_uri"`
	MongoDB      string `mapstructure:"mongo_db"      yaml:"mongo_db"`
}

// PoolConfig controls the AutoscaledPool — a direct mapping onto
// pool.Config, exposed in seconds/ratios for config-file ergonomics.
type PoolConfig struct {
	MinConcurrency int `mapstructure:"min_concurrency" yaml:"min_concurrency"`
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`

	DesiredConcurrencyRatio float64 `mapstructure:"desired_concurrency_ratio" yaml:"desired_concurrency_ratio"`
	ScaleUpStepRatio        float64 `mapstructure:"scale_up_step_ratio"       yaml:"scale_up_step_ratio"`
	ScaleDownStepRatio      float64 `mapstructure:"scale_down_step_ratio"     yaml:"scale_down_step_ratio"`

	MaybeRunIntervalMillis  int `mapstructure:"maybe_run_interval_millis"  yaml:"maybe_run_interval_millis"`
	AutoscaleIntervalSecs   int `mapstructure:"autoscale_interval_secs"    yaml:"autoscale_interval_secs"`
	LoggingIntervalSecs     int `mapstructure:"logging_interval_secs"      yaml:"logging_interval_secs"`
}

// LoadMonitorConfig controls the LoadMonitor sampler.
type LoadMonitorConfig struct {
	SampleIntervalMillis  int     `mapstructure:"sample_interval_millis"   yaml:"sample_interval_millis"`
	WindowSizeSecs        int     `mapstructure:"window_size_secs"         yaml:"window_size_secs"`
	MaxUsedCPURatio       float64 `mapstructure:"max_used_cpu_ratio"       yaml:"max_used_cpu_ratio"`
	MaxUsedMemoryRatio    float64 `mapstructure:"max_used_memory_ratio"    yaml:"max_used_memory_ratio"`
	MaxEventLoopRatio     float64 `mapstructure:"max_event_loop_ratio"     yaml:"max_event_loop_ratio"`
	EventLoopBlockedAfterMillis int `mapstructure:"event_loop_blocked_after_millis" yaml:"event_loop_blocked_after_millis"`
	MaxOverloadedRatio    float64 `mapstructure:"max_overloaded_ratio"     yaml:"max_overloaded_ratio"`
	MaxMemoryBytes        int64   `mapstructure:"max_memory_bytes"         yaml:"max_memory_bytes"`
}

// SessionConfig controls the session pool.
type SessionConfig struct {
	MaxPoolSize   int `mapstructure:"max_pool_size"   yaml:"max_pool_size"`
	MaxUsageCount int `mapstructure:"max_usage_count" yaml:"max_usage_count"`
	MaxErrorScore int `mapstructure:"max_error_score" yaml:"max_error_score"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Crawler: CrawlerConfig{
			HandleRequestTimeoutSecs: 60,
			MaxRequestRetries:        3,
			MaxRequestsPerCrawl:      0,
			BackingStoreTimeoutSecs:  30,
			BackingStoreRetryBudget:  3,
			SafeMigrationWaitSecs:    20,
			UseSessionPool:           true,
			Session: SessionConfig{
				MaxPoolSize:   1000,
				MaxUsageCount: 50,
				MaxErrorScore: 30,
			},
			Pool: PoolConfig{
				MinConcurrency:          1,
				MaxConcurrency:          1000,
				DesiredConcurrencyRatio: 0.9,
				ScaleUpStepRatio:        0.05,
				ScaleDownStepRatio:      0.05,
				MaybeRunIntervalMillis:  500,
				AutoscaleIntervalSecs:   10,
				LoggingIntervalSecs:     60,
			},
			LoadMonitor: LoadMonitorConfig{
				SampleIntervalMillis:        500,
				WindowSizeSecs:              60,
				MaxUsedCPURatio:             0.95,
				MaxUsedMemoryRatio:          0.95,
				MaxEventLoopRatio:           0.6,
				EventLoopBlockedAfterMillis: 500,
				MaxOverloadedRatio:          0.5,
			},
			BackingStore: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// HandleRequestTimeout returns the configured handler timeout as a
// time.Duration.
func (c CrawlerConfig) HandleRequestTimeout() time.Duration {
	return time.Duration(c.HandleRequestTimeoutSecs) * time.Second
}

// BackingStoreTimeout returns the configured backing-store timeout as a
// time.Duration.
func (c CrawlerConfig) BackingStoreTimeout() time.Duration {
	return time.Duration(c.BackingStoreTimeoutSecs) * time.Second
}

// SafeMigrationWait returns the configured migration grace period as a
// time.Duration.
func (c CrawlerConfig) SafeMigrationWait() time.Duration {
	return time.Duration(c.SafeMigrationWaitSecs) * time.Second
}

// MaybeRunIntervalDuration returns the configured pool tick interval.
func (c PoolConfig) MaybeRunIntervalDuration() time.Duration {
	return time.Duration(c.MaybeRunIntervalMillis) * time.Millisecond
}

// AutoscaleIntervalDuration returns the configured autoscale tick interval.
func (c PoolConfig) AutoscaleIntervalDuration() time.Duration {
	return time.Duration(c.AutoscaleIntervalSecs) * time.Second
}

// LoggingIntervalDuration returns the configured pool logging tick interval.
func (c PoolConfig) LoggingIntervalDuration() time.Duration {
	return time.Duration(c.LoggingIntervalSecs) * time.Second
}

// SampleIntervalDuration returns the configured load-monitor sample interval.
func (c LoadMonitorConfig) SampleIntervalDuration() time.Duration {
	return time.Duration(c.SampleIntervalMillis) * time.Millisecond
}

// WindowSizeDuration returns the configured load-monitor trailing window size.
func (c LoadMonitorConfig) WindowSizeDuration() time.Duration {
	return time.Duration(c.WindowSizeSecs) * time.Second
}

// EventLoopBlockedAfterDuration returns the configured event-loop-blocked
// threshold.
func (c LoadMonitorConfig) EventLoopBlockedAfterDuration() time.Duration {
	return time.Duration(c.EventLoopBlockedAfterMillis) * time.Millisecond
}
