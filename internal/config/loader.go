package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from defaults, the config file and the
// environment. Priority (highest to lowest): env vars > config file >
// defaults. CLI flags are not read here; callers apply them on top of
// the returned Config.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("CRAWLCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("corecrawl")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".corecrawl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("crawler.handle_request_timeout_secs", cfg.Crawler.HandleRequestTimeoutSecs)
	v.SetDefault("crawler.max_request_retries", cfg.Crawler.MaxRequestRetries)
	v.SetDefault("crawler.max_requests_per_crawl", cfg.Crawler.MaxRequestsPerCrawl)
	v.SetDefault("crawler.backing_store_timeout_secs", cfg.Crawler.BackingStoreTimeoutSecs)
	v.SetDefault("crawler.backing_store_retry_budget", cfg.Crawler.BackingStoreRetryBudget)
	v.SetDefault("crawler.safe_migration_wait_secs", cfg.Crawler.SafeMigrationWaitSecs)
	v.SetDefault("crawler.use_session_pool", cfg.Crawler.UseSessionPool)
	v.SetDefault("crawler.backing_store", cfg.Crawler.BackingStore)
	v.SetDefault("crawler.mongo_uri", cfg.Crawler.MongoURI)
	v.SetDefault("crawler.mongo_db", cfg.Crawler.MongoDB)

	v.SetDefault("crawler.session.max_pool_size", cfg.Crawler.Session.MaxPoolSize)
	v.SetDefault("crawler.session.max_usage_count", cfg.Crawler.Session.MaxUsageCount)
	v.SetDefault("crawler.session.max_error_score", cfg.Crawler.Session.MaxErrorScore)

	v.SetDefault("crawler.pool.min_concurrency", cfg.Crawler.Pool.MinConcurrency)
	v.SetDefault("crawler.pool.max_concurrency", cfg.Crawler.Pool.MaxConcurrency)
	v.SetDefault("crawler.pool.desired_concurrency_ratio", cfg.Crawler.Pool.DesiredConcurrencyRatio)
	v.SetDefault("crawler.pool.scale_up_step_ratio", cfg.Crawler.Pool.ScaleUpStepRatio)
	v.SetDefault("crawler.pool.scale_down_step_ratio", cfg.Crawler.Pool.ScaleDownStepRatio)
	v.SetDefault("crawler.pool.maybe_run_interval_millis", cfg.Crawler.Pool.MaybeRunIntervalMillis)
	v.SetDefault("crawler.pool.autoscale_interval_secs", cfg.Crawler.Pool.AutoscaleIntervalSecs)
	v.SetDefault("crawler.pool.logging_interval_secs", cfg.Crawler.Pool.LoggingIntervalSecs)

	v.SetDefault("crawler.load_monitor.sample_interval_millis", cfg.Crawler.LoadMonitor.SampleIntervalMillis)
	v.SetDefault("crawler.load_monitor.window_size_secs", cfg.Crawler.LoadMonitor.WindowSizeSecs)
	v.SetDefault("crawler.load_monitor.max_used_cpu_ratio", cfg.Crawler.LoadMonitor.MaxUsedCPURatio)
	v.SetDefault("crawler.load_monitor.max_used_memory_ratio", cfg.Crawler.LoadMonitor.MaxUsedMemoryRatio)
	v.SetDefault("crawler.load_monitor.max_event_loop_ratio", cfg.Crawler.LoadMonitor.MaxEventLoopRatio)
	v.SetDefault("crawler.load_monitor.event_loop_blocked_after_millis", cfg.Crawler.LoadMonitor.EventLoopBlockedAfterMillis)
	v.SetDefault("crawler.load_monitor.max_overloaded_ratio", cfg.Crawler.LoadMonitor.MaxOverloadedRatio)
	v.SetDefault("crawler.load_monitor.max_memory_bytes", cfg.Crawler.LoadMonitor.MaxMemoryBytes)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
