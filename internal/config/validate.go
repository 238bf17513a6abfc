package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	cr := cfg.Crawler

	if cr.HandleRequestTimeoutSecs <= 0 {
		return fmt.Errorf("crawler.handle_request_timeout_secs must be > 0")
	}
	if cr.MaxRequestRetries < 0 {
		return fmt.Errorf("crawler.max_request_retries must be >= 0, got %d", cr.MaxRequestRetries)
	}
	if cr.MaxRequestsPerCrawl < 0 {
		return fmt.Errorf("crawler.max_requests_per_crawl must be >= 0, got %d", cr.MaxRequestsPerCrawl)
	}
	if cr.BackingStoreTimeoutSecs <= 0 {
		return fmt.Errorf("crawler.backing_store_timeout_secs must be > 0")
	}
	if cr.BackingStoreRetryBudget < 0 {
		return fmt.Errorf("crawler.backing_store_retry_budget must be >= 0")
	}
	if cr.SafeMigrationWaitSecs < 0 {
		return fmt.Errorf("crawler.safe_migration_wait_secs must be >= 0")
	}

	if cr.Pool.MinConcurrency < 1 {
		return fmt.Errorf("crawler.pool.min_concurrency must be >= 1, got %d", cr.Pool.MinConcurrency)
	}
	if cr.Pool.MaxConcurrency < cr.Pool.MinConcurrency {
		return fmt.Errorf("crawler.pool.max_concurrency (%d) must be >= min_concurrency (%d)", cr.Pool.MaxConcurrency, cr.Pool.MinConcurrency)
	}

	if cr.BackingStore != "memory" && cr.BackingStore != "mongo" {
		return fmt.Errorf("crawler.backing_store must be 'memory' or 'mongo', got %q", cr.BackingStore)
	}
	if cr.BackingStore == "mongo" && cr.MongoURI == "" {
		return fmt.Errorf("crawler.mongo_uri is required when backing_store is 'mongo'")
	}

	if cr.UseSessionPool {
		if cr.Session.MaxPoolSize < 1 {
			return fmt.Errorf("crawler.session.max_pool_size must be >= 1, got %d", cr.Session.MaxPoolSize)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid as a crawl seed.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
