package config

import (
	"github.com/webstalk/corecrawl/internal/crawler"
	"github.com/webstalk/corecrawl/internal/loadmonitor"
	"github.com/webstalk/corecrawl/internal/pool"
	"github.com/webstalk/corecrawl/internal/session"
)

// ToCrawlerConfig translates the file/env/flag configuration surface
// into the concrete collaborator configs crawler.New expects.
func (c CrawlerConfig) ToCrawlerConfig() crawler.Config {
	return crawler.Config{
		HandleRequestTimeout:    c.HandleRequestTimeout(),
		MaxRequestRetries:       c.MaxRequestRetries,
		MaxRequestsPerCrawl:     c.MaxRequestsPerCrawl,
		BackingStoreTimeout:     c.BackingStoreTimeout(),
		BackingStoreRetryBudget: c.BackingStoreRetryBudget,
		SafeMigrationWait:       c.SafeMigrationWait(),
		UseSessionPool:          c.UseSessionPool,
		SessionConfig: session.Config{
			MaxPoolSize:   c.Session.MaxPoolSize,
			MaxUsageCount: c.Session.MaxUsageCount,
			MaxErrorScore: c.Session.MaxErrorScore,
		},
		Pool: pool.Config{
			MinConcurrency:          c.Pool.MinConcurrency,
			MaxConcurrency:          c.Pool.MaxConcurrency,
			DesiredConcurrencyRatio: c.Pool.DesiredConcurrencyRatio,
			ScaleUpStepRatio:        c.Pool.ScaleUpStepRatio,
			ScaleDownStepRatio:      c.Pool.ScaleDownStepRatio,
			MaybeRunInterval:        c.Pool.MaybeRunIntervalDuration(),
			AutoscaleInterval:       c.Pool.AutoscaleIntervalDuration(),
			LoggingInterval:         c.Pool.LoggingIntervalDuration(),
		},
		LoadMonitor: loadmonitor.Config{
			SampleInterval:        c.LoadMonitor.SampleIntervalDuration(),
			WindowSize:            c.LoadMonitor.WindowSizeDuration(),
			MaxUsedCPURatio:       c.LoadMonitor.MaxUsedCPURatio,
			MaxUsedMemoryRatio:    c.LoadMonitor.MaxUsedMemoryRatio,
			MaxEventLoopRatio:     c.LoadMonitor.MaxEventLoopRatio,
			EventLoopBlockedAfter: c.LoadMonitor.EventLoopBlockedAfterDuration(),
			MaxOverloadedRatio:    c.LoadMonitor.MaxOverloadedRatio,
			MaxMemoryBytes:        uint64(c.LoadMonitor.MaxMemoryBytes),
		},
	}
}
