package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webstalk/corecrawl/internal/config"
	"github.com/webstalk/corecrawl/internal/crawler"
	"github.com/webstalk/corecrawl/internal/eventbus"
	"github.com/webstalk/corecrawl/internal/kvstore"
	"github.com/webstalk/corecrawl/internal/observability"
	"github.com/webstalk/corecrawl/internal/requestlist"
	"github.com/webstalk/corecrawl/internal/requestqueue"
)

var (
	cfgFile     string
	verbose     bool
	concurrency int
	maxRequests int
	maxRetries  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corerunner",
		Short: "corerunner — a generic web-crawling core runner",
		Long: `corerunner drives a BasicCrawler against a set of seed URLs:
request sourcing via a RequestList, durable dynamic discovery via a
RequestQueue, autoscaled concurrency, session rotation, and a
Prometheus metrics endpoint.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Crawl the given seed URL(s)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCrawl,
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "max pool concurrency (0 = use config default)")
	cmd.Flags().IntVarP(&maxRequests, "max-requests", "m", 0, "maximum total requests (0 = unlimited)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "max retries per failed request (-1 = use config default)")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, rawURL := range args {
		if err := config.ValidateURL(rawURL); err != nil {
			return fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
	}

	logger.Info("starting crawl",
		"seeds", args,
		"max_concurrency", cfg.Crawler.Pool.MaxConcurrency,
		"use_session_pool", cfg.Crawler.UseSessionPool,
	)

	ctx := context.Background()

	sources := make([]requestlist.Source, len(args))
	for i, u := range args {
		sources[i] = requestlist.URLSource(u)
	}

	store, queueStore, err := buildBackingStores(cfg, logger)
	if err != nil {
		return fmt.Errorf("build backing stores: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(logger)
	}

	rlOpts := []requestlist.Option{requestlist.WithStore(store, "corerunner")}
	if metrics != nil {
		rlOpts = append(rlOpts, requestlist.WithMetrics(metrics))
	}
	rl := requestlist.New(rlOpts...)
	if err := rl.Initialize(ctx, requestlist.InitOptions{Sources: sources}); err != nil {
		return fmt.Errorf("initialize request list: %w", err)
	}

	var rqOpts []requestqueue.Option
	if metrics != nil {
		rqOpts = append(rqOpts, requestqueue.WithMetrics(metrics))
	}
	rq := requestqueue.New(queueStore, rqOpts...)

	bus := eventbus.New(logger)

	// A toy handler: this binary exists to prove the pipeline wiring
	// (RequestList/RequestQueue/AutoscaledPool/BasicCrawler) runs end to
	// end from the command line, not to fetch real pages — see
	// httpHandler in tests/integration_test.go for a handler that does a
	// real net/http fetch.
	handler := func(_ context.Context, cc *crawler.CrawlingContext) error {
		logger.Info("visited", "url", cc.Request.URL, "retry_count", cc.Request.RetryCount)
		return nil
	}

	crawlerCfg := cfg.Crawler.ToCrawlerConfig()
	crawlerCfg.Metrics = metrics

	c, err := crawler.New(crawlerCfg, rl, rq, handler, store, bus, logger)
	if err != nil {
		return fmt.Errorf("construct crawler: %w", err)
	}
	defer c.Close()

	if metrics != nil {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, requesting abort", "signal", sig)
		bus.Emit(ctx, eventbus.EventAborting)
	}()

	start := time.Now()
	runErr := c.Run(ctx)
	elapsed := time.Since(start)

	snap := c.Stats()
	fmt.Printf("\nCrawl finished in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Requests: %d finished, %d failed\n", snap.RequestsFinished, snap.RequestsFailed)

	return runErr
}

// buildBackingStores constructs the kvstore.Store (checkpoint and
// statistics persistence) and requestqueue.BackingStore per the
// configured backing_store tier.
func buildBackingStores(cfg *config.Config, logger *slog.Logger) (kvstore.Store, requestqueue.BackingStore, error) {
	switch cfg.Crawler.BackingStore {
	case "mongo":
		store, err := kvstore.NewMongoStore(cfg.Crawler.MongoURI, cfg.Crawler.MongoDB, "corecrawl_state", logger)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo kvstore: %w", err)
		}
		queueStore, err := requestqueue.NewMongoBackingStore(cfg.Crawler.MongoURI, cfg.Crawler.MongoDB, "corecrawl_queue", logger)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo queue store: %w", err)
		}
		return store, queueStore, nil
	default:
		return kvstore.NewMemStore(), requestqueue.NewMemBackingStore(), nil
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corerunner %s\n", config.Version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate current configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Crawler:\n")
			fmt.Printf("  Handle Request Timeout: %ds\n", cfg.Crawler.HandleRequestTimeoutSecs)
			fmt.Printf("  Max Request Retries:     %d\n", cfg.Crawler.MaxRequestRetries)
			fmt.Printf("  Max Requests Per Crawl:  %d\n", cfg.Crawler.MaxRequestsPerCrawl)
			fmt.Printf("  Use Session Pool:        %v\n", cfg.Crawler.UseSessionPool)
			fmt.Printf("  Backing Store:           %s\n", cfg.Crawler.BackingStore)
			fmt.Printf("Pool:\n")
			fmt.Printf("  Min/Max Concurrency:     %d/%d\n", cfg.Crawler.Pool.MinConcurrency, cfg.Crawler.Pool.MaxConcurrency)
			fmt.Printf("Metrics:\n")
			fmt.Printf("  Enabled:                 %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:                    %d\n", cfg.Metrics.Port)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the resolved configuration and exit non-zero on error",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})
	return cmd
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func applyCLIOverrides(cfg *config.Config) {
	if concurrency > 0 {
		cfg.Crawler.Pool.MaxConcurrency = concurrency
	}
	if maxRequests > 0 {
		cfg.Crawler.MaxRequestsPerCrawl = maxRequests
	}
	if maxRetries >= 0 {
		cfg.Crawler.MaxRequestRetries = maxRetries
	}
}
