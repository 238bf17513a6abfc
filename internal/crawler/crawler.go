// Package crawler implements the per-request state machine (the core
// crawling engine's C6 BasicCrawler): FETCHING, HANDLING and RESOLVING
// a single request at a time per pool task, wired into an
// AutoscaledPool for concurrency, a session pool for cookie/identity
// rotation, and an event bus for migration/abort signals. Grounded on
// the teacher's internal/engine.Engine — concrete collaborator fields
// (frontier, dedup, scheduler there; list, queue, pool, sessions here)
// rather than a generic plugin registry, following the same
// composition style.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/webstalk/corecrawl/internal/eventbus"
	"github.com/webstalk/corecrawl/internal/kvstore"
	"github.com/webstalk/corecrawl/internal/loadmonitor"
	"github.com/webstalk/corecrawl/internal/observability"
	"github.com/webstalk/corecrawl/internal/pool"
	"github.com/webstalk/corecrawl/internal/request"
	"github.com/webstalk/corecrawl/internal/requestlist"
	"github.com/webstalk/corecrawl/internal/requestqueue"
	"github.com/webstalk/corecrawl/internal/session"
	"github.com/webstalk/corecrawl/internal/stats"
)

// HandleRequestFunc is the user's primary extension point: it must
// signal failure by returning a non-nil error (the crawler never
// inspects a return value to drive retries), and must not mutate
// cc.Request.URL or cc.Request.UniqueKey.
type HandleRequestFunc func(ctx context.Context, cc *CrawlingContext) error

// HandleFailedRequestFunc reacts to a request that exhausted its
// retries (or was marked NoRetry). The default logs and continues.
type HandleFailedRequestFunc func(ctx context.Context, cc *CrawlingContext, lastErr error)

// CrawlingContext is handed to the user's handler for a single request
// attempt. Crawler is a non-owning back-reference: the Crawler owns
// every CrawlingContext it hands out, never the other way around.
type CrawlingContext struct {
	ID      string
	Request *request.Request
	Session *session.Session // nil when session pooling is disabled
	Crawler *Crawler
}

// requestOwner records which source a fetched request must be resolved
// against. A request transferred from the list into the queue (see
// fetchNext) is owned by the queue from that point on — the list
// already marked its copy handled.
type requestOwner int

const (
	ownerNone requestOwner = iota
	ownerList
	ownerQueue
)

// Config configures a Crawler at construction. Zero-value fields fall
// back to the core spec's defaults.
type Config struct {
	HandleRequestTimeout time.Duration
	MaxRequestRetries    int
	MaxRequestsPerCrawl  int // 0 = unlimited

	// BackingStoreTimeout/BackingStoreRetryBudget tune the
	// timeout-and-retry wrapper around fetch/mark-handled/reclaim.
	// Independent of HandleRequestTimeout, which bounds the user
	// handler itself and never retries.
	BackingStoreTimeout     time.Duration
	BackingStoreRetryBudget int
	SafeMigrationWait       time.Duration

	UseSessionPool bool
	SessionConfig  session.Config

	Pool        pool.Config
	LoadMonitor loadmonitor.Config

	HandleFailedRequestFunc HandleFailedRequestFunc

	// Metrics, when set, is fed live pool concurrency and retry/outcome
	// observations as the crawl runs.
	Metrics *observability.Metrics
}

func (c Config) withDefaults() Config {
	if c.HandleRequestTimeout <= 0 {
		c.HandleRequestTimeout = 60 * time.Second
	}
	if c.MaxRequestRetries <= 0 {
		c.MaxRequestRetries = 3
	}
	if c.BackingStoreTimeout <= 0 {
		c.BackingStoreTimeout = 30 * time.Second
	}
	if c.BackingStoreRetryBudget <= 0 {
		c.BackingStoreRetryBudget = 3
	}
	if c.SafeMigrationWait <= 0 {
		c.SafeMigrationWait = 20 * time.Second
	}
	return c
}

// Crawler drives requests from an optional RequestList and/or
// RequestQueue through a user handler, under an AutoscaledPool.
type Crawler struct {
	cfg    Config
	logger *slog.Logger

	list  *requestlist.RequestList
	queue *requestqueue.RequestQueue

	handleRequest HandleRequestFunc
	handleFailed  HandleFailedRequestFunc

	sessions *session.Pool
	stats    *stats.Statistics
	monitor  *loadmonitor.Monitor
	bus      *eventbus.Bus
	store    kvstore.Store
	metrics  *observability.Metrics

	pool *pool.Pool

	handledRequests atomic.Int64
	migrating       atomic.Bool
}

// New constructs a Crawler. At least one of list or queue is required.
// store may be nil (no checkpoint persistence); bus may be nil (no
// migration/abort signalling).
func New(cfg Config, list *requestlist.RequestList, queue *requestqueue.RequestQueue, handleRequest HandleRequestFunc, store kvstore.Store, bus *eventbus.Bus, logger *slog.Logger) (*Crawler, error) {
	if list == nil && queue == nil {
		return nil, ErrNoSource
	}
	if handleRequest == nil {
		return nil, ErrNoHandler
	}
	cfg = cfg.withDefaults()
	if cfg.HandleFailedRequestFunc == nil {
		cfg.HandleFailedRequestFunc = logAndContinue
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Crawler{
		cfg:           cfg,
		logger:        logger.With("component", "crawler"),
		list:          list,
		queue:         queue,
		handleRequest: handleRequest,
		handleFailed:  cfg.HandleFailedRequestFunc,
		stats:         stats.New(),
		store:         store,
		bus:           bus,
		metrics:       cfg.Metrics,
	}
	if cfg.UseSessionPool {
		c.sessions = session.New(cfg.SessionConfig)
	}
	c.monitor = loadmonitor.New(cfg.LoadMonitor, logger)
	poolCfg := cfg.Pool
	if cfg.Metrics != nil {
		poolCfg.Metrics = cfg.Metrics
	}
	c.pool = pool.New(poolCfg, c.runTask, c.isTaskReady, c.isFinished, c.monitor, logger)

	if bus != nil {
		bus.Subscribe(eventbus.EventMigrating, c.onMigrationSignal)
		bus.Subscribe(eventbus.EventAborting, c.onMigrationSignal)
	}

	return c, nil
}

func logAndContinue(_ context.Context, cc *CrawlingContext, lastErr error) {
	slog.Default().Error("request failed permanently", "url", cc.Request.URL, "error", lastErr)
}

// Run restores any persisted statistics, starts the load monitor, and
// drives the pool until the work is finished, a fatal error occurs, or
// ctx is cancelled. Final statistics are always logged before return.
func (c *Crawler) Run(ctx context.Context) error {
	if c.store != nil {
		if err := c.stats.Restore(ctx, c.store); err != nil {
			return fmt.Errorf("crawler: restore statistics: %w", err)
		}
	}

	c.monitor.Start(ctx)
	defer c.monitor.Stop()

	runErr := c.pool.Run(ctx)

	if err := c.persistState(context.Background()); err != nil {
		c.logger.Error("final state persistence failed", "error", err)
	}

	snap := c.stats.Snapshot()
	c.logger.Info("crawl finished",
		"requests_finished", snap.RequestsFinished,
		"requests_failed", snap.RequestsFailed,
		"error", runErr,
	)
	return runErr
}

// Stats returns a point-in-time snapshot of the crawl's statistics.
func (c *Crawler) Stats() stats.Snapshot { return c.stats.Snapshot() }

// Pause, Resume and Abort expose the underlying pool's control plane
// so a user handler holding a CrawlingContext.Crawler back-reference
// can drive them directly (see the CrawlingContext doc on who owns whom).
func (c *Crawler) Pause(ctx context.Context, timeout time.Duration) error {
	return c.pool.Pause(ctx, timeout)
}
func (c *Crawler) Resume(ctx context.Context) { c.pool.Resume(ctx) }
func (c *Crawler) Abort(ctx context.Context)  { c.pool.Abort(ctx) }

// Close tears down the crawler's event bus subscription. Safe to call
// once, after Run returns.
func (c *Crawler) Close() {
	if c.bus != nil {
		c.bus.Close()
	}
}

// runTask is the pool's RunTaskFunc: fetch one request, hand it to the
// user, and resolve success or failure. Only a failure inside the
// resolution path itself (ErrResolutionFailed) is fatal to the pool;
// every other outcome — including an exhausted fetch retry, which has
// no concrete request to fail — is logged and absorbed here.
func (c *Crawler) runTask(ctx context.Context) error {
	req, owner, sess, err := c.fetchWithRetry(ctx)
	if err != nil {
		c.logger.Error("fetch failed after retries", "error", err)
		return nil
	}
	if req == nil {
		return nil
	}

	c.stats.StartJob(req.UniqueKey)
	req.LoadedURL = ""

	cc := &CrawlingContext{ID: req.UniqueKey, Request: req, Session: sess, Crawler: c}

	if handlerErr := c.invokeHandler(ctx, cc); handlerErr != nil {
		return c.resolveFailure(ctx, req, owner, sess, handlerErr)
	}
	return c.resolveSuccess(ctx, req, owner, sess)
}

// fetchNext implements the FETCHING transition's list-then-queue
// tie-break: the list is consulted first when both sources are
// configured, and a request it yields is transferred into the queue at
// the forefront and marked handled in the list, so the queue becomes
// the single authoritative source for it from this point on. The
// transferred request is then popped straight back off the queue head
// so this call still delivers one request, matching the tie-break rule
// that the list-sourced item is handled before anything already
// sitting in the queue.
func (c *Crawler) fetchNext(ctx context.Context) (*request.Request, requestOwner, error) {
	if c.list != nil {
		r, err := c.list.FetchNextRequest(ctx)
		if err != nil {
			return nil, ownerNone, err
		}
		if r != nil {
			if c.queue == nil {
				return r, ownerList, nil
			}
			if _, err := c.queue.AddRequest(ctx, r, true); err != nil {
				if rErr := c.list.ReclaimRequest(ctx, r); rErr != nil {
					c.logger.Error("reclaim to list after failed queue insert", "error", rErr)
				}
				return nil, ownerNone, nil
			}
			if err := c.list.MarkRequestHandled(ctx, r); err != nil {
				return nil, ownerNone, err
			}
			queued, err := c.queue.FetchNextRequest(ctx)
			if err != nil {
				return nil, ownerNone, err
			}
			if queued == nil {
				// Stale head index: the transfer hasn't settled yet.
				// The next fetch will pick it up.
				return nil, ownerNone, nil
			}
			return queued, ownerQueue, nil
		}
	}

	if c.queue != nil {
		r, err := c.queue.FetchNextRequest(ctx)
		if err != nil {
			return nil, ownerNone, err
		}
		if r != nil {
			return r, ownerQueue, nil
		}
	}

	return nil, ownerNone, nil
}

// fetchWithRetry wraps fetchNext in the timeout-and-retry contract and
// requests a session alongside a successful fetch. The source spec
// models the session request as running in parallel with the fetch;
// since session.Pool.GetSession never blocks on I/O, doing it
// sequentially here has the same observable effect.
func (c *Crawler) fetchWithRetry(ctx context.Context) (*request.Request, requestOwner, *session.Session, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.BackingStoreRetryBudget; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, c.cfg.BackingStoreTimeout)
		req, owner, err := c.fetchNext(tctx)
		cancel()

		if err == nil {
			if req == nil {
				return nil, ownerNone, nil, nil
			}
			var sess *session.Session
			if c.sessions != nil {
				sess, err = c.sessions.GetSession()
				if err != nil {
					return nil, ownerNone, nil, err
				}
			}
			return req, owner, sess, nil
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, ownerNone, nil, err
		}
		lastErr = fmt.Errorf("%w: %w", ErrTimeout, err)
		if ctx.Err() != nil {
			return nil, ownerNone, nil, lastErr
		}
	}
	return nil, ownerNone, nil, lastErr
}

// invokeHandler runs the user handler under a plain timeout (no
// retry): on timeout the handler's context is cancelled so a
// cooperative handler can unwind, but this call returns immediately
// rather than waiting for it to actually return.
func (c *Crawler) invokeHandler(ctx context.Context, cc *CrawlingContext) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandleRequestTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.handleRequest(hctx, cc) }()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		return fmt.Errorf("%w: handler exceeded %s", ErrTimeout, c.cfg.HandleRequestTimeout)
	}
}

// resolveSuccess marks r handled on its owning source and records
// success statistics. A failure in markRequestHandled here is a second
// failure inside the resolution path, which is fatal.
func (c *Crawler) resolveSuccess(ctx context.Context, r *request.Request, owner requestOwner, sess *session.Session) error {
	if err := c.markHandled(ctx, r, owner); err != nil {
		return fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	if sess != nil {
		sess.MarkGood()
	}
	c.handledRequests.Add(1)
	c.stats.FinishJob(r.UniqueKey, r.RetryCount)
	if c.metrics != nil {
		c.metrics.RequestsFinished.Add(1)
		c.metrics.ObserveRetryBucket(r.RetryCount)
	}
	return nil
}

// resolveFailure pushes handlerErr onto r, then either reclaims r for
// another attempt or, once retries are exhausted (or NoRetry is set),
// marks it handled and invokes the failed-request callback.
func (c *Crawler) resolveFailure(ctx context.Context, r *request.Request, owner requestOwner, sess *session.Session, handlerErr error) error {
	r.AddError(handlerErr.Error())
	if sess != nil {
		sess.MarkBad()
	}

	if !r.NoRetry && r.RetryCount < c.cfg.MaxRequestRetries {
		r.RetryCount++
		if err := c.reclaim(ctx, r, owner); err != nil {
			return fmt.Errorf("%w: %w", ErrResolutionFailed, err)
		}
		if c.metrics != nil {
			c.metrics.RequestsRetried.Add(1)
		}
		return nil
	}

	if err := c.markHandled(ctx, r, owner); err != nil {
		return fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	c.stats.FailJob(r.UniqueKey, r.RetryCount)
	if c.metrics != nil {
		c.metrics.RequestsFailed.Add(1)
		c.metrics.ObserveRetryBucket(r.RetryCount)
	}
	c.handleFailed(ctx, &CrawlingContext{ID: r.UniqueKey, Request: r, Session: sess, Crawler: c}, handlerErr)
	return nil
}

func (c *Crawler) markHandled(ctx context.Context, r *request.Request, owner requestOwner) error {
	return c.withTimeoutRetry(ctx, func(tctx context.Context) error {
		switch owner {
		case ownerList:
			return c.list.MarkRequestHandled(tctx, r)
		case ownerQueue:
			return c.queue.MarkRequestHandled(tctx, r)
		default:
			return nil
		}
	})
}

func (c *Crawler) reclaim(ctx context.Context, r *request.Request, owner requestOwner) error {
	return c.withTimeoutRetry(ctx, func(tctx context.Context) error {
		switch owner {
		case ownerList:
			return c.list.ReclaimRequest(tctx, r)
		case ownerQueue:
			return c.queue.ReclaimRequest(tctx, r, false)
		default:
			return nil
		}
	})
}

// isTaskReady is the pool's IsTaskReadyFunc: max_requests_per_crawl is
// a soft ceiling enforced here, and the list-before-queue tie-break
// applies to readiness the same way it applies to fetching.
func (c *Crawler) isTaskReady(ctx context.Context) (bool, error) {
	if c.cfg.MaxRequestsPerCrawl > 0 && c.handledRequests.Load() >= int64(c.cfg.MaxRequestsPerCrawl) {
		return false, nil
	}

	if c.list != nil && !c.list.IsEmpty() {
		return true, nil
	}
	if c.queue != nil {
		empty, err := c.queue.IsEmpty(ctx)
		if err != nil {
			return false, err
		}
		return !empty, nil
	}
	return false, nil
}

// isFinished is the pool's IsFinishedFunc: the crawl is finished once
// MaxRequestsPerCrawl is reached, or otherwise once every configured
// source reports finished.
func (c *Crawler) isFinished(ctx context.Context) (bool, error) {
	if c.cfg.MaxRequestsPerCrawl > 0 && c.handledRequests.Load() >= int64(c.cfg.MaxRequestsPerCrawl) {
		return true, nil
	}
	if c.list != nil && !c.list.IsFinished() {
		return false, nil
	}
	if c.queue != nil {
		done, err := c.queue.IsFinished(ctx)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

// onMigrationSignal handles both MIGRATING and ABORTING: pause the
// pool within the safe-migration budget, persist state regardless of
// whether the pause drained in time, then abort — a fresh Crawler
// constructed against the same store resumes from the checkpoint.
func (c *Crawler) onMigrationSignal(ctx context.Context, evt eventbus.EventType) {
	if !c.migrating.CompareAndSwap(false, true) {
		return
	}
	defer c.migrating.Store(false)

	c.logger.Info("migration signal received, pausing pool", "event", evt)

	pauseCtx, cancel := context.WithTimeout(ctx, c.cfg.SafeMigrationWait+time.Second)
	defer cancel()

	if err := c.pool.Pause(pauseCtx, c.cfg.SafeMigrationWait); err != nil {
		if errors.Is(err, pool.ErrPauseTimeout) {
			c.logger.Warn("safe migration wait elapsed before in-flight tasks drained; persisting anyway")
		} else {
			c.logger.Error("pause during migration failed", "error", err)
		}
	}

	if err := c.persistState(ctx); err != nil {
		c.logger.Error("persistence during migration failed", "error", err)
	}

	c.pool.Abort(ctx)
}

// persistState writes the list checkpoint and statistics snapshot.
// Best-effort: errors are joined and returned to the caller to log,
// never propagated into the crawler's termination path.
func (c *Crawler) persistState(ctx context.Context) error {
	var errs []error
	if c.list != nil {
		if err := c.list.PersistState(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.store != nil {
		if err := c.stats.Persist(ctx, c.store); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
