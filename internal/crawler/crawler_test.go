package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webstalk/corecrawl/internal/eventbus"
	"github.com/webstalk/corecrawl/internal/kvstore"
	"github.com/webstalk/corecrawl/internal/pool"
	"github.com/webstalk/corecrawl/internal/request"
	"github.com/webstalk/corecrawl/internal/requestlist"
	"github.com/webstalk/corecrawl/internal/requestqueue"
)

func mustSources(urls ...string) []requestlist.Source {
	out := make([]requestlist.Source, len(urls))
	for i, u := range urls {
		out[i] = requestlist.URLSource(u)
	}
	return out
}

func fastConfig() Config {
	return Config{
		HandleRequestTimeout:    time.Second,
		BackingStoreTimeout:     time.Second,
		BackingStoreRetryBudget: 2,
		Pool: pool.Config{
			MinConcurrency:    1,
			MaxConcurrency:    4,
			MaybeRunInterval:  5 * time.Millisecond,
			AutoscaleInterval: time.Hour,
			LoggingInterval:   time.Hour,
		},
	}
}

// S1 — RequestList-only happy path.
func TestListOnlyHappyPath(t *testing.T) {
	ctx := context.Background()
	rl := requestlist.New()
	if err := rl.Initialize(ctx, requestlist.InitOptions{Sources: mustSources(
		"http://a/1", "http://a/2", "http://a/3",
	)}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var mu sync.Mutex
	var seen []string
	handler := func(_ context.Context, cc *CrawlingContext) error {
		mu.Lock()
		seen = append(seen, cc.Request.URL)
		mu.Unlock()
		return nil
	}

	c, err := New(fastConfig(), rl, nil, handler, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 requests handled, got %d (%v)", len(seen), seen)
	}
	snap := c.Stats()
	if snap.RequestsFinished != 3 || snap.RequestsFailed != 0 {
		t.Fatalf("unexpected stats snapshot %+v", snap)
	}
}

// S3 — Retry then succeed.
func TestRetryThenSucceed(t *testing.T) {
	ctx := context.Background()
	rl := requestlist.New()
	_ = rl.Initialize(ctx, requestlist.InitOptions{Sources: mustSources("http://a/1")})

	var attempts atomic.Int64
	handler := func(_ context.Context, cc *CrawlingContext) error {
		n := attempts.Add(1)
		if n < 3 {
			return fmt.Errorf("attempt %d failed", n)
		}
		return nil
	}

	cfg := fastConfig()
	cfg.MaxRequestRetries = 3
	c, err := New(cfg, rl, nil, handler, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	snap := c.Stats()
	if snap.RequestsFinished != 1 || snap.RequestsFailed != 0 {
		t.Fatalf("unexpected stats snapshot %+v", snap)
	}
	if len(snap.RetryHistogram) <= 2 || snap.RetryHistogram[2] != 1 {
		t.Fatalf("expected retry histogram bucket 2 = 1, got %v", snap.RetryHistogram)
	}
}

// S4 — Exhaust retries.
func TestExhaustRetries(t *testing.T) {
	ctx := context.Background()
	rl := requestlist.New()
	_ = rl.Initialize(ctx, requestlist.InitOptions{Sources: mustSources("http://a/1")})

	var attempts atomic.Int64
	handler := func(_ context.Context, cc *CrawlingContext) error {
		attempts.Add(1)
		return errors.New("boom")
	}

	var failedCalls atomic.Int64
	var lastErr error
	var mu sync.Mutex

	cfg := fastConfig()
	cfg.MaxRequestRetries = 2
	cfg.HandleFailedRequestFunc = func(_ context.Context, cc *CrawlingContext, err error) {
		failedCalls.Add(1)
		mu.Lock()
		lastErr = err
		mu.Unlock()
	}

	c, err := New(cfg, rl, nil, handler, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if attempts.Load() != 3 {
		t.Fatalf("expected 3 total attempts (initial + 2 retries), got %d", attempts.Load())
	}
	if failedCalls.Load() != 1 {
		t.Fatalf("expected handleFailedRequestFunc invoked exactly once, got %d", failedCalls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if lastErr == nil || lastErr.Error() != "boom" {
		t.Fatalf("expected the final handler error, got %v", lastErr)
	}
	snap := c.Stats()
	if snap.RequestsFailed != 1 || snap.RequestsFinished != 0 {
		t.Fatalf("unexpected stats snapshot %+v", snap)
	}
}

// S5 — RequestList + RequestQueue drain order: the list item is
// transferred to the queue at the forefront and processed before an
// item already sitting in the queue.
func TestListAndQueueForefrontOrdering(t *testing.T) {
	ctx := context.Background()

	rl := requestlist.New()
	_ = rl.Initialize(ctx, requestlist.InitOptions{Sources: mustSources("http://a/1")})

	store := requestqueue.NewMemBackingStore()
	rq := requestqueue.New(store)
	seedReq, _ := request.New("http://b/2")
	if _, err := rq.AddRequest(ctx, seedReq, false); err != nil {
		t.Fatalf("seed queue: %v", err)
	}

	var mu sync.Mutex
	var order []string
	handler := func(_ context.Context, cc *CrawlingContext) error {
		mu.Lock()
		order = append(order, cc.Request.URL)
		mu.Unlock()
		return nil
	}

	cfg := fastConfig()
	cfg.Pool.MaxConcurrency = 1
	cfg.Pool.MinConcurrency = 1
	c, err := New(cfg, rl, rq, handler, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(order) != 2 {
		t.Fatalf("expected 2 requests handled, got %d (%v)", len(order), order)
	}
	if order[0] != "http://a/1" || order[1] != "http://b/2" {
		t.Fatalf("expected list item before queue item, got %v", order)
	}
}

// S6 — MaxRequestsPerCrawl: the ceiling is soft, in-flight work at the
// moment it's reached is allowed to finish.
func TestMaxRequestsPerCrawlSoftCeiling(t *testing.T) {
	ctx := context.Background()

	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://a/%d", i)
	}
	rl := requestlist.New()
	_ = rl.Initialize(ctx, requestlist.InitOptions{Sources: mustSources(urls...)})

	handler := func(_ context.Context, cc *CrawlingContext) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	cfg := fastConfig()
	cfg.MaxRequestsPerCrawl = 5
	cfg.Pool.MinConcurrency = 3
	cfg.Pool.MaxConcurrency = 3

	c, err := New(cfg, rl, nil, handler, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := c.Stats()
	if snap.RequestsFinished < 5 || snap.RequestsFinished > 8 {
		t.Fatalf("expected between 5 and 8 requests handled (ceiling 5 plus in-flight drain), got %d", snap.RequestsFinished)
	}
}

// S7 — Migration: a MIGRATING signal pauses the pool, persists the
// list checkpoint, and aborts; a fresh crawler against the same store
// processes only what remains.
func TestMigrationPersistsAndResumes(t *testing.T) {
	ctx := context.Background()

	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://a/%d", i)
	}

	store := kvstore.NewMemStore()

	rl := requestlist.New(requestlist.WithStore(store, "list"))
	_ = rl.Initialize(ctx, requestlist.InitOptions{Sources: mustSources(urls...)})

	var finished atomic.Int64
	handler := func(_ context.Context, cc *CrawlingContext) error {
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
		return nil
	}

	bus := eventbus.New(nil)
	cfg := fastConfig()
	cfg.Pool.MinConcurrency = 3
	cfg.Pool.MaxConcurrency = 3
	cfg.SafeMigrationWait = time.Second

	c, err := New(cfg, rl, nil, handler, store, bus, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go func() {
		time.Sleep(45 * time.Millisecond)
		bus.Emit(ctx, eventbus.EventMigrating)
	}()

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Close()

	handledFirst := finished.Load()
	if handledFirst == 0 || handledFirst >= int64(len(urls)) {
		t.Fatalf("expected a partial crawl before migration, got %d of %d", handledFirst, len(urls))
	}

	// Fresh crawler, same sources and store: must process exactly the
	// remainder.
	rl2 := requestlist.New(requestlist.WithStore(store, "list"))
	if err := rl2.Initialize(ctx, requestlist.InitOptions{Sources: mustSources(urls...)}); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}

	var resumed atomic.Int64
	handler2 := func(_ context.Context, cc *CrawlingContext) error {
		resumed.Add(1)
		return nil
	}

	c2, err := New(fastConfig(), rl2, nil, handler2, store, nil, nil)
	if err != nil {
		t.Fatalf("New (resume): %v", err)
	}
	defer c2.Close()

	runCtx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer cancel2()
	if err := c2.Run(runCtx2); err != nil {
		t.Fatalf("Run (resume): %v", err)
	}

	if handledFirst+resumed.Load() != int64(len(urls)) {
		t.Fatalf("expected the two runs to cover all %d urls exactly once, got %d + %d", len(urls), handledFirst, resumed.Load())
	}
}
