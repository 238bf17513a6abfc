package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// Metrics tracks operational metrics for a running crawl.
type Metrics struct {
	RequestsFinished atomic.Int64
	RequestsFailed   atomic.Int64
	RequestsRetried  atomic.Int64

	PoolDesiredConcurrency atomic.Int64
	PoolCurrentConcurrency atomic.Int64

	QueueHeadLength        atomic.Int64
	RequestListInProgress  atomic.Int64

	retryHistMu   sync.Mutex
	retryHistBkts map[int]int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		retryHistBkts: make(map[int]int64),
		logger:        logger.With("component", "metrics"),
	}
}

// ObserveRetryBucket records one more request resolved at the given
// retry count.
func (m *Metrics) ObserveRetryBucket(retryCount int) {
	m.retryHistMu.Lock()
	m.retryHistBkts[retryCount]++
	m.retryHistMu.Unlock()
}

// SetPoolConcurrency reports the autoscaled pool's current desired and
// running task counts. Satisfies pool.MetricsSink.
func (m *Metrics) SetPoolConcurrency(desired, current int) {
	m.PoolDesiredConcurrency.Store(int64(desired))
	m.PoolCurrentConcurrency.Store(int64(current))
}

// SetQueueHeadLength reports the request queue's in-memory head
// length. Satisfies requestqueue.MetricsSink.
func (m *Metrics) SetQueueHeadLength(n int) {
	m.QueueHeadLength.Store(int64(n))
}

// SetInProgress reports the request list's in-progress count.
// Satisfies requestlist.MetricsSink.
func (m *Metrics) SetInProgress(n int) {
	m.RequestListInProgress.Store(int64(n))
}

func (m *Metrics) retryBuckets() map[int]int64 {
	m.retryHistMu.Lock()
	defer m.retryHistMu.Unlock()
	out := make(map[int]int64, len(m.retryHistBkts))
	for k, v := range m.retryHistBkts {
		out[k] = v
	}
	return out
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	counters := []struct {
		name  string
		help  string
		value int64
	}{
		{"crawlcore_requests_finished_total", "Total requests resolved successfully", m.RequestsFinished.Load()},
		{"crawlcore_requests_failed_total", "Total requests that exhausted retries", m.RequestsFailed.Load()},
		{"crawlcore_requests_retried_total", "Total retry attempts issued", m.RequestsRetried.Load()},
		{"crawlcore_pool_desired_concurrency", "Pool's currently desired concurrency", m.PoolDesiredConcurrency.Load()},
		{"crawlcore_pool_current_concurrency", "Pool's currently running task count", m.PoolCurrentConcurrency.Load()},
		{"crawlcore_queue_head_length", "In-memory request queue head length", m.QueueHeadLength.Load()},
		{"crawlcore_requestlist_in_progress", "Request list entries currently in progress", m.RequestListInProgress.Load()},
	}

	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.value)
	}

	fmt.Fprintf(w, "# HELP crawlcore_retry_histogram_bucket Requests resolved by retry count\n")
	fmt.Fprintf(w, "# TYPE crawlcore_retry_histogram_bucket gauge\n")
	for bucket, count := range m.retryBuckets() {
		fmt.Fprintf(w, "crawlcore_retry_histogram_bucket{retries=\"%d\"} %d\n", bucket, count)
	}
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns all metrics as a map, useful for tests and logging.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests_finished":        m.RequestsFinished.Load(),
		"requests_failed":          m.RequestsFailed.Load(),
		"requests_retried":         m.RequestsRetried.Load(),
		"pool_desired_concurrency": m.PoolDesiredConcurrency.Load(),
		"pool_current_concurrency": m.PoolCurrentConcurrency.Load(),
		"queue_head_length":        m.QueueHeadLength.Load(),
		"requestlist_in_progress":  m.RequestListInProgress.Load(),
	}
}
