// Package stats implements the crawling engine's Statistics component
// (C7): per-request lifetime tracking, a retry histogram, and
// percentile duration reporting, periodically checkpointed through the
// kvstore abstraction. Grounded on the teacher's internal/engine stats
// counters (engine.go's atomic RequestsSent/ResponsesOK/RequestsFailed
// fields), generalised from plain counters into a duration-tracking,
// checkpointable collector, with percentile computation promoted to a
// direct dependency (github.com/montanaflynn/stats) per the core spec's
// "exact percentile computation is implementation-defined" note.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mstats "github.com/montanaflynn/stats"

	"github.com/webstalk/corecrawl/internal/clock"
	"github.com/webstalk/corecrawl/internal/kvstore"
)

// Snapshot is the persisted and externally-reported view of a
// Statistics collector.
type Snapshot struct {
	RequestsFinished int64   `json:"requests_finished"`
	RequestsFailed   int64   `json:"requests_failed"`
	RetryHistogram   []int64 `json:"retry_histogram"`

	MinDurationMs  float64 `json:"min_duration_ms"`
	MaxDurationMs  float64 `json:"max_duration_ms"`
	MeanDurationMs float64 `json:"mean_duration_ms"`
	P50DurationMs  float64 `json:"p50_duration_ms"`
	P90DurationMs  float64 `json:"p90_duration_ms"`
	P99DurationMs  float64 `json:"p99_duration_ms"`
}

// Statistics accumulates per-request lifetimes and a retry histogram.
// The crawler calls its exported methods from the pool's task
// goroutines, which run in parallel, so a mutex guards all state.
type Statistics struct {
	mu sync.Mutex
	clk clock.Clock

	inProgress map[string]time.Time

	requestsFinished int64
	requestsFailed   int64
	retryHistogram   []int64
	durationsMs      []float64
}

// Option configures a Statistics collector at construction.
type Option func(*Statistics)

// WithClock overrides the clock source (for deterministic tests).
func WithClock(c clock.Clock) Option {
	return func(s *Statistics) { s.clk = c }
}

// New constructs an empty Statistics collector.
func New(opts ...Option) *Statistics {
	s := &Statistics{
		clk:        clock.Real{},
		inProgress: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartJob records the start instant of the request identified by id.
func (s *Statistics) StartJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress[id] = s.clk.Now()
}

// FinishJob removes id from in-progress tracking and accumulates its
// duration and retryCount into the success statistics.
func (s *Statistics) FinishJob(id string, retryCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.inProgress[id]
	if !ok {
		return
	}
	delete(s.inProgress, id)

	duration := s.clk.Now().Sub(start)
	s.requestsFinished++
	s.durationsMs = append(s.durationsMs, float64(duration.Milliseconds()))
	s.recordRetryLocked(retryCount)
}

// FailJob removes id from in-progress tracking and accumulates into the
// failure counter.
func (s *Statistics) FailJob(id string, retryCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inProgress, id)
	s.requestsFailed++
	s.recordRetryLocked(retryCount)
}

func (s *Statistics) recordRetryLocked(retryCount int) {
	if retryCount < 0 {
		return
	}
	for len(s.retryHistogram) <= retryCount {
		s.retryHistogram = append(s.retryHistogram, 0)
	}
	s.retryHistogram[retryCount]++
}

// Snapshot computes a point-in-time view, including percentile duration
// statistics over every finished request observed so far.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		RequestsFinished: s.requestsFinished,
		RequestsFailed:   s.requestsFailed,
		RetryHistogram:   append([]int64(nil), s.retryHistogram...),
	}
	if len(s.durationsMs) == 0 {
		return snap
	}

	data := mstats.Float64Data(s.durationsMs)
	if v, err := data.Min(); err == nil {
		snap.MinDurationMs = v
	}
	if v, err := data.Max(); err == nil {
		snap.MaxDurationMs = v
	}
	if v, err := data.Mean(); err == nil {
		snap.MeanDurationMs = v
	}
	if v, err := mstats.Percentile(data, 50); err == nil {
		snap.P50DurationMs = v
	}
	if v, err := mstats.Percentile(data, 90); err == nil {
		snap.P90DurationMs = v
	}
	if v, err := mstats.Percentile(data, 99); err == nil {
		snap.P99DurationMs = v
	}
	return snap
}

// persistedState is the on-disk shape, distinct from Snapshot since
// percentiles are recomputed from durationsMs rather than persisted.
type persistedState struct {
	RequestsFinished int64     `json:"requests_finished"`
	RequestsFailed   int64     `json:"requests_failed"`
	RetryHistogram   []int64   `json:"retry_histogram"`
	DurationsMs      []float64 `json:"durations_ms"`
}

// Persist writes the collector's full state to store under
// kvstore.KeyStatistics.
func (s *Statistics) Persist(ctx context.Context, store kvstore.Store) error {
	s.mu.Lock()
	st := persistedState{
		RequestsFinished: s.requestsFinished,
		RequestsFailed:   s.requestsFailed,
		RetryHistogram:   append([]int64(nil), s.retryHistogram...),
		DurationsMs:      append([]float64(nil), s.durationsMs...),
	}
	s.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("stats: marshal checkpoint: %w", err)
	}
	return store.Set(ctx, kvstore.KeyStatistics, data)
}

// Restore loads previously persisted state from store, if any.
func (s *Statistics) Restore(ctx context.Context, store kvstore.Store) error {
	data, ok, err := store.Get(ctx, kvstore.KeyStatistics)
	if err != nil {
		return fmt.Errorf("stats: load checkpoint: %w", err)
	}
	if !ok {
		return nil
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("stats: unmarshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestsFinished = st.RequestsFinished
	s.requestsFailed = st.RequestsFailed
	s.retryHistogram = st.RetryHistogram
	s.durationsMs = st.DurationsMs
	return nil
}
