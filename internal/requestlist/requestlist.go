// Package requestlist implements a static, ordered, in-memory,
// deduplicated sequence of Requests (the core crawling engine's C2
// component): fetch / reclaim / mark-handled semantics with a
// checkpointable cursor, grounded on the teacher's
// internal/engine/frontier.go + checkpoint.go pair.
package requestlist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/webstalk/corecrawl/internal/kvstore"
	"github.com/webstalk/corecrawl/internal/request"
)

// MetricsSink receives the list's in-progress count on every change.
// Optional; a nil sink is never consulted.
type MetricsSink interface {
	SetInProgress(n int)
}

// RequestList is a static, deterministic, ordered, deduplicated
// iterator over Requests, resumable across process restarts via a
// kvstore.Store checkpoint.
type RequestList struct {
	mu sync.Mutex

	requests         []*request.Request
	uniqueKeyToIndex map[string]int
	nextIndex        int
	inProgress       map[string]struct{}
	reclaimed        map[string]struct{}

	keepDuplicateURLs bool
	initialized       bool

	store     kvstore.Store
	statePfx  string // allows multiple RequestLists to share one Store
	handledCt int

	metrics MetricsSink
}

// Option configures a RequestList at construction.
type Option func(*RequestList)

// WithKeepDuplicateURLs disables silent dedup of inline/source-provided
// URLs; a duplicate's unique key is instead suffixed "-{index}".
func WithKeepDuplicateURLs() Option {
	return func(rl *RequestList) { rl.keepDuplicateURLs = true }
}

// WithStore attaches a kvstore.Store for checkpoint persistence. prefix
// namespaces the keys so multiple lists can share one store.
func WithStore(store kvstore.Store, prefix string) Option {
	return func(rl *RequestList) {
		rl.store = store
		rl.statePfx = prefix
	}
}

// WithMetrics attaches a sink that is fed the in-progress count on
// every change.
func WithMetrics(m MetricsSink) Option {
	return func(rl *RequestList) { rl.metrics = m }
}

// New constructs an uninitialised RequestList.
func New(opts ...Option) *RequestList {
	rl := &RequestList{
		uniqueKeyToIndex: make(map[string]int),
		inProgress:       make(map[string]struct{}),
		reclaimed:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// InitOptions controls Initialize's source-loading and restore
// behaviour.
type InitOptions struct {
	Sources     []Source
	SourcesFunc SourcesFunc
	Fetch       Fetch
}

// Initialize loads all sources in declaration order, then (if a Store
// was configured and holds a prior checkpoint) restores next_index,
// in_progress and reclaimed, per the core spec: reclaimed is set equal
// to in_progress on restore, since every request mid-flight at
// checkpoint time must be retried.
func (rl *RequestList) Initialize(ctx context.Context, opts InitOptions) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.initialized {
		return ErrAlreadyInitialized
	}

	for _, src := range opts.Sources {
		reqs, err := src.resolve(ctx, opts.Fetch)
		if err != nil {
			return err
		}
		rl.appendLocked(reqs)
	}

	if opts.SourcesFunc != nil {
		extra, err := opts.SourcesFunc(ctx)
		if err != nil {
			return fmt.Errorf("requestlist: sources function: %w", err)
		}
		for _, src := range extra {
			reqs, err := src.resolve(ctx, opts.Fetch)
			if err != nil {
				return err
			}
			rl.appendLocked(reqs)
		}
	}

	rl.initialized = true

	if rl.store != nil {
		restored, err := rl.restoreLocked(ctx)
		if err != nil {
			return err
		}
		if !restored {
			// No checkpoint: nothing further to do.
		}
	}

	rl.reportInProgressLocked()
	return nil
}

// appendLocked inserts reqs into requests/uniqueKeyToIndex, honouring
// keepDuplicateURLs. Caller must hold rl.mu.
func (rl *RequestList) appendLocked(reqs []*request.Request) {
	for _, r := range reqs {
		key := r.UniqueKey
		if _, dup := rl.uniqueKeyToIndex[key]; dup {
			if !rl.keepDuplicateURLs {
				continue
			}
			key = fmt.Sprintf("%s-%d", key, len(rl.requests))
			r.UniqueKey = key
		}
		rl.uniqueKeyToIndex[key] = len(rl.requests)
		rl.requests = append(rl.requests, r)
	}
}

// FetchNextRequest returns the next Request to process: a reclaimed
// item takes priority over a fresh one, per the core spec's ordering
// guarantee ("list first" tie-break is for the crawler; within the
// list itself, reclaimed-before-fresh is this method's own contract).
func (rl *RequestList) FetchNextRequest(context.Context) (*request.Request, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.initialized {
		return nil, ErrNotInitialized
	}

	for key := range rl.reclaimed {
		delete(rl.reclaimed, key)
		idx, ok := rl.uniqueKeyToIndex[key]
		if !ok {
			continue
		}
		return rl.requests[idx], nil
	}

	if rl.nextIndex < len(rl.requests) {
		r := rl.requests[rl.nextIndex]
		rl.inProgress[r.UniqueKey] = struct{}{}
		rl.nextIndex++
		rl.reportInProgressLocked()
		return r, nil
	}

	return nil, nil
}

// MarkRequestHandled removes r from the in-progress set. Requires that
// r is in progress and not currently reclaimed.
func (rl *RequestList) MarkRequestHandled(_ context.Context, r *request.Request) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.initialized {
		return ErrNotInitialized
	}
	if err := rl.checkInProgressLocked(r); err != nil {
		return err
	}
	delete(rl.inProgress, r.UniqueKey)
	rl.handledCt++
	rl.reportInProgressLocked()
	return nil
}

// ReclaimRequest returns r to the pending set for redelivery.
func (rl *RequestList) ReclaimRequest(_ context.Context, r *request.Request) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.initialized {
		return ErrNotInitialized
	}
	if err := rl.checkInProgressLocked(r); err != nil {
		return err
	}
	rl.reclaimed[r.UniqueKey] = struct{}{}
	return nil
}

// reportInProgressLocked pushes the current in-progress count to the
// configured metrics sink, if any. Caller must hold rl.mu.
func (rl *RequestList) reportInProgressLocked() {
	if rl.metrics != nil {
		rl.metrics.SetInProgress(len(rl.inProgress))
	}
}

func (rl *RequestList) checkInProgressLocked(r *request.Request) error {
	if _, ok := rl.inProgress[r.UniqueKey]; !ok {
		return fmt.Errorf("requestlist: %q is not in progress", r.UniqueKey)
	}
	if _, ok := rl.reclaimed[r.UniqueKey]; ok {
		return fmt.Errorf("requestlist: %q is reclaimed and awaiting redelivery", r.UniqueKey)
	}
	return nil
}

// IsEmpty reports whether there is nothing left to *deliver*: no
// reclaimed items and no fresh items remaining. This adopts the
// symmetric reading of isEmpty flagged in the core spec's Open
// Questions (reclaimed empty, not reclaimed non-empty), which is the
// reading consistent with IsFinished.
func (rl *RequestList) IsEmpty() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.reclaimed) == 0 && rl.nextIndex >= len(rl.requests)
}

// IsFinished reports whether every request has been delivered and
// resolved: no fresh items left and nothing in progress.
func (rl *RequestList) IsFinished() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.inProgress) == 0 && rl.nextIndex >= len(rl.requests)
}

// HandledCount returns the number of requests successfully marked
// handled so far.
func (rl *RequestList) HandledCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.handledCt
}

// Len returns the total number of (deduplicated) requests loaded.
func (rl *RequestList) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requests)
}

// --- Checkpointing ---

// persistedState is the JSON-serialisable snapshot written to the
// configured kvstore.Store.
type persistedState struct {
	NextIndex     int      `json:"next_index"`
	NextUniqueKey *string  `json:"next_unique_key"`
	InProgress    []string `json:"in_progress"`
}

// GetState returns a snapshot of the restorable cursor state.
func (rl *RequestList) GetState() ([]byte, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.stateLocked()
}

func (rl *RequestList) stateLocked() ([]byte, error) {
	st := persistedState{
		NextIndex:  rl.nextIndex,
		InProgress: make([]string, 0, len(rl.inProgress)),
	}
	if rl.nextIndex < len(rl.requests) {
		key := rl.requests[rl.nextIndex].UniqueKey
		st.NextUniqueKey = &key
	}
	for k := range rl.inProgress {
		st.InProgress = append(st.InProgress, k)
	}
	return json.Marshal(st)
}

// PersistState writes the current cursor state to the configured
// kvstore.Store under statePfx+KeyRequestListState. A no-op if no
// Store was configured.
func (rl *RequestList) PersistState(ctx context.Context) error {
	if rl.store == nil {
		return nil
	}
	rl.mu.Lock()
	data, err := rl.stateLocked()
	rl.mu.Unlock()
	if err != nil {
		return fmt.Errorf("requestlist: marshal state: %w", err)
	}
	if err := rl.store.Set(ctx, rl.key(kvstore.KeyRequestListState), data); err != nil {
		return fmt.Errorf("requestlist: persist state: %w", err)
	}
	return nil
}

func (rl *RequestList) key(suffix string) string {
	if rl.statePfx == "" {
		return suffix
	}
	return rl.statePfx + ":" + suffix
}

// restoreLocked loads a prior checkpoint (if any) from rl.store.
// Caller must hold rl.mu and must have already finished loading
// sources. Returns restored=false when no checkpoint exists.
func (rl *RequestList) restoreLocked(ctx context.Context) (bool, error) {
	data, ok, err := rl.store.Get(ctx, rl.key(kvstore.KeyRequestListState))
	if err != nil {
		return false, fmt.Errorf("requestlist: load checkpoint: %w", err)
	}
	if !ok {
		return false, nil
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("requestlist: decode checkpoint: %w", err)
	}

	if st.NextIndex > len(rl.requests) {
		return false, ErrInconsistentCheckpoint
	}
	if st.NextIndex < len(rl.requests) {
		gotKey := rl.requests[st.NextIndex].UniqueKey
		if st.NextUniqueKey == nil || *st.NextUniqueKey != gotKey {
			return false, ErrInconsistentCheckpoint
		}
	} else if st.NextUniqueKey != nil {
		return false, ErrInconsistentCheckpoint
	}

	rl.nextIndex = st.NextIndex
	rl.inProgress = make(map[string]struct{}, len(st.InProgress))
	rl.reclaimed = make(map[string]struct{}, len(st.InProgress))
	for _, k := range st.InProgress {
		rl.inProgress[k] = struct{}{}
		rl.reclaimed[k] = struct{}{}
	}

	return true, nil
}
