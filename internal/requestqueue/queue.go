// Package requestqueue implements a dynamic, persistent, multi-consumer
// FIFO with forefront insertion, deduplication by unique key, and
// at-most-once successful delivery per unique key (the core crawling
// engine's C3 component). Grounded on the teacher's
// internal/engine/frontier.go (ordered-structure-plus-mutex shape) and
// internal/engine/dedup.go (hash-keyed dedup), generalised to a
// persistent multi-client queue per the core spec's §4.2.
package requestqueue

import (
	"context"
	"sync"
	"time"

	"github.com/webstalk/corecrawl/internal/clock"
	"github.com/webstalk/corecrawl/internal/request"
)

// Tuning constants from the core spec §4.2/§9. Empirically tuned
// upstream; the core spec flags these values as an open question for
// multi-process deployments, which this repo does not target (no
// distributed coordination per §1 Non-goals).
const (
	apiProcessedRequestsDelay = 10 * time.Second
	storageConsistencyDelay   = 3 * time.Second
	maxQueriesForConsistency  = 6

	queryHeadMinLength       = 100
	requestQueueHeadMaxLimit = 1000
	headLimitGrowthFactor    = 1.5

	defaultInitialHeadLimit = 25
	recentlyHandledCapacity = 1000
	requestCacheCapacity    = 10000
)

type cachedRequest struct {
	id        string
	isHandled bool
}

// MetricsSink receives the queue's in-memory head length on every
// change. Optional; a nil sink is never consulted.
type MetricsSink interface {
	SetQueueHeadLength(n int)
}

// RequestQueue is a dynamic, persistent, deduplicated queue supporting
// add/forefront/fetch/reclaim/mark-handled with at-most-once delivery
// across concurrent consumers.
type RequestQueue struct {
	store BackingStore
	clk   clock.Clock

	mu sync.Mutex

	queueHead       *orderedIDSet
	inProgress      map[string]struct{}
	recentlyHandled *lruCache // set-like: value ignored
	requestCache    *lruCache // unique-key hash -> *cachedRequest

	assumedTotal   int64
	assumedHandled int64

	metrics MetricsSink
}

// Option configures a RequestQueue at construction.
type Option func(*RequestQueue)

// WithClock overrides the clock source (for deterministic tests).
func WithClock(c clock.Clock) Option {
	return func(q *RequestQueue) { q.clk = c }
}

// WithMetrics attaches a sink that is fed the queue head length on
// every change.
func WithMetrics(m MetricsSink) Option {
	return func(q *RequestQueue) { q.metrics = m }
}

// New constructs a RequestQueue backed by store.
func New(store BackingStore, opts ...Option) *RequestQueue {
	q := &RequestQueue{
		store:           store,
		clk:             clock.Real{},
		queueHead:       newOrderedIDSet(),
		inProgress:      make(map[string]struct{}),
		recentlyHandled: newLRUCache(recentlyHandledCapacity),
		requestCache:    newLRUCache(requestCacheCapacity),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddRequestResult reports what happened to an AddRequest call.
type AddRequestResult struct {
	RequestID         string
	WasAlreadyPresent bool
	WasAlreadyHandled bool
}

// AddRequest adds req to the queue (optionally at the forefront). A
// second add with an existing unique key never mutates the stored
// request — it returns the original's id untouched.
func (q *RequestQueue) AddRequest(ctx context.Context, req *request.Request, forefront bool) (AddRequestResult, error) {
	cacheKey := hashUniqueKey(req.UniqueKey)

	q.mu.Lock()
	if cached, ok := q.requestCache.Get(cacheKey); ok {
		c := cached.(*cachedRequest)
		q.mu.Unlock()
		req.SetID(c.id)
		return AddRequestResult{RequestID: c.id, WasAlreadyPresent: true, WasAlreadyHandled: c.isHandled}, nil
	}
	q.mu.Unlock()

	res, err := q.store.AddRequest(ctx, req, forefront)
	if err != nil {
		return AddRequestResult{}, err
	}
	req.SetID(res.ID)

	q.mu.Lock()
	q.requestCache.Set(cacheKey, &cachedRequest{id: res.ID, isHandled: res.WasAlreadyHandled})

	if !res.WasAlreadyPresent {
		_, inProgress := q.inProgress[res.ID]
		_, recentlyHandled := q.recentlyHandled.Get(res.ID)
		if !inProgress && !recentlyHandled {
			q.assumedTotal++
		}

		if forefront {
			q.queueHead.PushFront(res.ID)
		} else if q.assumedTotal < queryHeadMinLength {
			q.queueHead.PushBack(res.ID)
		}
	}
	q.reportHeadLenLocked()
	q.mu.Unlock()

	return AddRequestResult{RequestID: res.ID, WasAlreadyPresent: res.WasAlreadyPresent, WasAlreadyHandled: res.WasAlreadyHandled}, nil
}

// FetchNextRequest pops the next request id believed to be at the
// front, fetches its full Request from the backing store, and marks it
// in progress. Returns (nil, nil) when nothing is currently available
// — callers should treat that the same as an empty queue, since a
// retry may surface the item a moment later (stale head index) or it
// may genuinely be drained.
func (q *RequestQueue) FetchNextRequest(ctx context.Context) (*request.Request, error) {
	if ok, err := q.ensureHeadNonEmpty(ctx, false, defaultInitialHeadLimit, 0); err != nil {
		return nil, err
	} else if !ok {
		return nil, nil
	}

	q.mu.Lock()
	id, ok := q.queueHead.PopFront()
	if !ok {
		q.mu.Unlock()
		return nil, nil
	}
	q.inProgress[id] = struct{}{}
	q.reportHeadLenLocked()
	q.mu.Unlock()

	r, found, err := q.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		// Stale head index: the id no longer resolves. Let the write
		// settle, then drop it from in_progress so it can re-surface
		// on the next head query if it ever does.
		q.clk.Sleep(ctx, storageConsistencyDelay)
		q.mu.Lock()
		delete(q.inProgress, id)
		q.mu.Unlock()
		return nil, nil
	}

	if r.IsHandled() {
		q.mu.Lock()
		q.recentlyHandled.Set(id, struct{}{})
		delete(q.inProgress, id)
		q.mu.Unlock()
		return nil, nil
	}

	return r, nil
}

// MarkRequestHandled marks r as handled and writes it through to the
// backing store.
func (q *RequestQueue) MarkRequestHandled(ctx context.Context, r *request.Request) error {
	id := r.ID()

	q.mu.Lock()
	if _, ok := q.inProgress[id]; !ok {
		q.mu.Unlock()
		return ErrNotInProgress
	}
	q.mu.Unlock()

	wasHandled := r.IsHandled()
	r.MarkHandled(q.clk.Now())

	if err := q.store.UpdateRequest(ctx, r, false); err != nil {
		return err
	}

	q.mu.Lock()
	delete(q.inProgress, id)
	q.recentlyHandled.Set(id, struct{}{})

	if !wasHandled {
		q.assumedHandled++
	}
	q.requestCache.Set(hashUniqueKey(r.UniqueKey), &cachedRequest{id: id, isHandled: true})
	q.mu.Unlock()

	return nil
}

// ReclaimRequest returns r to the pending set for redelivery.
func (q *RequestQueue) ReclaimRequest(ctx context.Context, r *request.Request, forefront bool) error {
	id := r.ID()

	q.mu.Lock()
	if _, ok := q.inProgress[id]; !ok {
		q.mu.Unlock()
		return ErrNotInProgress
	}
	q.mu.Unlock()

	if err := q.store.UpdateRequest(ctx, r, forefront); err != nil {
		return err
	}

	// Let the write settle before the id is eligible for redelivery,
	// so a concurrent GetHead elsewhere doesn't race a stale read.
	q.clk.Sleep(ctx, storageConsistencyDelay)

	q.mu.Lock()
	delete(q.inProgress, id)
	if forefront {
		q.queueHead.PushFront(id)
	} else {
		q.queueHead.PushBack(id)
	}
	q.reportHeadLenLocked()
	q.mu.Unlock()

	return nil
}

// IsEmpty reports whether the queue head is currently empty, after
// giving the backing store a chance to refill it.
func (q *RequestQueue) IsEmpty(ctx context.Context) (bool, error) {
	if _, err := q.ensureHeadNonEmpty(ctx, false, defaultInitialHeadLimit, 0); err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queueHead.Len() == 0, nil
}

// IsFinished reports whether there is no more work: nothing queued,
// nothing in progress, and the backing store's view is consistent
// enough to trust that. False-negatives are allowed (report not
// finished when actually finished); false-positives are not.
func (q *RequestQueue) IsFinished(ctx context.Context) (bool, error) {
	q.mu.Lock()
	headOrInProgress := q.queueHead.Len() > 0 || len(q.inProgress) > 0
	q.mu.Unlock()
	if headOrInProgress {
		return false, nil
	}
	return q.ensureHeadNonEmptyConsistent(ctx, defaultInitialHeadLimit, 0)
}

// HandledCount returns the assumed number of handled requests. Only
// authoritative when the queue has a single concurrent client.
func (q *RequestQueue) HandledCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.assumedHandled
}

// ensureHeadNonEmpty implements the core spec's ensureHeadNonEmpty
// algorithm: grow the query limit until the head is non-empty or the
// max limit is reached, and, when consistency is true, also repeat
// until the backing store's answer can be trusted.
func (q *RequestQueue) ensureHeadNonEmpty(ctx context.Context, consistency bool, limit int, iter int) (bool, error) {
	q.mu.Lock()
	if q.queueHead.Len() > 0 {
		q.mu.Unlock()
		return true, nil
	}
	q.mu.Unlock()

	head, err := q.store.GetHead(ctx, limit)
	if err != nil {
		return false, err
	}

	q.mu.Lock()
	for _, item := range head.Items {
		if _, inProgress := q.inProgress[item.ID]; inProgress {
			continue
		}
		if _, handled := q.recentlyHandled.Get(item.ID); handled {
			continue
		}
		q.queueHead.PushBack(item.ID)
	}
	headLen := q.queueHead.Len()
	assumedTotal, assumedHandled := q.assumedTotal, q.assumedHandled
	q.reportHeadLenLocked()
	q.mu.Unlock()

	limitReached := len(head.Items) >= limit
	shouldRepeatHigherLimit := headLen == 0 && limitReached && limit < requestQueueHeadMaxLimit

	if consistency {
		consistent := q.clk.Now().Sub(head.QueueModifiedAt) > apiProcessedRequestsDelay ||
			(!head.HadMultipleClients && assumedTotal <= assumedHandled)
		shouldRepeatForConsistency := !consistent

		if !shouldRepeatHigherLimit && !shouldRepeatForConsistency {
			return true, nil
		}
		if iter >= maxQueriesForConsistency {
			return false, nil
		}
		q.clk.Sleep(ctx, storageConsistencyDelay)
		nextLimit := limit
		if shouldRepeatHigherLimit {
			nextLimit = growHeadLimit(limit)
		}
		return q.ensureHeadNonEmpty(ctx, consistency, nextLimit, iter+1)
	}

	if !shouldRepeatHigherLimit {
		return true, nil
	}
	return q.ensureHeadNonEmpty(ctx, consistency, growHeadLimit(limit), iter+1)
}

// ensureHeadNonEmptyConsistent is ensureHeadNonEmpty run in consistency
// mode, used by IsFinished.
func (q *RequestQueue) ensureHeadNonEmptyConsistent(ctx context.Context, limit int, iter int) (bool, error) {
	ok, err := q.ensureHeadNonEmpty(ctx, true, limit, iter)
	if err != nil {
		return false, err
	}
	if !ok {
		// Consistency could not be confirmed within the query budget:
		// a false-negative is acceptable, a false-positive is not.
		return false, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queueHead.Len() == 0, nil
}

// reportHeadLenLocked pushes the current queue head length to the
// configured metrics sink, if any. Caller must hold q.mu.
func (q *RequestQueue) reportHeadLenLocked() {
	if q.metrics != nil {
		q.metrics.SetQueueHeadLength(q.queueHead.Len())
	}
}

func growHeadLimit(limit int) int {
	next := int(float64(limit) * headLimitGrowthFactor)
	if next <= limit {
		next = limit + 1
	}
	if next > requestQueueHeadMaxLimit {
		next = requestQueueHeadMaxLimit
	}
	return next
}
