package requestqueue

import (
	"context"
	"time"

	"github.com/webstalk/corecrawl/internal/request"
)

// HeadItem is a single entry returned by BackingStore.GetHead.
type HeadItem struct {
	ID        string
	UniqueKey string
}

// HeadResult is the response to a GetHead query.
type HeadResult struct {
	Items              []HeadItem
	QueueModifiedAt    time.Time
	HadMultipleClients bool
}

// AddResult is the response to a BackingStore.AddRequest call.
type AddResult struct {
	ID               string
	WasAlreadyPresent bool
	WasAlreadyHandled bool
}

// QueueInfo is coarse metadata about the backing store's queue.
type QueueInfo struct {
	HadMultipleClients bool
	TotalRequestCount  int64
	HandledRequestCount int64
}

// BackingStore is the persistence abstraction a RequestQueue drives.
// The core never assumes the store is linearizable — callers must
// tolerate bounded replication lag, which is why RequestQueue itself
// carries in_progress/recently_handled/consistency-repeat logic rather
// than trusting GetHead results blindly.
type BackingStore interface {
	GetHead(ctx context.Context, limit int) (HeadResult, error)
	AddRequest(ctx context.Context, req *request.Request, forefront bool) (AddResult, error)
	GetRequest(ctx context.Context, id string) (*request.Request, bool, error)
	UpdateRequest(ctx context.Context, req *request.Request, forefront bool) error
	DeleteQueue(ctx context.Context) error
	GetQueueInfo(ctx context.Context) (QueueInfo, error)
}
