// Package kvstore defines the key-value persistence abstraction the
// core crawling engine checkpoints through: a single default store,
// referenced by string keys, holding JSON state blobs. No component
// writes under KeyRequestListRequests.
package kvstore

import "context"

// Well-known keys used by core components.
const (
	KeyRequestListState    = "REQUEST_LIST_STATE"
	KeyRequestListRequests = "REQUEST_LIST_REQUESTS"
	KeyStatistics          = "STATISTICS"
)

// Store is the key-value persistence contract consumed by the core.
// Implementations need not be linearizable, but Get must observe the
// most recent Set made through the same Store instance.
type Store interface {
	// Get returns the bytes stored under key, or ok=false if absent.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Set writes data under key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte) error
}
