package requestqueue

import "errors"

var (
	// ErrNotInProgress is returned by MarkRequestHandled/ReclaimRequest
	// when called with an id the queue does not believe is in progress.
	ErrNotInProgress = errors.New("requestqueue: request is not in progress")

	// ErrBackingStoreUnavailable wraps a transient failure talking to
	// the backing store.
	ErrBackingStoreUnavailable = errors.New("requestqueue: backing store unavailable")

	// ErrRequestAlreadyHasID is returned by AddRequest when the caller
	// passes in a Request that already carries a backing-store id.
	ErrRequestAlreadyHasID = errors.New("requestqueue: request already has an id")
)
