package requestlist

import "errors"

// Sentinel errors for RequestList operations, following the engine's
// pattern of exported sentinel vars plus wrapped context.
var (
	// ErrNotInitialized is returned by any operation attempted before
	// Initialize has completed.
	ErrNotInitialized = errors.New("requestlist: not initialized")

	// ErrInconsistentCheckpoint is returned when a restored checkpoint
	// disagrees with the loaded sources — a hard, non-recoverable
	// inconsistency per the core spec.
	ErrInconsistentCheckpoint = errors.New("requestlist: checkpoint inconsistent with sources")

	// ErrRemoteFetchFailed wraps a failure to load a remote-URL source.
	ErrRemoteFetchFailed = errors.New("requestlist: remote source fetch failed")

	// ErrInvalidUniqueKey mirrors request.ErrInvalidUniqueKey for
	// sources that produce a request with an empty/invalid key.
	ErrInvalidUniqueKey = errors.New("requestlist: invalid unique key")

	// ErrAlreadyInitialized guards against calling Initialize twice.
	ErrAlreadyInitialized = errors.New("requestlist: already initialized")
)
