package crawler

import "errors"

// Sentinel errors for BasicCrawler construction and run-time failures.
var (
	// ErrNoSource is returned by New when neither a RequestList nor a
	// RequestQueue was supplied.
	ErrNoSource = errors.New("crawler: at least one of RequestList or RequestQueue is required")

	// ErrNoHandler is returned by New when no request handler was
	// supplied.
	ErrNoHandler = errors.New("crawler: HandleRequestFunc is required")

	// ErrResolutionFailed marks a failure inside the resolution path
	// itself: markRequestHandled (after success, or after retries are
	// exhausted) or reclaimRequest failing past its retry budget. Fatal:
	// the crawler aborts.
	ErrResolutionFailed = errors.New("crawler: failure-resolution path failed")
)
