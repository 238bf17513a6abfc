// Package request defines the core crawling engine's unit of work: a
// single URL to process plus the mutable bookkeeping needed to drive it
// through fetch, handle, and retry.
package request

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultMethod is used when a Request is constructed without an
// explicit HTTP method.
const DefaultMethod = "GET"

// Request is a single URL to process plus metadata and mutable retry
// bookkeeping. Once constructed, URL and UniqueKey are immutable —
// callers (including user handlers) must not mutate them; every other
// field may be freely read or written by the owning source or by the
// user handler.
type Request struct {
	// URL is the absolute URL to fetch.
	URL string

	// UniqueKey is the deduplication identity for this Request.
	// Defaults to the normalised URL (see NormalizeURL), optionally
	// preserving the fragment.
	UniqueKey string

	// Method is the HTTP method. Defaults to GET.
	Method string

	// Headers are string-to-string request headers.
	Headers map[string]string

	// Payload is an optional request body.
	Payload []byte

	// UserData is arbitrary, user-supplied structured data. Opaque to
	// the core — never read or written by the engine itself.
	UserData map[string]any

	// RetryCount is the number of times this request has been retried.
	// Monotonically non-decreasing.
	RetryCount int

	// NoRetry suppresses retries when set by a user handler.
	NoRetry bool

	// ErrorMessages is an ordered log of failures seen by this request.
	ErrorMessages []string

	// LoadedURL is the final URL after redirects, set by the fetcher.
	// Cleared at the start of every attempt.
	LoadedURL string

	// HandledAt is set exactly once, when the request is marked
	// handled. Never cleared afterward.
	HandledAt *time.Time

	// CreatedAt records when the Request was constructed.
	CreatedAt time.Time

	// id is assigned by a RequestQueue backing store; empty for
	// requests living only in a RequestList.
	id string
}

// New constructs a Request from a raw URL with the default unique key
// (normalised URL, fragment stripped).
func New(rawURL string) (*Request, error) {
	return NewWithOptions(rawURL, Options{})
}

// Options customises Request construction.
type Options struct {
	Method          string
	Headers         map[string]string
	Payload         []byte
	UserData        map[string]any
	KeepURLFragment bool
	UniqueKey       string // overrides the derived unique key entirely
}

// NewWithOptions constructs a Request applying the given Options.
func NewWithOptions(rawURL string, opts Options) (*Request, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("request: %w: empty url", ErrInvalidUniqueKey)
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("request: invalid url %q: %w", rawURL, err)
	}

	method := opts.Method
	if method == "" {
		method = DefaultMethod
	}

	headers := opts.Headers
	if headers == nil {
		headers = make(map[string]string)
	}
	userData := opts.UserData
	if userData == nil {
		userData = make(map[string]any)
	}

	uniqueKey := opts.UniqueKey
	if uniqueKey == "" {
		uniqueKey = NormalizeURL(rawURL, opts.KeepURLFragment)
	}
	if uniqueKey == "" {
		return nil, fmt.Errorf("request: %w", ErrInvalidUniqueKey)
	}

	return &Request{
		URL:       rawURL,
		UniqueKey: uniqueKey,
		Method:    method,
		Headers:   headers,
		Payload:   opts.Payload,
		UserData:  userData,
		CreatedAt: time.Now(),
	}, nil
}

// ID returns the backing-store identifier assigned to this Request by a
// RequestQueue, or "" if it has none (e.g. it lives only in a
// RequestList).
func (r *Request) ID() string { return r.id }

// SetID assigns the backing-store identifier. Called only by
// RequestQueue/BackingStore implementations.
func (r *Request) SetID(id string) { r.id = id }

// MarkHandled sets HandledAt if it is not already set. A no-op if
// already handled, preserving the write-once invariant.
func (r *Request) MarkHandled(at time.Time) {
	if r.HandledAt != nil {
		return
	}
	r.HandledAt = &at
}

// IsHandled reports whether MarkHandled has ever been called.
func (r *Request) IsHandled() bool { return r.HandledAt != nil }

// AddError appends a failure message to ErrorMessages.
func (r *Request) AddError(msg string) {
	r.ErrorMessages = append(r.ErrorMessages, msg)
}

// Clone returns a deep copy of the Request, safe for independent
// mutation (e.g. by a user handler inspecting retries).
func (r *Request) Clone() *Request {
	clone := *r
	clone.Headers = make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		clone.Headers[k] = v
	}
	clone.UserData = make(map[string]any, len(r.UserData))
	for k, v := range r.UserData {
		clone.UserData[k] = v
	}
	clone.Payload = append([]byte(nil), r.Payload...)
	clone.ErrorMessages = append([]string(nil), r.ErrorMessages...)
	if r.HandledAt != nil {
		t := *r.HandledAt
		clone.HandledAt = &t
	}
	return &clone
}

// NormalizeURL canonicalises a URL for use as a default unique key:
// lowercases scheme and host, strips the fragment (unless
// keepFragment), sorts query parameters, and strips a trailing slash
// (except for the root path).
func NormalizeURL(rawURL string, keepFragment bool) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if !keepFragment {
		u.Fragment = ""
	}

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			vals := append([]string(nil), params[k]...)
			sort.Strings(vals)
			for _, v := range vals {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}
