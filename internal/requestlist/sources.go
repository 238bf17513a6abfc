package requestlist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/webstalk/corecrawl/internal/request"
)

// Fetch retrieves the body of a remote-URL source. Injected by the
// caller so this package never depends on a concrete HTTP client —
// fetching pages is the fetcher's job, out of scope for the core.
type Fetch func(ctx context.Context, url string) (io.Reader, error)

// Source is a declared origin of Requests, resolved in declaration
// order during Initialize.
type Source interface {
	resolve(ctx context.Context, fetch Fetch) ([]*request.Request, error)
}

// URLSource is an inline URL, turned into a Request with default
// options.
type URLSource string

func (s URLSource) resolve(context.Context, Fetch) ([]*request.Request, error) {
	r, err := request.New(string(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUniqueKey, err)
	}
	return []*request.Request{r}, nil
}

// RequestSource wraps an already-constructed Request (e.g. one built
// with custom request.Options).
type RequestSource struct {
	Request *request.Request
}

func (s RequestSource) resolve(context.Context, Fetch) ([]*request.Request, error) {
	if s.Request == nil || s.Request.UniqueKey == "" {
		return nil, ErrInvalidUniqueKey
	}
	return []*request.Request{s.Request}, nil
}

// RemoteURLSource describes a remote document to fetch and split into
// URLs: one per line, or one per regexp match when Regexp is set.
type RemoteURLSource struct {
	URL    string
	Regexp *regexp.Regexp
}

func (s RemoteURLSource) resolve(ctx context.Context, fetch Fetch) ([]*request.Request, error) {
	if fetch == nil {
		return nil, fmt.Errorf("%w: no fetch function configured for remote source %q", ErrRemoteFetchFailed, s.URL)
	}

	body, err := fetch(ctx, s.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteFetchFailed, err)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrRemoteFetchFailed, err)
	}

	var urls []string
	if s.Regexp != nil {
		urls = s.Regexp.FindAllString(string(raw), -1)
	} else {
		scanner := bufio.NewScanner(strings.NewReader(string(raw)))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				urls = append(urls, line)
			}
		}
	}

	reqs := make([]*request.Request, 0, len(urls))
	for _, u := range urls {
		r, err := request.New(u)
		if err != nil {
			continue
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// SourcesFunc is a user-supplied function yielding additional sources
// after the inline ones have been resolved, matching the core spec's
// "sources_function" hook.
type SourcesFunc func(ctx context.Context) ([]Source, error)
