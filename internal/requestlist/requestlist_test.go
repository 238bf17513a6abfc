package requestlist

import (
	"context"
	"testing"

	"github.com/webstalk/corecrawl/internal/kvstore"
)

func mustSources(urls ...string) []Source {
	out := make([]Source, len(urls))
	for i, u := range urls {
		out[i] = URLSource(u)
	}
	return out
}

// S1 — RequestList-only happy path.
func TestHappyPathOrderAndCount(t *testing.T) {
	ctx := context.Background()
	rl := New()
	if err := rl.Initialize(ctx, InitOptions{Sources: mustSources(
		"http://a/1", "http://a/2", "http://a/3",
	)}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if rl.Len() != 3 {
		t.Fatalf("expected 3 requests, got %d", rl.Len())
	}

	var order []string
	for {
		r, err := rl.FetchNextRequest(ctx)
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if r == nil {
			break
		}
		order = append(order, r.URL)
		if err := rl.MarkRequestHandled(ctx, r); err != nil {
			t.Fatalf("mark handled: %v", err)
		}
	}

	want := []string{"http://a/1", "http://a/2", "http://a/3"}
	if len(order) != len(want) {
		t.Fatalf("expected %d requests delivered, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}

	if rl.HandledCount() != 3 {
		t.Errorf("expected handled count 3, got %d", rl.HandledCount())
	}
	if !rl.IsFinished() {
		t.Error("expected list to be finished")
	}
}

// S2 — Deduplication.
func TestDeduplication(t *testing.T) {
	ctx := context.Background()
	rl := New()
	if err := rl.Initialize(ctx, InitOptions{Sources: mustSources(
		"http://a/1", "http://a/1#frag", "http://a/1",
	)}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if rl.Len() != 1 {
		t.Fatalf("expected 1 distinct request, got %d", rl.Len())
	}
}

func TestKeepDuplicateURLsSuffixesKey(t *testing.T) {
	ctx := context.Background()
	rl := New(WithKeepDuplicateURLs())
	if err := rl.Initialize(ctx, InitOptions{Sources: mustSources(
		"http://a/1", "http://a/1",
	)}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if rl.Len() != 2 {
		t.Fatalf("expected 2 requests with keepDuplicateURLs, got %d", rl.Len())
	}
}

func TestReclaimRedelivery(t *testing.T) {
	ctx := context.Background()
	rl := New()
	_ = rl.Initialize(ctx, InitOptions{Sources: mustSources("http://a/1", "http://a/2")})

	r1, _ := rl.FetchNextRequest(ctx)
	if err := rl.ReclaimRequest(ctx, r1); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	// Reclaimed items take priority over fresh ones.
	got, _ := rl.FetchNextRequest(ctx)
	if got.URL != r1.URL {
		t.Errorf("expected reclaimed request redelivered first, got %s", got.URL)
	}
}

func TestMarkHandledRequiresInProgress(t *testing.T) {
	ctx := context.Background()
	rl := New()
	_ = rl.Initialize(ctx, InitOptions{Sources: mustSources("http://a/1")})

	r, _ := rl.FetchNextRequest(ctx)
	if err := rl.MarkRequestHandled(ctx, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rl.MarkRequestHandled(ctx, r); err == nil {
		t.Error("expected error marking an already-handled request handled again")
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	rl := New()
	if _, err := rl.FetchNextRequest(context.Background()); err != ErrNotInitialized {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestIsEmptyAndIsFinishedSymmetry(t *testing.T) {
	ctx := context.Background()
	rl := New()
	_ = rl.Initialize(ctx, InitOptions{Sources: mustSources("http://a/1")})

	if rl.IsEmpty() {
		t.Error("expected non-empty before draining")
	}

	r, _ := rl.FetchNextRequest(ctx)
	// Nothing left to fetch, nothing reclaimed: IsEmpty is true even
	// though the one in-flight request hasn't resolved yet.
	if !rl.IsEmpty() {
		t.Error("expected IsEmpty once nothing remains to deliver")
	}
	if rl.IsFinished() {
		t.Error("expected not finished while a request is in progress")
	}

	_ = rl.MarkRequestHandled(ctx, r)
	if !rl.IsFinished() {
		t.Error("expected finished once nothing is in progress")
	}
}

// S3/S4-adjacent: checkpoint round trip (property 7).
func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()

	rl := New(WithStore(store, "list"))
	_ = rl.Initialize(ctx, InitOptions{Sources: mustSources(
		"http://a/1", "http://a/2", "http://a/3",
	)})

	r1, _ := rl.FetchNextRequest(ctx)
	_ = rl.MarkRequestHandled(ctx, r1)
	r2, _ := rl.FetchNextRequest(ctx) // in progress, never resolved before checkpoint

	if err := rl.PersistState(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	rl2 := New(WithStore(store, "list"))
	if err := rl2.Initialize(ctx, InitOptions{Sources: mustSources(
		"http://a/1", "http://a/2", "http://a/3",
	)}); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}

	// The request that was in progress at checkpoint time must be
	// retried: it shows up via reclaimed before the remaining fresh
	// item.
	got, _ := rl2.FetchNextRequest(ctx)
	if got.URL != r2.URL {
		t.Errorf("expected in-flight request %s redelivered first, got %s", r2.URL, got.URL)
	}
	_ = rl2.MarkRequestHandled(ctx, got)

	got2, _ := rl2.FetchNextRequest(ctx)
	if got2.URL != "http://a/3" {
		t.Errorf("expected remaining fresh request http://a/3, got %s", got2.URL)
	}
}

func TestCheckpointInconsistentSources(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()

	rl := New(WithStore(store, "list"))
	_ = rl.Initialize(ctx, InitOptions{Sources: mustSources("http://a/1", "http://a/2")})
	_, _ = rl.FetchNextRequest(ctx)
	_ = rl.PersistState(ctx)

	// Restoring against a different source set must fail hard.
	rl2 := New(WithStore(store, "list"))
	err := rl2.Initialize(ctx, InitOptions{Sources: mustSources("http://b/1")})
	if err != ErrInconsistentCheckpoint {
		t.Errorf("expected ErrInconsistentCheckpoint, got %v", err)
	}
}
