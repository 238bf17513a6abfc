package request

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	r, err := New("https://example.com/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Method != DefaultMethod {
		t.Errorf("expected method %q, got %q", DefaultMethod, r.Method)
	}
	if r.UniqueKey == "" {
		t.Error("expected non-empty unique key")
	}
	if r.IsHandled() {
		t.Error("fresh request should not be handled")
	}
}

func TestNewEmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestNormalizeURLFragmentStripped(t *testing.T) {
	a := NormalizeURL("http://a/1", false)
	b := NormalizeURL("http://a/1#frag", false)
	if a != b {
		t.Errorf("expected fragment to be stripped: %q vs %q", a, b)
	}
}

func TestNormalizeURLKeepsFragmentWhenAsked(t *testing.T) {
	a := NormalizeURL("http://a/1", true)
	b := NormalizeURL("http://a/1#frag", true)
	if a == b {
		t.Error("expected fragment to be preserved")
	}
}

func TestNormalizeURLCaseAndQueryOrder(t *testing.T) {
	a := NormalizeURL("https://Example.COM/Path?b=2&a=1", false)
	b := NormalizeURL("https://example.com/Path?a=1&b=2", false)
	if a != b {
		t.Errorf("expected host case and query order to be normalised: %q vs %q", a, b)
	}
}

func TestMarkHandledWriteOnce(t *testing.T) {
	r, _ := New("https://example.com/a")
	first := r.HandledAt
	if first != nil {
		t.Fatal("expected nil HandledAt initially")
	}

	now := time.Now()
	r.MarkHandled(now)
	t1 := *r.HandledAt

	r.MarkHandled(now.Add(time.Second))
	t2 := *r.HandledAt

	if t1 != t2 {
		t.Error("HandledAt must not change once set")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r, _ := New("https://example.com/a")
	r.Headers["X-Test"] = "1"
	r.UserData["k"] = "v"

	clone := r.Clone()
	clone.Headers["X-Test"] = "2"
	clone.UserData["k"] = "w"

	if r.Headers["X-Test"] != "1" {
		t.Error("mutating clone headers affected original")
	}
	if r.UserData["k"] != "v" {
		t.Error("mutating clone user data affected original")
	}
}
