package requestqueue

import (
	"context"
	"testing"
)

func TestMemBackingStoreAddRequestDedup(t *testing.T) {
	ctx := context.Background()
	s := NewMemBackingStore()

	res, err := s.AddRequest(ctx, newReq("https://example.com/a"), false)
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	dup, err := s.AddRequest(ctx, newReq("https://example.com/a"), false)
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if !dup.WasAlreadyPresent || dup.ID != res.ID {
		t.Fatalf("got %+v, want WasAlreadyPresent with id %q", dup, res.ID)
	}
}

func TestMemBackingStoreAddRequestRejectsPreassignedID(t *testing.T) {
	ctx := context.Background()
	s := NewMemBackingStore()

	r := newReq("https://example.com/a")
	r.SetID("already-set")
	if _, err := s.AddRequest(ctx, r, false); err != ErrRequestAlreadyHasID {
		t.Fatalf("got %v, want ErrRequestAlreadyHasID", err)
	}
}

func TestMemBackingStoreGetHeadSkipsHandled(t *testing.T) {
	ctx := context.Background()
	s := NewMemBackingStore()

	res, err := s.AddRequest(ctx, newReq("https://example.com/a"), false)
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	r, _, err := s.GetRequest(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	r.MarkHandled(r.CreatedAt)
	if err := s.UpdateRequest(ctx, r, false); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}

	head, err := s.GetHead(ctx, 10)
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if len(head.Items) != 0 {
		t.Fatalf("GetHead returned %d items, want 0 (handled requests excluded)", len(head.Items))
	}
}

func TestMemBackingStoreUpdateRequestForefrontReordersHead(t *testing.T) {
	ctx := context.Background()
	s := NewMemBackingStore()

	first, err := s.AddRequest(ctx, newReq("https://example.com/a"), false)
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if _, err := s.AddRequest(ctx, newReq("https://example.com/b"), false); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	r, _, err := s.GetRequest(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if err := s.UpdateRequest(ctx, r, true); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}

	head, err := s.GetHead(ctx, 10)
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if len(head.Items) == 0 || head.Items[0].ID != first.ID {
		t.Fatalf("expected the forefront-reclaimed request first, got %+v", head.Items)
	}
}
