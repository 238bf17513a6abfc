package kvstore

import (
	"context"
	"testing"
)

func TestMemStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected present key, got ok=%v err=%v", ok, err)
	}
	if string(data) != "v1" {
		t.Errorf("expected %q, got %q", "v1", data)
	}
}

func TestMemStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_ = s.Set(ctx, "k", []byte("v1"))
	_ = s.Set(ctx, "k", []byte("v2"))

	data, _, _ := s.Get(ctx, "k")
	if string(data) != "v2" {
		t.Errorf("expected v2, got %q", data)
	}
}

func TestMemStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_ = s.Set(ctx, "k", []byte("v1"))

	data, _, _ := s.Get(ctx, "k")
	data[0] = 'X'

	data2, _, _ := s.Get(ctx, "k")
	if string(data2) != "v1" {
		t.Error("mutating returned slice leaked into store")
	}
}
