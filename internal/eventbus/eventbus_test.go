package eventbus

import (
	"context"
	"testing"
)

func TestEmitRunsSubscribedHandlersInOrder(t *testing.T) {
	b := New(nil)
	var order []string

	b.Subscribe(EventMigrating, func(ctx context.Context, evt EventType) { order = append(order, "first") })
	b.Subscribe(EventMigrating, func(ctx context.Context, evt EventType) { order = append(order, "second") })
	b.Subscribe(EventAborting, func(ctx context.Context, evt EventType) { order = append(order, "unrelated") })

	b.Emit(context.Background(), EventMigrating)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("got %v, want [first second]", order)
	}
}

func TestEmitWithNoSubscribersIsNoop(t *testing.T) {
	b := New(nil)
	b.Emit(context.Background(), EventPersistState) // must not panic
}

func TestCloseStopsFurtherSubscribeAndEmit(t *testing.T) {
	b := New(nil)
	called := false
	b.Subscribe(EventAborting, func(ctx context.Context, evt EventType) { called = true })

	b.Close()
	b.Subscribe(EventAborting, func(ctx context.Context, evt EventType) { called = true })
	b.Emit(context.Background(), EventAborting)

	if called {
		t.Fatal("expected handlers to never run after Close")
	}
}
