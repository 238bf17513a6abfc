package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func countingTasks(n int64) (RunTaskFunc, *int64) {
	var done int64
	return func(ctx context.Context) error {
		atomic.AddInt64(&done, 1)
		return nil
	}, &done
}

func TestPoolRunsUntilFinished(t *testing.T) {
	const total = int64(20)
	run, done := countingTasks(total)
	var started int64

	isReady := func(ctx context.Context) (bool, error) {
		if atomic.LoadInt64(&started) >= total {
			return false, nil
		}
		atomic.AddInt64(&started, 1)
		return true, nil
	}
	isFinished := func(ctx context.Context) (bool, error) {
		return atomic.LoadInt64(done) >= total, nil
	}

	p := New(Config{MinConcurrency: 2, MaxConcurrency: 5, MaybeRunInterval: 5 * time.Millisecond}, run, isReady, isFinished, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := atomic.LoadInt64(done); got != total {
		t.Fatalf("ran %d tasks, want %d", got, total)
	}
}

func TestPoolPropagatesTaskFailure(t *testing.T) {
	wantErr := errors.New("boom")
	run := func(ctx context.Context) error { return wantErr }
	isReady := func(ctx context.Context) (bool, error) { return true, nil }
	isFinished := func(ctx context.Context) (bool, error) { return true, nil }

	p := New(Config{MinConcurrency: 1, MaxConcurrency: 1, MaybeRunInterval: 5 * time.Millisecond}, run, isReady, isFinished, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Run(ctx)
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("Run() = %v, want wrapped %v", err, wantErr)
	}
}

func TestPoolAbortResolvesImmediately(t *testing.T) {
	block := make(chan struct{})
	run := func(ctx context.Context) error {
		<-block
		return nil
	}
	isReady := func(ctx context.Context) (bool, error) { return true, nil }
	isFinished := func(ctx context.Context) (bool, error) { return false, nil }

	p := New(Config{MinConcurrency: 1, MaxConcurrency: 1, MaybeRunInterval: 5 * time.Millisecond}, run, isReady, isFinished, nil, nil)

	ctx := context.Background()
	resultCh := make(chan error, 1)
	go func() { resultCh <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	p.Abort(ctx)

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after abort", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after Abort")
	}
	close(block)
}

func TestPoolPauseDrainsThenResolves(t *testing.T) {
	var running int64
	release := make(chan struct{})
	run := func(ctx context.Context) error {
		atomic.AddInt64(&running, 1)
		<-release
		atomic.AddInt64(&running, -1)
		return nil
	}

	var spawned int64
	isReady := func(ctx context.Context) (bool, error) {
		if atomic.LoadInt64(&spawned) >= 1 {
			return false, nil
		}
		atomic.AddInt64(&spawned, 1)
		return true, nil
	}
	isFinished := func(ctx context.Context) (bool, error) { return false, nil }

	p := New(Config{MinConcurrency: 1, MaxConcurrency: 1, MaybeRunInterval: 5 * time.Millisecond}, run, isReady, isFinished, nil, nil)

	ctx := context.Background()
	go p.Run(ctx)

	for atomic.LoadInt64(&running) == 0 {
		time.Sleep(time.Millisecond)
	}

	pauseDone := make(chan error, 1)
	go func() { pauseDone <- p.Pause(ctx, 2*time.Second) }()

	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case err := <-pauseDone:
		if err != nil {
			t.Fatalf("Pause() = %v, want nil once running task drains", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Pause did not resolve after the running task drained")
	}
}
