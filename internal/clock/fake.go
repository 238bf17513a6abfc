package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests. Sleep
// returns immediately (as if time had already advanced past it) —
// tests care about *that* the delay happened, not wall-clock duration.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) {
	f.Advance(d)
}
