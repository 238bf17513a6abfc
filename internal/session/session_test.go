package session

import "testing"

func TestGetSessionCreatesUpToPoolSize(t *testing.T) {
	p := New(Config{MaxPoolSize: 3, MaxUsageCount: 100, MaxErrorScore: 100})

	ids := make(map[string]struct{})
	for i := 0; i < 3; i++ {
		s, err := p.GetSession()
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		ids[s.ID] = struct{}{}
	}
	if len(ids) != 3 {
		t.Fatalf("got %d distinct sessions, want 3", len(ids))
	}
	if p.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", p.Size())
	}
}

func TestMarkBadRetiresAfterThreshold(t *testing.T) {
	p := New(Config{MaxPoolSize: 1, MaxErrorScore: 20})
	s, err := p.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	s.MarkBad()
	if !s.IsUsable() {
		t.Fatal("expected session to remain usable after one bad mark below threshold")
	}
	s.MarkBad()
	if s.IsUsable() {
		t.Fatal("expected session to retire once error score crosses the threshold")
	}
}

func TestMarkGoodRetiresAfterUsageCount(t *testing.T) {
	p := New(Config{MaxPoolSize: 1, MaxUsageCount: 2})
	s, err := p.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	s.MarkGood()
	if !s.IsUsable() {
		t.Fatal("expected session to remain usable after one use below its usage cap")
	}
	s.MarkGood()
	if s.IsUsable() {
		t.Fatal("expected session to retire once usage count reaches its cap")
	}
}

func TestRetiredSessionsAreNotHandedOutAgain(t *testing.T) {
	p := New(Config{MaxPoolSize: 1, MaxErrorScore: 5})
	s, err := p.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	s.Retire()

	next, err := p.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if next.ID == s.ID {
		t.Fatal("expected a retired session to never be handed out again")
	}
}
