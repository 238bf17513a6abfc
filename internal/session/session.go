// Package session implements a retirable per-domain-agnostic session
// pool: opaque handles carrying cookie state and an error score, so a
// crawler can rotate away from sessions a target site has started
// blocking. Grounded on the teacher's internal/fetcher/session.go
// SessionManager (a map of *cookiejar.Jar keyed by domain), generalised
// from a fixed per-domain jar into a pool of retirable, reusable
// sessions the way the core spec's BasicCrawler expects to consume one.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http/cookiejar"
	"sync"
)

// Session is an opaque handle a crawler attaches to one request
// attempt. Cookies accumulate in CookieJar across reuses until the
// session is retired.
type Session struct {
	ID        string
	CookieJar *cookiejar.Jar

	mu            sync.Mutex
	usageCount    int
	errorScore    int
	maxUsageCount int
	maxErrorScore int
	retired       bool
}

// MarkGood records a successful use and relaxes the error score.
func (s *Session) MarkGood() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageCount++
	if s.errorScore > 0 {
		s.errorScore--
	}
	if s.usageCount >= s.maxUsageCount {
		s.retired = true
	}
}

// MarkBad records a failed use, retiring the session once its error
// score crosses the configured threshold.
func (s *Session) MarkBad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorScore += 10
	if s.errorScore >= s.maxErrorScore {
		s.retired = true
	}
}

// Retire forces the session out of rotation immediately.
func (s *Session) Retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
}

// IsUsable reports whether the session can still be handed out.
func (s *Session) IsUsable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.retired
}

// Config tunes pool sizing and per-session thresholds.
type Config struct {
	MaxPoolSize   int
	MaxUsageCount int
	MaxErrorScore int
}

func (c Config) withDefaults() Config {
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 1000
	}
	if c.MaxUsageCount <= 0 {
		c.MaxUsageCount = 50
	}
	if c.MaxErrorScore <= 0 {
		c.MaxErrorScore = 30
	}
	return c
}

// Pool hands out reusable sessions, creating new ones up to a cap and
// evicting retired ones opportunistically.
type Pool struct {
	cfg Config

	mu       sync.Mutex
	sessions []*Session
	next     int
}

// New constructs a Pool.
func New(cfg Config) *Pool {
	return &Pool{cfg: cfg.withDefaults()}
}

// GetSession returns a new session while the pool holds fewer than
// MaxPoolSize usable sessions; once it is full, it hands out the
// existing usable sessions round-robin.
func (p *Pool) GetSession() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.evictRetiredLocked()

	if len(p.sessions) >= p.cfg.MaxPoolSize {
		for i := 0; i < len(p.sessions); i++ {
			idx := (p.next + i) % len(p.sessions)
			if p.sessions[idx].IsUsable() {
				p.next = (idx + 1) % len(p.sessions)
				return p.sessions[idx], nil
			}
		}
	}

	// The pool has room, or every existing session went unusable since
	// eviction; hand back a fresh one.
	s, err := p.newSessionLocked()
	if err != nil {
		return nil, err
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

func (p *Pool) evictRetiredLocked() {
	live := p.sessions[:0]
	for _, s := range p.sessions {
		if s.IsUsable() {
			live = append(live, s)
		}
	}
	p.sessions = live
	if p.next > len(p.sessions) {
		p.next = 0
	}
}

func (p *Pool) newSessionLocked() (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	id, err := randomID()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:            id,
		CookieJar:     jar,
		maxUsageCount: p.cfg.MaxUsageCount,
		maxErrorScore: p.cfg.MaxErrorScore,
	}, nil
}

// Size returns the current number of tracked sessions, usable or not.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func randomID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
