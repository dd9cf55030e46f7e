// Package cooldown gates the "resend code" action on phone pairing.
// The cooldown is soft: it only blocks re-sending the one-time code, never the
// session itself.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// Default is the resend-code cooldown window.
const Default = 60 * time.Second

// Limiter tracks when a code was last sent per key (session id).
type Limiter interface {
	// Mark records a code send for key.
	Mark(ctx context.Context, key string) error
	// Remaining returns how long until the next send is allowed; 0 when allowed.
	Remaining(ctx context.Context, key string) (time.Duration, error)
	// Clear drops the key (session finished).
	Clear(ctx context.Context, key string) error
}

// Memory is the in-process Limiter used in standalone mode.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewMemory creates an in-memory limiter. ttl <= 0 selects Default.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = Default
	}
	return &Memory{
		ttl:  ttl,
		now:  time.Now,
		sent: make(map[string]time.Time),
	}
}

func (m *Memory) Mark(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	m.sent[key] = m.now()
	return nil
}

func (m *Memory) Remaining(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.sent[key]
	if !ok {
		return 0, nil
	}
	left := m.ttl - m.now().Sub(at)
	if left < 0 {
		delete(m.sent, key)
		return 0, nil
	}
	return left, nil
}

func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sent, key)
	return nil
}

// prune must be called with m.mu held.
func (m *Memory) prune() {
	cutoff := m.now().Add(-m.ttl)
	for k, at := range m.sent {
		if at.Before(cutoff) {
			delete(m.sent, k)
		}
	}
}
