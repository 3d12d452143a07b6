package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process GrantStore
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	grants map[string]Grant
}

// NewMemory creates a Memory store; ttl <= 0 means DefaultTTL
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:    ttl,
		now:    time.Now,
		grants: make(map[string]Grant),
	}
}

// Put implements GrantStore
func (m *Memory) Put(_ context.Context, token string, g *Grant) error {
	now := m.now()
	g.ExpiresAt = now.Add(m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, existing := range m.grants {
		if !now.Before(existing.ExpiresAt) {
			delete(m.grants, k)
		}
	}
	m.grants[token] = *g
	return nil
}

// Take implements GrantStore
func (m *Memory) Take(_ context.Context, token string) (*Grant, error) {
	m.mu.Lock()
	g, ok := m.grants[token]
	delete(m.grants, token)
	m.mu.Unlock()

	if !ok || !m.now().Before(g.ExpiresAt) {
		return nil, ErrGrantNotFound
	}
	return &g, nil
}

// Len returns the number of stored tokens, expired ones included
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.grants)
}

// Close implements GrantStore
func (m *Memory) Close() error {
	return nil
}

var _ GrantStore = (*Memory)(nil)
