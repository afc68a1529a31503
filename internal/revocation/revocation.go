// Package revocation keeps the set of access-token ids invalidated before
// their natural expiry.
package revocation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrEmptyJTI = errors.New("jti is required")

// Set is the revocation set consulted on every access-token validation.
// Entries only need to live until the token they name would have expired.
type Set interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
	Prune(ctx context.Context) (int, error)
}

// Memory is a process-wide Set. Its contents are lost on restart, so a
// token revoked before a restart is accepted again until it expires.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for tests.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	if clock != nil {
		m.mu.Lock()
		m.now = clock
		m.mu.Unlock()
	}
	return m
}

func (m *Memory) Add(_ context.Context, jti string, expiresAt time.Time) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return ErrEmptyJTI
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !expiresAt.IsZero() && !expiresAt.After(m.now()) {
		return nil
	}
	m.entries[jti] = expiresAt.UTC()
	return nil
}

func (m *Memory) Contains(_ context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, ErrEmptyJTI
	}
	m.mu.RLock()
	exp, ok := m.entries[jti]
	now := m.now()
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !exp.IsZero() && !exp.After(now) {
		m.mu.Lock()
		// Add may have replaced the entry since the read lock was dropped.
		if cur, ok := m.entries[jti]; ok && !cur.IsZero() && !cur.After(m.now()) {
			delete(m.entries, jti)
		}
		m.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Prune drops entries whose tokens have expired and reports how many went.
func (m *Memory) Prune(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for jti, exp := range m.entries {
		if !exp.IsZero() && !exp.After(now) {
			delete(m.entries, jti)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
