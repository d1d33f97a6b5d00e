package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"medintake/internal/logging"
)

var (
	// ErrNotFound is returned when no session has the requested ID.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when creating a session whose ID is taken.
	ErrExists = errors.New("session already exists")
	// ErrConflict is returned when an update carries a stale Version.
	ErrConflict = errors.New("session version conflict")
)

// Store keeps session contexts between turns. Implementations hand out
// copies, so callers may mutate what they receive and write it back with
// Update.
type Store interface {
	Create(ctx context.Context, id string) (*Context, error)
	Get(ctx context.Context, id string) (*Context, error)
	// Update persists c if its Version matches the stored one, then bumps
	// c.Version and c.UpdatedAt.
	Update(ctx context.Context, c *Context) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Summary, error)
	// Expire removes sessions idle for longer than ttl and returns how many
	// were removed.
	Expire(ctx context.Context, ttl time.Duration) (int, error)
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Context
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Context), now: time.Now}
}

// WithClock replaces the store clock. Used by tests of Expire.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Create(_ context.Context, id string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := New(id, m.now())
	if _, ok := m.sessions[c.ID]; ok {
		return nil, ErrExists
	}
	m.sessions[c.ID] = c.Clone()
	logging.SessionDebug("created session %s", c.ID)
	return c, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, c *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[c.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != c.Version {
		return ErrConflict
	}
	c.Version++
	c.UpdatedAt = m.now()
	m.sessions[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// List returns session summaries, most recently updated first.
func (m *MemoryStore) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.sessions))
	for _, c := range m.sessions {
		out = append(out, c.Summarize())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Expire(_ context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	removed := 0
	for id, c := range m.sessions {
		if c.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Session("expired %d idle sessions", removed)
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }
