package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"medintake/internal/fields"
	"medintake/internal/logging"

	_ "modernc.org/sqlite"
)

// SQLStore persists session contexts as JSON snapshots in SQLite using the
// pure-Go driver.
type SQLStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

// NewSQLStore opens (or creates) the session database at path. ":memory:"
// gives a private in-memory database.
func NewSQLStore(path string) (*SQLStore, error) {
	timer := logging.StartTimer(logging.CategorySession, "NewSQLStore")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.SessionDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.SessionDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	logging.Session("Session store ready at %s", path)
	return &SQLStore{db: db, path: path, now: time.Now}, nil
}

// WithClock replaces the store clock.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

func (s *SQLStore) Create(ctx context.Context, id string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := New(id, s.now())
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, version, created_at, updated_at, payload) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Version, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano(), string(payload))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	logging.SessionDebug("created session %s", c.ID)
	return c, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	var c Context
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	if c.Extracted == nil {
		c.Extracted = make(fields.Record)
	}
	return &c, nil
}

func (s *SQLStore) Update(ctx context.Context, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := c.Clone()
	next.Version = c.Version + 1
	next.UpdatedAt = s.now()
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET version = ?, updated_at = ?, payload = ? WHERE id = ? AND version = ?`,
		next.Version, next.UpdatedAt.UnixNano(), string(payload), c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", c.ID, err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, c.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return ErrConflict
	}
	c.Version = next.Version
	c.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM sessions ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var c Context
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			logging.SessionWarn("skipping undecodable session row: %v", err)
			continue
		}
		out = append(out, c.Summarize())
	}
	return out, rows.Err()
}

func (s *SQLStore) Expire(ctx context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Session("expired %d idle sessions", n)
	}
	return int(n), nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
