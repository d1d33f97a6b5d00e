// Package store persists booked consultations and the extraction audit log
// in SQLite. Both the cgo driver (sqlite3) and the pure-Go driver (sqlite)
// are registered; the config selects one.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"medintake/internal/logging"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no row has the requested ID.
var ErrNotFound = errors.New("not found")

// Store is the consultation database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	driver string
	path   string
	now    func() time.Time
}

// Open opens (or creates) the database at path with the named driver.
// ":memory:" gives a private in-memory database.
func Open(driver, path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if driver == "" {
		driver = "sqlite"
	}
	if driver != "sqlite" && driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported sqlite driver: %s", driver)
	}
	logging.Store("Opening consultation store at %s (driver=%s)", path, driver)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	s := &Store{db: db, driver: driver, path: path, now: time.Now}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	return s, nil
}

// WithClock replaces the store clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Driver returns the sql driver name in use.
func (s *Store) Driver() string { return s.driver }

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS consultations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL DEFAULT '',
		patient_name TEXT NOT NULL,
		phone TEXT NOT NULL,
		consultation_date TEXT NOT NULL,
		consultation_time TEXT NOT NULL DEFAULT '',
		consultation_type TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pendente',
		confidence REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_consultations_session ON consultations(session_id);
	CREATE INDEX IF NOT EXISTS idx_consultations_status ON consultations(status);
	CREATE INDEX IF NOT EXISTS idx_consultations_date ON consultations(consultation_date);

	CREATE TABLE IF NOT EXISTS extraction_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		message TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		extracted TEXT NOT NULL DEFAULT '{}',
		confidence REAL NOT NULL DEFAULT 0,
		action TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_extraction_logs_session ON extraction_logs(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return RunMigrations(s.db)
}
