// Package journal persists one row per transfer run so past sessions can be
// listed after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded session run, success or failure.
type Entry struct {
	ID          string
	StartedAt   time.Time
	Nick        string
	Destination string
	Port        int
	Bytes       int
	Duration    time.Duration
	Outcome     string
	Error       string
	DataToken   []byte
}

// Store is an embedded SQLite journal. modernc.org/sqlite is pure Go, so a
// plain file path is the whole deployment story.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // serializes writes (SQLite is single-writer)
}

// Open creates or opens the journal at path, creating parent directories
// and running migrations as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	// Single connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS transfers (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			nick TEXT NOT NULL,
			destination TEXT NOT NULL,
			port INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			data_token BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_started ON transfers(started_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO transfers (id, started_at, nick, destination, port, bytes, duration_ms, outcome, error, data_token)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StartedAt.UTC(), e.Nick, e.Destination, e.Port, e.Bytes,
		e.Duration.Milliseconds(), e.Outcome, e.Error, e.DataToken,
	)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A limit of zero or less
// means 20.
func (s *Store) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, nick, destination, port, bytes, duration_ms, outcome, error, data_token
		 FROM transfers ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.Nick, &e.Destination, &e.Port,
			&e.Bytes, &ms, &e.Outcome, &e.Error, &e.DataToken); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
