package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ========================================
// SessionStore - mirror session history
// ========================================

// SessionRecord is one row of mirror session history.
type SessionRecord struct {
	ID        string     `json:"id"`
	Serial    string     `json:"serial"`
	Name      string     `json:"name"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Status    string     `json:"status"`
}

// SessionStore persists mirror session history to SQLite. All writes go
// through prepared statements under the store's mutex.
type SessionStore struct {
	db *sql.DB
	mu sync.Mutex

	insertStmt *sql.Stmt
	endStmt    *sql.Stmt
}

// NewSessionStore opens (creating if needed) the history database under
// dataDir.
func NewSessionStore(dataDir string) (*SessionStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "glimpse.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SessionStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	LogInfo("store").Str("path", dbPath).Msg("Session store opened")
	return store, nil
}

func (s *SessionStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mirror_sessions (
		id TEXT PRIMARY KEY,
		serial TEXT NOT NULL,
		name TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_start ON mirror_sessions(start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_serial ON mirror_sessions(serial);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var err error
	s.insertStmt, err = s.db.Prepare(
		`INSERT INTO mirror_sessions (id, serial, name, start_time, end_time, status) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	s.endStmt, err = s.db.Prepare(
		`UPDATE mirror_sessions SET end_time = ?, status = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare end update: %w", err)
	}
	return nil
}

// RecordLaunch writes the initial row for a session. A session that never
// started is recorded with its failure status and an end time equal to its
// start time.
func (s *SessionStore) RecordLaunch(session *MirrorSession, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endTime interface{}
	if status != "running" {
		endTime = session.StartedAt
	}
	_, err := s.insertStmt.Exec(session.ID, session.Serial, session.Name, session.StartedAt, endTime, status)
	if err != nil {
		LogError("store").Str("session", session.ID).Err(err).Msg("Failed to record session launch")
	}
}

// RecordEnd closes out a session row with its final status.
func (s *SessionStore) RecordEnd(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.endStmt.Exec(time.Now(), status, id)
	if err != nil {
		LogError("store").Str("session", id).Err(err).Msg("Failed to record session end")
	}
}

// Recent returns up to limit sessions, newest first.
func (s *SessionStore) Recent(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, serial, name, start_time, end_time, status
		 FROM mirror_sessions ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var end sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Serial, &rec.Name, &rec.StartTime, &end, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if end.Valid {
			t := end.Time
			rec.EndTime = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the prepared statements and the database handle.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if s.endStmt != nil {
		s.endStmt.Close()
	}
	return s.db.Close()
}
