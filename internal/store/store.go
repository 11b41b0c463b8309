// Package store persists finished session records in a local SQLite
// database so callers can list and inspect past runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("session record not found")

// SessionRecord is one finished session as written to history.
type SessionRecord struct {
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	Rounds      int       `json:"rounds"`
	Termination string    `json:"termination"`
	Answer      string    `json:"answer"`
	ToolCalls   int       `json:"tool_calls"`
	Failures    int       `json:"failures"`
	TreeHash    string    `json:"tree_hash"`
	DurationMS  int64     `json:"duration_ms"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id  TEXT PRIMARY KEY,
			created_at  TEXT NOT NULL,
			prompt      TEXT NOT NULL,
			model       TEXT NOT NULL DEFAULT '',
			rounds      INTEGER NOT NULL,
			termination TEXT NOT NULL,
			answer      TEXT NOT NULL DEFAULT '',
			tool_calls  INTEGER NOT NULL DEFAULT 0,
			failures    INTEGER NOT NULL DEFAULT 0,
			tree_hash   TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, prompt, model, rounds, termination, answer, tool_calls, failures, tree_hash, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.Prompt,
		rec.Model,
		rec.Rounds,
		rec.Termination,
		rec.Answer,
		rec.ToolCalls,
		rec.Failures,
		rec.TreeHash,
		rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, created_at, prompt, model, rounds, termination, answer, tool_calls, failures, tree_hash, duration_ms
		 FROM sessions ORDER BY created_at DESC, session_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, prompt, model, rounds, termination, answer, tool_calls, failures, tree_hash, duration_ms
		 FROM sessions WHERE session_id = ?`, sessionID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var createdAt string
	if err := row.Scan(
		&rec.SessionID,
		&createdAt,
		&rec.Prompt,
		&rec.Model,
		&rec.Rounds,
		&rec.Termination,
		&rec.Answer,
		&rec.ToolCalls,
		&rec.Failures,
		&rec.TreeHash,
		&rec.DurationMS,
	); err != nil {
		return SessionRecord{}, err
	}
	if parsed, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = parsed
	}
	return rec, nil
}
