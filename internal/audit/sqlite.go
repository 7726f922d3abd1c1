package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ppiankov/repogate/internal/model"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		target TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		prev_hash TEXT NOT NULL,
		line_hash TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_events_correlation ON audit_events (correlation_id)`,
	`CREATE TRIGGER IF NOT EXISTS audit_events_no_update BEFORE UPDATE ON audit_events
	BEGIN SELECT RAISE(ABORT, 'audit_events is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS audit_events_no_delete BEFORE DELETE ON audit_events
	BEGIN SELECT RAISE(ABORT, 'audit_events is append-only'); END`,
}

// SQLiteSink mirrors audit events into an insert-only table. Rows carry
// the same prevHash chain as the JSONL form of the event.
type SQLiteSink struct {
	db *sql.DB

	mu    sync.Mutex
	chain chain
}

// OpenSQLite opens (or creates) the database at path and resumes the
// chain from the last row.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db, chain: newChain()}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	var last string
	err = db.QueryRowContext(ctx, `SELECT line_hash FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("audit: read sqlite tail: %w", err)
	default:
		s.chain.prevHash = last
	}
	return s, nil
}

func (s *SQLiteSink) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit: migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSink) Write(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, hash, err := s.chain.encode(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_events (
		timestamp, correlation_id, operation, target, outcome, reason, duration_ms, prev_hash, line_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.CorrelationID, e.Operation, e.Target, string(e.Outcome), e.Reason, e.DurationMs, s.chain.prevHash, hash)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	s.chain.prevHash = hash
	return nil
}

// Find returns the events recorded for correlationID in insertion order.
func (s *SQLiteSink) Find(ctx context.Context, correlationID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, correlation_id, operation, target, outcome, reason, duration_ms, prev_hash
		FROM audit_events WHERE correlation_id = ? ORDER BY seq`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			outcome string
		)
		if err := rows.Scan(&e.Timestamp, &e.CorrelationID, &e.Operation, &e.Target, &outcome, &e.Reason, &e.DurationMs, &e.PrevHash); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Outcome = model.Outcome(outcome)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count events: %w", err)
	}
	return n, nil
}

func (s *SQLiteSink) Kind() string { return "sqlite" }

func (s *SQLiteSink) Close() error { return s.db.Close() }
