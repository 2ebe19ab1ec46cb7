// Package sqlite provides a SQLite-backed checkpoint store. The pure Go
// driver keeps the build cgo-free, which makes it the default durable store
// for single-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storyloom-ai/storyloom"
	_ "modernc.org/sqlite"
)

// Store persists snapshots to SQLite, one row per (thread_id, seq).
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite checkpoint store. Path may be a file
// path or ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL improves concurrent read behavior while the executor writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			suspended INTEGER NOT NULL DEFAULT 0,
			data BLOB NOT NULL,
			checkpoint_at TEXT NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_snapshots_suspended
		ON snapshots(suspended) WHERE suspended = 1
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot inserts the snapshot row. The primary key enforces one row
// per (thread_id, seq); a duplicate or stale seq is a conflict.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *storyloom.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var maxSeq sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM snapshots WHERE thread_id = ?`, snapshot.ThreadID).Scan(&maxSeq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read max seq: %w", err)
	}
	if maxSeq.Valid && snapshot.Seq <= maxSeq.Int64 {
		return storyloom.ErrSeqConflict
	}

	suspended := 0
	if snapshot.Suspended() {
		suspended = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (thread_id, seq, status, suspended, data, checkpoint_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snapshot.ThreadID, snapshot.Seq, string(snapshot.Status), suspended, data,
		snapshot.CheckpointAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the highest committed snapshot, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, threadID string) (*storyloom.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM snapshots
		WHERE thread_id = ?
		ORDER BY seq DESC LIMIT 1
	`, threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot storyloom.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// DeleteThread removes all snapshots for a thread.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// ListSuspended returns the latest snapshot of every suspended thread.
func (s *Store) ListSuspended(ctx context.Context) ([]*storyloom.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM snapshots s
		WHERE suspended = 1
		AND seq = (SELECT MAX(seq) FROM snapshots WHERE thread_id = s.thread_id)
	`)
	if err != nil {
		return nil, fmt.Errorf("query suspended: %w", err)
	}
	defer rows.Close()

	var suspended []*storyloom.Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snapshot storyloom.Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		suspended = append(suspended, &snapshot)
	}
	return suspended, rows.Err()
}
