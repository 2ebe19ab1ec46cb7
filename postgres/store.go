// Package postgres provides a PostgreSQL-backed checkpoint store for
// multi-process deployments: workers and the review API share one store, so
// a thread suspended by one process can be resumed by another.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/storyloom-ai/storyloom"
)

// Store persists snapshots in a snapshots table keyed by (thread_id, seq).
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL and runs the schema migration.
func New(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing connection pool and runs the migration.
func NewWithDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS storyloom_snapshots (
			thread_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			status TEXT NOT NULL,
			suspended BOOLEAN NOT NULL DEFAULT FALSE,
			data JSONB NOT NULL,
			checkpoint_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (thread_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_storyloom_snapshots_suspended
			ON storyloom_snapshots (thread_id) WHERE suspended;
	`)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot inserts the snapshot row, enforcing monotonic seq per thread.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *storyloom.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// The guarded insert makes stale writers fail instead of interleaving:
	// the row only lands when seq is beyond everything committed.
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO storyloom_snapshots (thread_id, seq, status, suspended, data, checkpoint_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM storyloom_snapshots WHERE thread_id = $1 AND seq >= $2
		)
	`, snapshot.ThreadID, snapshot.Seq, string(snapshot.Status), snapshot.Suspended(),
		data, snapshot.CheckpointAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if rows == 0 {
		return storyloom.ErrSeqConflict
	}
	return nil
}

// LatestSnapshot returns the highest committed snapshot, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, threadID string) (*storyloom.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM storyloom_snapshots
		WHERE thread_id = $1
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
		`DELETE FROM storyloom_snapshots WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// ListSuspended returns the latest snapshot of every suspended thread.
func (s *Store) ListSuspended(ctx context.Context) ([]*storyloom.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (thread_id) data, suspended
		FROM storyloom_snapshots
		ORDER BY thread_id, seq DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query suspended: %w", err)
	}
	defer rows.Close()

	var suspended []*storyloom.Snapshot
	for rows.Next() {
		var data []byte
		var isSuspended bool
		if err := rows.Scan(&data, &isSuspended); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if !isSuspended {
			continue
		}
		var snapshot storyloom.Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		suspended = append(suspended, &snapshot)
	}
	return suspended, rows.Err()
}
