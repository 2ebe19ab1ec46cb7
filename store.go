package storyloom

import (
	"context"
	"errors"
)

// ErrSeqConflict is returned by a checkpoint store when a snapshot's seq is
// not greater than the highest committed seq for the thread. It indicates
// two executors racing on one thread id.
var ErrSeqConflict = errors.New("snapshot seq conflict")

// CheckpointStore durably persists thread snapshots. Implementations must
// support concurrent writers for different thread ids; within a thread the
// executor's merge lock serializes writes.
type CheckpointStore interface {
	// SaveSnapshot durably commits a snapshot keyed by (thread id, seq).
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error

	// LatestSnapshot returns the highest committed snapshot for a thread,
	// or nil when the thread is unknown.
	LatestSnapshot(ctx context.Context, threadID string) (*Snapshot, error)

	// DeleteThread removes all snapshots for a thread.
	DeleteThread(ctx context.Context, threadID string) error
}

// SuspensionLister is implemented by stores that can enumerate suspended
// threads. The review-deadline sweeper requires it.
type SuspensionLister interface {
	// ListSuspended returns the latest snapshot of every thread currently
	// awaiting a resume decision.
	ListSuspended(ctx context.Context) ([]*Snapshot, error)
}
