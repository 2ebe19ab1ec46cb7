package storyloom

import (
	"context"
	"time"
)

// NodeLogEntry records one node dispatch unit's execution for audit.
type NodeLogEntry struct {
	ThreadID  string    `json:"thread_id"`
	Node      string    `json:"node"`
	UnitIndex int       `json:"unit_index"`
	StartTime time.Time `json:"start_time"`
	Duration  float64   `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// NodeLogger records node executions. Implementations must be safe for
// concurrent use across threads.
type NodeLogger interface {
	// LogNode logs a completed node execution.
	LogNode(ctx context.Context, entry *NodeLogEntry) error

	// GetNodeHistory retrieves the execution log for a thread.
	GetNodeHistory(ctx context.Context, threadID string) ([]*NodeLogEntry, error)
}
