package storyloom

import (
	"time"

	"github.com/storyloom-ai/storyloom/story"
)

// Suspension records a pending human-review interrupt inside a snapshot. It
// is part of the snapshot, not a side channel: resuming from any replica of
// the checkpoint store sees it.
type Suspension struct {
	Node     string              `json:"node"`
	Payload  story.ReviewPayload `json:"payload"`
	Deadline time.Time           `json:"deadline"`
}

// Snapshot is one durable checkpoint of a thread: the merged state, the
// nodes that have committed, the sends not yet consumed, and any pending
// suspension. Seq is strictly monotonic per thread.
type Snapshot struct {
	ThreadID     string          `json:"thread_id"`
	Seq          int64           `json:"seq"`
	Status       story.JobStatus `json:"status"`
	State        *State          `json:"state"`
	Completed    []string        `json:"completed_nodes"`
	PendingSends []Send          `json:"pending_sends,omitempty"`
	Suspension   *Suspension     `json:"suspension,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartTime    time.Time       `json:"start_time,omitzero"`
	EndTime      time.Time       `json:"end_time,omitzero"`
	CheckpointAt time.Time       `json:"checkpoint_at"`
}

// Suspended reports whether the snapshot is awaiting a resume decision.
func (s *Snapshot) Suspended() bool {
	return s.Suspension != nil && !s.Status.Terminal()
}
