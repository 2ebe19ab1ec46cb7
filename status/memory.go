package status

import (
	"context"
	"sync"

	"github.com/storyloom-ai/storyloom/story"
)

// Entry is one recorded transition.
type Entry struct {
	Status story.JobStatus
	Detail string
}

// MemoryRecorder keeps the latest status and the full transition history per
// job. For tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	latest  map[string]Entry
	history map[string][]Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		latest:  map[string]Entry{},
		history: map[string][]Entry{},
	}
}

func (m *MemoryRecorder) Record(ctx context.Context, jobID string, jobStatus story.JobStatus, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := Entry{Status: jobStatus, Detail: detail}
	m.latest[jobID] = entry
	m.history[jobID] = append(m.history[jobID], entry)
	return nil
}

// Latest returns the most recent status for a job.
func (m *MemoryRecorder) Latest(jobID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.latest[jobID]
	return entry, ok
}

// History returns all transitions for a job in order.
func (m *MemoryRecorder) History(jobID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.history[jobID]
	out := make([]Entry, len(history))
	copy(out, history)
	return out
}
