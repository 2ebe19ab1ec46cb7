package storyloom

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory CheckpointStore. It keeps the full snapshot
// history per thread and is safe for concurrent use. Intended for tests and
// local development.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: map[string][]*Snapshot{}}
}

// SaveSnapshot appends a snapshot, enforcing monotonic seq per thread.
func (m *MemoryStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.threads[snapshot.ThreadID]
	if len(history) > 0 && snapshot.Seq <= history[len(history)-1].Seq {
		return ErrSeqConflict
	}
	m.threads[snapshot.ThreadID] = append(history, copySnapshot(snapshot))
	return nil
}

// LatestSnapshot returns the highest committed snapshot, or nil.
func (m *MemoryStore) LatestSnapshot(ctx context.Context, threadID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.threads[threadID]
	if len(history) == 0 {
		return nil, nil
	}
	return copySnapshot(history[len(history)-1]), nil
}

// DeleteThread drops all snapshots for a thread.
func (m *MemoryStore) DeleteThread(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.threads, threadID)
	return nil
}

// ListSuspended returns the latest snapshot of every suspended thread.
func (m *MemoryStore) ListSuspended(ctx context.Context) ([]*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var suspended []*Snapshot
	for _, history := range m.threads {
		latest := history[len(history)-1]
		if latest.Suspended() {
			suspended = append(suspended, copySnapshot(latest))
		}
	}
	return suspended, nil
}

// History returns all snapshots for a thread in commit order. Test helper.
func (m *MemoryStore) History(threadID string) []*Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.threads[threadID]
	out := make([]*Snapshot, len(history))
	for i, snapshot := range history {
		out[i] = copySnapshot(snapshot)
	}
	return out
}

// copySnapshot round-trips through JSON so stored snapshots never alias live
// executor state. This also keeps the memory store honest about
// serializability, matching what the durable stores require.
func copySnapshot(s *Snapshot) *Snapshot {
	data, err := json.Marshal(s)
	if err != nil {
		panic("snapshot not serializable: " + err.Error())
	}
	var clone Snapshot
	if err := json.Unmarshal(data, &clone); err != nil {
		panic("snapshot not round-trippable: " + err.Error())
	}
	return &clone
}
