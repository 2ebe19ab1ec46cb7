package storyloom

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FileStore is a file-based CheckpointStore that persists one JSON file per
// snapshot under a per-thread directory, plus a "latest.json" copy for fast
// reads. Suitable for single-host deployments and local development.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a file-based store rooted at dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".storyloom", "threads")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (f *FileStore) threadDir(threadID string) string {
	return filepath.Join(f.dataDir, threadID)
}

// SaveSnapshot writes the snapshot file and refreshes latest.json.
func (f *FileStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	dir := f.threadDir(snapshot.ThreadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create thread directory: %w", err)
	}

	latest, err := f.LatestSnapshot(ctx, snapshot.ThreadID)
	if err != nil {
		return err
	}
	if latest != nil && snapshot.Seq <= latest.Seq {
		return ErrSeqConflict
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot-%09d.json", snapshot.Seq))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	// latest.json is written last so a crash mid-save leaves the previous
	// latest intact; readers fall back to scanning snapshot files.
	if err := os.WriteFile(filepath.Join(dir, "latest.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write latest snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot reads latest.json, falling back to the highest-numbered
// snapshot file.
func (f *FileStore) LatestSnapshot(ctx context.Context, threadID string) (*Snapshot, error) {
	dir := f.threadDir(threadID)
	if data, err := os.ReadFile(filepath.Join(dir, "latest.json")); err == nil {
		var snapshot Snapshot
		if err := json.Unmarshal(data, &snapshot); err == nil {
			return &snapshot, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read thread directory: %w", err)
	}

	best := int64(-1)
	bestName := ""
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		seqText := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot-"), ".json")
		seq, err := strconv.ParseInt(seqText, 10, 64)
		if err != nil {
			continue
		}
		if seq > best {
			best = seq
			bestName = name
		}
	}
	if bestName == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, bestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// DeleteThread removes the thread's directory.
func (f *FileStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := os.RemoveAll(f.threadDir(threadID)); err != nil {
		return fmt.Errorf("failed to delete thread directory: %w", err)
	}
	return nil
}

// ListSuspended scans every thread's latest snapshot for suspensions.
func (f *FileStore) ListSuspended(ctx context.Context) ([]*Snapshot, error) {
	entries, err := os.ReadDir(f.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var suspended []*Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snapshot, err := f.LatestSnapshot(ctx, entry.Name())
		if err != nil || snapshot == nil {
			continue
		}
		if snapshot.Suspended() {
			suspended = append(suspended, snapshot)
		}
	}
	sort.Slice(suspended, func(i, j int) bool {
		return suspended[i].Suspension.Deadline.Before(suspended[j].Suspension.Deadline)
	})
	return suspended, nil
}
