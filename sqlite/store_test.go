package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/storyloom-ai/storyloom"
	"github.com/storyloom-ai/storyloom/story"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func snapshot(threadID string, seq int64, jobStatus story.JobStatus) *storyloom.Snapshot {
	return &storyloom.Snapshot{
		ThreadID:     threadID,
		Seq:          seq,
		Status:       jobStatus,
		State:        &storyloom.State{JobID: "job-" + threadID, Prompt: "p", AgeGroup: story.Ages6to8},
		Completed:    []string{"input_moderator"},
		CheckpointAt: time.Now(),
	}
}

func TestSaveAndLoadLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, snapshot("t1", 1, story.StatusRunning)))
	require.NoError(t, store.SaveSnapshot(ctx, snapshot("t1", 2, story.StatusCompleted)))

	latest, err := store.LatestSnapshot(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(2), latest.Seq)
	require.Equal(t, story.StatusCompleted, latest.Status)
	require.Equal(t, "job-t1", latest.State.JobID)
}

func TestUnknownThreadReturnsNil(t *testing.T) {
	store := newTestStore(t)

	latest, err := store.LatestSnapshot(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestSeqConflictRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, snapshot("t1", 5, story.StatusRunning)))
	err := store.SaveSnapshot(ctx, snapshot("t1", 5, story.StatusRunning))
	require.ErrorIs(t, err, storyloom.ErrSeqConflict)
	err = store.SaveSnapshot(ctx, snapshot("t1", 3, story.StatusRunning))
	require.ErrorIs(t, err, storyloom.ErrSeqConflict)
}

func TestListSuspended(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	suspended := snapshot("t1", 1, story.StatusAwaitingReview)
	suspended.Suspension = &storyloom.Suspension{
		Node:     "human_review_gate",
		Payload:  story.ReviewPayload{JobID: "job-t1"},
		Deadline: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.SaveSnapshot(ctx, suspended))
	require.NoError(t, store.SaveSnapshot(ctx, snapshot("t2", 1, story.StatusRunning)))

	list, err := store.ListSuspended(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "t1", list[0].ThreadID)
	require.Equal(t, "human_review_gate", list[0].Suspension.Node)

	// A later non-suspended snapshot takes the thread off the list.
	require.NoError(t, store.SaveSnapshot(ctx, snapshot("t1", 2, story.StatusCompleted)))
	list, err = store.ListSuspended(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestDeleteThread(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, snapshot("t1", 1, story.StatusRunning)))
	require.NoError(t, store.DeleteThread(ctx, "t1"))

	latest, err := store.LatestSnapshot(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, latest)
}
