package storyloom

import (
	"context"
	"testing"
	"time"

	"github.com/storyloom-ai/storyloom/story"
	"github.com/stretchr/testify/require"
)

func testSnapshot(threadID string, seq int64, jobStatus story.JobStatus) *Snapshot {
	return &Snapshot{
		ThreadID:     threadID,
		Seq:          seq,
		Status:       jobStatus,
		State:        &State{JobID: "job-" + threadID, Prompt: "p", AgeGroup: story.Ages6to8},
		Completed:    []string{NodeInputModerator},
		CheckpointAt: time.Now(),
	}
}

func runStoreTests(t *testing.T, store CheckpointStore) {
	ctx := context.Background()

	t.Run("latest of unknown thread is nil", func(t *testing.T) {
		latest, err := store.LatestSnapshot(ctx, "unknown")
		require.NoError(t, err)
		require.Nil(t, latest)
	})

	t.Run("save and read latest", func(t *testing.T) {
		require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("t1", 1, story.StatusRunning)))
		require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("t1", 2, story.StatusCompleted)))

		latest, err := store.LatestSnapshot(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		require.Equal(t, int64(2), latest.Seq)
		require.Equal(t, story.StatusCompleted, latest.Status)
		require.Equal(t, "job-t1", latest.State.JobID)
	})

	t.Run("stale seq rejected", func(t *testing.T) {
		require.ErrorIs(t, store.SaveSnapshot(ctx, testSnapshot("t1", 2, story.StatusRunning)), ErrSeqConflict)
		require.ErrorIs(t, store.SaveSnapshot(ctx, testSnapshot("t1", 1, story.StatusRunning)), ErrSeqConflict)
	})

	t.Run("suspension round-trips", func(t *testing.T) {
		suspended := testSnapshot("t2", 1, story.StatusAwaitingReview)
		suspended.Suspension = &Suspension{
			Node: NodeHumanReviewGate,
			Payload: story.ReviewPayload{
				JobID:      "job-t2",
				StoryTitle: "The Mouse and the Cheese",
				ImageURLs:  []string{"img://a", "img://b"},
			},
			Deadline: time.Now().Add(time.Hour).UTC(),
		}
		require.NoError(t, store.SaveSnapshot(ctx, suspended))

		loaded, err := store.LatestSnapshot(ctx, "t2")
		require.NoError(t, err)
		require.True(t, loaded.Suspended())
		require.Equal(t, NodeHumanReviewGate, loaded.Suspension.Node)
		require.Equal(t, "The Mouse and the Cheese", loaded.Suspension.Payload.StoryTitle)

		lister, ok := store.(SuspensionLister)
		require.True(t, ok)
		list, err := lister.ListSuspended(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "t2", list[0].ThreadID)
	})

	t.Run("delete thread", func(t *testing.T) {
		require.NoError(t, store.DeleteThread(ctx, "t1"))
		latest, err := store.LatestSnapshot(ctx, "t1")
		require.NoError(t, err)
		require.Nil(t, latest)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runStoreTests(t, store)
}

func TestMemoryStoreSnapshotsDoNotAlias(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snapshot := testSnapshot("t1", 1, story.StatusRunning)
	require.NoError(t, store.SaveSnapshot(ctx, snapshot))
	snapshot.State.JobID = "mutated"

	loaded, err := store.LatestSnapshot(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "job-t1", loaded.State.JobID)
}
