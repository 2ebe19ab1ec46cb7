package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPutGet(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	url, err := store.Put(ctx, "stories/job-1/manifest.json", []byte(`{"a":1}`), "application/json")
	require.NoError(t, err)
	require.Equal(t, "mem://stories/job-1/manifest.json", url)

	data, err := store.Get(ctx, "stories/job-1/manifest.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(data))

	_, err = store.Get(ctx, "missing")
	require.Error(t, err)
}

func TestFSPutGet(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	url, err := store.Put(ctx, "stories/job-1/published.json", []byte("hello"), "application/json")
	require.NoError(t, err)
	require.Contains(t, url, "file://")

	data, err := store.Get(ctx, "stories/job-1/published.json")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestFSRejectsEscapingKeys(t *testing.T) {
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../outside", []byte("x"), "text/plain")
	require.Error(t, err)

	_, err = store.Get(context.Background(), "/etc/passwd")
	require.Error(t, err)
}
