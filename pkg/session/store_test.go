package session

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/cache"
	"github.com/moeview/moeview/pkg/fetch"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Config{
		Path:         filepath.Join(t.TempDir(), "session.db"),
		HistoryLimit: 100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordViewAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordView(ctx, DefaultStream, 100, 0))
	require.NoError(t, store.RecordView(ctx, DefaultStream, 101, 1))
	require.NoError(t, store.RecordView(ctx, DefaultStream, 102, 2))

	events, err := store.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.EqualValues(t, 102, events[0].ItemID)
	assert.EqualValues(t, 100, events[2].ItemID)
}

func TestLastPosition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.LastPosition(ctx, DefaultStream)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.RecordView(ctx, DefaultStream, 100, 7))
	require.NoError(t, store.RecordView(ctx, "rating:safe", 200, 3))

	pos, ok, err := store.LastPosition(ctx, DefaultStream)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, pos)

	// Cursors are independent per stream.
	pos, ok, err = store.LastPosition(ctx, "rating:safe")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, pos)
}

func TestHistoryPruning(t *testing.T) {
	store, err := Open(Config{
		Path:         filepath.Join(t.TempDir(), "session.db"),
		HistoryLimit: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, store.RecordView(ctx, DefaultStream, booru.ItemID(100+i), i))
	}

	events, err := store.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.EqualValues(t, 109, events[0].ItemID)
	assert.EqualValues(t, 105, events[4].ItemID)
}

func TestIncompleteLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MarkIncomplete(ctx, 42))
	require.NoError(t, store.MarkIncomplete(ctx, 43))

	// Re-marking the same item keeps one row.
	require.NoError(t, store.MarkIncomplete(ctx, 42))

	records, err := store.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, store.ClearIncomplete(ctx, 42))
	records, err = store.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, 43, records[0].ItemID)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	store, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.RecordView(ctx, DefaultStream, 100, 12))
	require.NoError(t, store.MarkIncomplete(ctx, 55))
	require.NoError(t, store.Close())

	store, err = Open(Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pos, ok, err := store.LastPosition(ctx, DefaultStream)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12, pos)

	records, err := store.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, 55, records[0].ItemID)
}

type resumeSource struct{}

func (resumeSource) FetchMetadata(_ context.Context, id booru.ItemID) (*booru.Metadata, error) {
	return &booru.Metadata{ID: id, Size: 4, Kind: booru.KindImage}, nil
}

func (resumeSource) FetchRange(_ context.Context, _ booru.ItemID, start int64) (*booru.RangeResult, error) {
	payload := []byte("data")
	return &booru.RangeResult{
		Body:      io.NopCloser(bytes.NewReader(payload[start:])),
		Start:     start,
		TotalSize: int64(len(payload)),
	}, nil
}

func TestResumeIncomplete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tc, err := cache.New(cache.Config{MemoryBudget: 1 << 20}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tc.Close() })

	coord := fetch.NewCoordinator(resumeSource{}, tc, fetch.Config{
		Workers:         1,
		QueueSize:       16,
		TransferTimeout: 5 * time.Second,
	}, nil, nil)
	coord.Start()
	t.Cleanup(func() { coord.Stop(time.Second) })

	require.NoError(t, store.MarkIncomplete(ctx, 70))
	require.NoError(t, store.MarkIncomplete(ctx, 71))

	resumed, err := store.ResumeIncomplete(ctx, coord)
	require.NoError(t, err)
	assert.Equal(t, 2, resumed)

	// Records are cleared once resubmitted.
	records, err := store.Incomplete(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The resubmitted transfers run to completion.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tc.IsComplete(70) && tc.IsComplete(71) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, tc.IsComplete(70))
	assert.True(t, tc.IsComplete(71))
}
