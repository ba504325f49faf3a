package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moeview/moeview/pkg/events"
)

func TestTrackProgressMarksInFlight(t *testing.T) {
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "session.db")})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	bus := events.NewBus()
	cleanup := store.TrackProgress(bus)
	defer cleanup()

	ctx := context.Background()

	// First progress event marks the transfer.
	bus.Publish(events.Event{Type: events.FetchProgress, Item: 7, Fetched: 1024, Total: 4096})
	inc, err := store.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, inc, 1)
	assert.Equal(t, int64(7), inc[0].ItemID)

	// Completion clears the mark.
	bus.Publish(events.Event{Type: events.FetchProgress, Item: 7, Fetched: 4096, Total: 4096})
	inc, err = store.Incomplete(ctx)
	require.NoError(t, err)
	assert.Empty(t, inc)
}

func TestTrackProgressWritesOncePerTransfer(t *testing.T) {
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "session.db")})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	bus := events.NewBus()
	cleanup := store.TrackProgress(bus)
	defer cleanup()

	ctx := context.Background()

	bus.Publish(events.Event{Type: events.FetchProgress, Item: 9, Fetched: 1, Total: 100})
	inc, err := store.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, inc, 1)
	first := inc[0].UpdatedAt

	// Later progress for the same transfer does not rewrite the row.
	bus.Publish(events.Event{Type: events.FetchProgress, Item: 9, Fetched: 50, Total: 100})
	inc, err = store.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, inc, 1)
	assert.Equal(t, first, inc[0].UpdatedAt)

	// After unsubscribe, events stop reaching the store.
	cleanup()
	bus.Publish(events.Event{Type: events.FetchProgress, Item: 11, Fetched: 1, Total: 100})
	inc, err = store.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, inc, 1)
}
