package viewer

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/cache"
	"github.com/moeview/moeview/pkg/events"
	"github.com/moeview/moeview/pkg/fetch"
	"github.com/moeview/moeview/pkg/preload"
)

type stubSource struct {
	mu       sync.Mutex
	data     map[booru.ItemID][]byte
	notFound map[booru.ItemID]bool
	calls    map[booru.ItemID]int
}

func newStubSource() *stubSource {
	return &stubSource{
		data:     make(map[booru.ItemID][]byte),
		notFound: make(map[booru.ItemID]bool),
		calls:    make(map[booru.ItemID]int),
	}
}

func (s *stubSource) FetchMetadata(_ context.Context, id booru.ItemID) (*booru.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notFound[id] {
		return nil, booru.ErrNotFound
	}
	return &booru.Metadata{ID: id, Size: int64(len(s.data[id])), Kind: booru.KindImage}, nil
}

func (s *stubSource) FetchRange(_ context.Context, id booru.ItemID, start int64) (*booru.RangeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notFound[id] {
		return nil, booru.ErrNotFound
	}
	s.calls[id]++
	payload := s.data[id]
	return &booru.RangeResult{
		Body:      io.NopCloser(bytes.NewReader(payload[start:])),
		Start:     start,
		TotalSize: int64(len(payload)),
	}, nil
}

func (s *stubSource) rangeCalls(id booru.ItemID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type fixture struct {
	src    *stubSource
	cache  *cache.TieredCache
	coord  *fetch.Coordinator
	bus    *events.Bus
	viewer *Viewer
}

func newFixture(t *testing.T, withPrefetch bool) *fixture {
	t.Helper()

	src := newStubSource()
	tc, err := cache.New(cache.Config{MemoryBudget: 1 << 20}, nil)
	require.NoError(t, err)

	bus := events.NewBus()
	coord := fetch.NewCoordinator(src, tc, fetch.Config{
		Workers:           2,
		QueueSize:         32,
		MaxRetries:        0,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Millisecond,
		TransferTimeout:   5 * time.Second,
	}, nil, ProgressPublisher(bus))
	coord.Start()
	t.Cleanup(func() {
		coord.Stop(time.Second)
		_ = tc.Close()
	})

	var sched *preload.Scheduler
	if withPrefetch {
		cfg := preload.DefaultConfig()
		cfg.ForwardWindow = 3
		cfg.BackwardWindow = 0
		sched = preload.NewScheduler(coord, tc, bus, cfg)
	}

	return &fixture{
		src:    src,
		cache:  tc,
		coord:  coord,
		bus:    bus,
		viewer: New(coord, tc, sched, bus),
	}
}

func TestShowCacheHit(t *testing.T) {
	fx := newFixture(t, false)

	require.NoError(t, fx.cache.Put(&cache.Record{
		ID:        7,
		Data:      []byte("cached"),
		TotalSize: 6,
	}, cache.PutOptions{}))

	served := 0
	fx.bus.Subscribe(events.ItemServed, "test", func(events.Event) { served++ })

	view := fx.viewer.Show(7)

	// A complete cached item resolves synchronously.
	rec, err := view.Result()
	require.NoError(t, err)
	assert.Equal(t, StateServed, view.State())
	assert.Equal(t, []byte("cached"), rec.Data)
	assert.Equal(t, 1, served)
	assert.Zero(t, fx.src.rangeCalls(7))
}

func TestShowMissFetchesAndServes(t *testing.T) {
	fx := newFixture(t, false)
	fx.src.data[42] = []byte("remote payload")

	started := 0
	fx.bus.Subscribe(events.FetchStarted, "test", func(events.Event) { started++ })

	view := fx.viewer.Show(42)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := view.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateServed, view.State())
	assert.Equal(t, []byte("remote payload"), rec.Data)
	assert.Equal(t, 1, started)
	assert.Equal(t, cache.TierMemory, fx.cache.Contains(42))
}

func TestShowFailureResolvesView(t *testing.T) {
	fx := newFixture(t, false)
	fx.src.notFound[13] = true

	var failed []events.Event
	fx.bus.Subscribe(events.FetchFailed, "test", func(ev events.Event) {
		failed = append(failed, ev)
	})

	view := fx.viewer.Show(13)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := view.Wait(ctx)
	require.Error(t, err)

	assert.Equal(t, StateFailed, view.State())
	require.Len(t, failed, 1)
	assert.EqualValues(t, 13, failed[0].Item)
	assert.Error(t, failed[0].Err)
}

func TestOnNavigate(t *testing.T) {
	fx := newFixture(t, true)
	ids := []booru.ItemID{100, 101, 102, 103, 104}
	for _, id := range ids {
		fx.src.data[id] = []byte{byte(id)}
	}
	fx.viewer.SetCandidates(preload.NewStaticCandidates(ids))

	view, err := fx.viewer.OnNavigate(1)
	require.NoError(t, err)
	assert.EqualValues(t, 101, view.Item)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = view.Wait(ctx)
	require.NoError(t, err)

	// Same position returns the same view, no new work.
	again, err := fx.viewer.OnNavigate(1)
	require.NoError(t, err)
	assert.Same(t, view, again)
	assert.Equal(t, 1, fx.src.rangeCalls(101))
	assert.Equal(t, 1, fx.viewer.Position())
}

func TestOnNavigateOutOfRange(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.viewer.OnNavigate(0)
	assert.ErrorIs(t, err, ErrNoCandidates)

	fx.viewer.SetCandidates(preload.NewStaticCandidates([]booru.ItemID{1}))
	_, err = fx.viewer.OnNavigate(5)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDiskHitPromoted(t *testing.T) {
	fx := newFixture(t, false)

	dir := t.TempDir()
	tc, err := cache.New(cache.Config{
		MemoryBudget: 4,
		DiskBudget:   1 << 20,
		DiskPath:     dir,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tc.Close() })

	v := New(fx.coord, tc, nil, nil)

	// Over the memory budget, so the complete record demotes to disk.
	require.NoError(t, tc.Put(&cache.Record{
		ID:        9,
		Data:      []byte("disk resident"),
		TotalSize: 13,
	}, cache.PutOptions{}))
	require.Equal(t, cache.TierDisk, tc.Contains(9))

	view := v.Show(9)
	rec, err := view.Result()
	require.NoError(t, err)
	assert.Equal(t, []byte("disk resident"), rec.Data)
	assert.Equal(t, StateServed, view.State())
}

func TestProgressPublisher(t *testing.T) {
	bus := events.NewBus()

	var got []events.Event
	bus.Subscribe(events.FetchProgress, "test", func(ev events.Event) {
		got = append(got, ev)
	})

	fn := ProgressPublisher(bus)
	fn(5, 1024, 4096)

	require.Len(t, got, 1)
	assert.EqualValues(t, 5, got[0].Item)
	assert.EqualValues(t, 1024, got[0].Fetched)
	assert.EqualValues(t, 4096, got[0].Total)
}
