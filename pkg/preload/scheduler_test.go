package preload

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/cache"
	"github.com/moeview/moeview/pkg/fetch"
)

// stubSource serves one-byte payloads for any id, optionally blocking
// range calls behind a gate.
type stubSource struct {
	mu         sync.Mutex
	rangeCalls map[booru.ItemID]int
	gate       chan struct{}
}

func newStubSource() *stubSource {
	return &stubSource{rangeCalls: make(map[booru.ItemID]int)}
}

func (s *stubSource) FetchMetadata(_ context.Context, id booru.ItemID) (*booru.Metadata, error) {
	return &booru.Metadata{ID: id, Size: 1, Kind: booru.KindImage}, nil
}

func (s *stubSource) FetchRange(_ context.Context, id booru.ItemID, start int64) (*booru.RangeResult, error) {
	s.mu.Lock()
	gate := s.gate
	s.rangeCalls[id]++
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return &booru.RangeResult{
		Body:      io.NopCloser(bytes.NewReader([]byte{byte(id)})),
		TotalSize: 1,
	}, nil
}

func (s *stubSource) calls(id booru.ItemID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rangeCalls[id]
}

// idAt maps candidate positions to stable identifiers for assertions.
func idAt(pos int) booru.ItemID {
	return booru.ItemID(1000 + pos)
}

func candidateList(n int) *StaticCandidates {
	ids := make([]booru.ItemID, n)
	for i := range ids {
		ids[i] = idAt(i)
	}
	return NewStaticCandidates(ids)
}

type harness struct {
	src   *stubSource
	cache *cache.TieredCache
	coord *fetch.Coordinator
	sched *Scheduler
}

func newHarness(t *testing.T, cfg Config, workers int) *harness {
	t.Helper()

	src := newStubSource()
	tc, err := cache.New(cache.Config{MemoryBudget: 1 << 20}, nil)
	if err != nil {
		t.Fatalf("cache.New() failed: %v", err)
	}

	coord := fetch.NewCoordinator(src, tc, fetch.Config{
		Workers:           workers,
		QueueSize:         64,
		MaxRetries:        0,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Millisecond,
		TransferTimeout:   5 * time.Second,
	}, nil, nil)
	coord.Start()
	t.Cleanup(func() {
		coord.Stop(time.Second)
		_ = tc.Close()
	})

	return &harness{
		src:   src,
		cache: tc,
		coord: coord,
		sched: NewScheduler(coord, tc, nil, cfg),
	}
}

// blockWorkers occupies every worker with an interactive fetch for an id
// far outside the candidate range, so queued prefetches stay queued.
func (h *harness) blockWorkers(t *testing.T, workers int) func() {
	t.Helper()

	h.src.mu.Lock()
	h.src.gate = make(chan struct{})
	gate := h.src.gate
	h.src.mu.Unlock()

	futures := make([]*fetch.Future, 0, workers)
	for i := 0; i < workers; i++ {
		futures = append(futures, h.coord.Request(booru.ItemID(90000+i), fetch.PriorityInteractive))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		busy := 0
		for i := 0; i < workers; i++ {
			if h.src.calls(booru.ItemID(90000+i)) > 0 {
				busy++
			}
		}
		if busy == workers {
			break
		}
		time.Sleep(time.Millisecond)
	}

	return func() {
		close(gate)
		for _, f := range futures {
			_, _ = f.Wait(context.Background())
		}
	}
}

func waitState(t *testing.T, coord *fetch.Coordinator, id booru.ItemID, want fetch.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if coord.StateOf(id) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("item %d state = %v, want %v", id, coord.StateOf(id), want)
}

func TestNavigateIssuesWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForwardWindow = 4
	cfg.BackwardWindow = 2
	h := newHarness(t, cfg, 1)
	h.sched.SetCandidates(candidateList(100))

	release := h.blockWorkers(t, 1)
	defer release()

	h.sched.OnNavigate(10)

	// Forward neighborhood [10..13] minus the current item, plus the
	// backward neighborhood [8,9].
	for _, pos := range []int{11, 12, 13, 8, 9} {
		if got := h.coord.StateOf(idAt(pos)); got != fetch.StateQueued {
			t.Errorf("position %d state = %v, want queued", pos, got)
		}
	}
	if got := h.coord.StateOf(idAt(10)); got != fetch.StateNotStarted {
		t.Errorf("current position must not be prefetched, state = %v", got)
	}
}

// Repeated navigation to the same position issues no further requests.
func TestNavigateIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForwardWindow = 4
	h := newHarness(t, cfg, 1)
	h.sched.SetCandidates(candidateList(100))

	release := h.blockWorkers(t, 1)
	defer release()

	h.sched.OnNavigate(10)
	issued := h.sched.Stats().Issued

	h.sched.OnNavigate(10)
	h.sched.OnNavigate(10)

	if got := h.sched.Stats().Issued; got != issued {
		t.Errorf("issued = %d after repeats, want %d", got, issued)
	}
}

// Jumping from position 10 to 500 cancels the still-queued prefetches of
// the old window and enqueues the new one.
func TestNavigateFarCancelsOldWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForwardWindow = 4
	cfg.BackwardWindow = 0
	h := newHarness(t, cfg, 1)
	h.sched.SetCandidates(candidateList(1000))

	release := h.blockWorkers(t, 1)
	defer release()

	h.sched.OnNavigate(10)
	for _, pos := range []int{11, 12, 13} {
		waitState(t, h.coord, idAt(pos), fetch.StateQueued)
	}

	h.sched.OnNavigate(500)

	for _, pos := range []int{11, 12, 13} {
		if got := h.coord.StateOf(idAt(pos)); got != fetch.StateNotStarted {
			t.Errorf("old window position %d state = %v, want cancelled away", pos, got)
		}
	}
	for _, pos := range []int{501, 502, 503} {
		if got := h.coord.StateOf(idAt(pos)); got != fetch.StateQueued {
			t.Errorf("new window position %d state = %v, want queued", pos, got)
		}
	}
	if got := h.sched.Stats().CancelledByWin; got < 3 {
		t.Errorf("CancelledByWin = %d, want >= 3", got)
	}
}

// Items already complete in the cache are not prefetched again.
func TestSkipsCompleteItems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForwardWindow = 4
	cfg.BackwardWindow = 0
	h := newHarness(t, cfg, 1)
	h.sched.SetCandidates(candidateList(100))

	if err := h.cache.Put(&cache.Record{
		ID:        idAt(11),
		Data:      []byte{1},
		TotalSize: 1,
	}, cache.PutOptions{}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	release := h.blockWorkers(t, 1)
	defer release()

	h.sched.OnNavigate(10)

	if got := h.coord.StateOf(idAt(11)); got != fetch.StateNotStarted {
		t.Errorf("cached item state = %v, want no request", got)
	}
	for _, pos := range []int{12, 13} {
		if got := h.coord.StateOf(idAt(pos)); got != fetch.StateQueued {
			t.Errorf("position %d state = %v, want queued", pos, got)
		}
	}
}

// Backward-window items already seen are skipped when RefetchBackward is
// off.
func TestBackwardRefetchPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForwardWindow = 2
	cfg.BackwardWindow = 2
	cfg.RefetchBackward = false
	h := newHarness(t, cfg, 1)
	h.sched.SetCandidates(candidateList(100))

	release := h.blockWorkers(t, 1)
	defer release()

	h.sched.OnNavigate(5) // marks position 5 seen
	h.sched.OnNavigate(6) // backward window is now [4,5]

	if got := h.coord.StateOf(idAt(5)); got != fetch.StateNotStarted {
		t.Errorf("seen backward item state = %v, want skipped", got)
	}
	if got := h.coord.StateOf(idAt(4)); got != fetch.StateQueued {
		t.Errorf("unseen backward item state = %v, want queued", got)
	}
}

// Queue saturation shrinks the forward window down to its floor.
func TestWindowShrinksUnderSaturation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForwardWindow = 6
	cfg.BackwardWindow = 0
	cfg.MinWindow = 2
	cfg.ShrinkStep = 2
	cfg.Workers = 1
	cfg.SaturationFactor = 1
	h := newHarness(t, cfg, 1)
	h.sched.SetCandidates(candidateList(1000))

	release := h.blockWorkers(t, 1)
	defer release()

	h.sched.OnNavigate(10) // queues five prefetches, over the 1x1 threshold
	h.sched.OnNavigate(20) // adaptive pass sees the saturation

	if got := h.sched.Stats().ForwardWindow; got != 4 {
		t.Errorf("ForwardWindow = %d, want 4 after one shrink", got)
	}
}

// Comfortable lead times grow the window within its cap.
func TestWindowGrowsOnEarlyCompletion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForwardWindow = 4
	cfg.MaxWindow = 8
	cfg.GrowStep = 2
	cfg.SampleSize = 4
	h := newHarness(t, cfg, 1)
	h.sched.SetCandidates(candidateList(100))

	// Feed the measurements directly: leads far above latency.
	h.sched.mu.Lock()
	h.sched.leadSamples = []float64{400, 500}
	h.sched.latencySamples = []float64{50, 60}
	h.sched.adaptLocked()
	wf := h.sched.wf
	h.sched.mu.Unlock()

	if wf != 6 {
		t.Errorf("wf = %d, want 6 after one grow step", wf)
	}
}

// A candidate-list swap cancels queued prefetches from the old stream.
func TestSetCandidatesInvalidatesWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForwardWindow = 3
	cfg.BackwardWindow = 0
	h := newHarness(t, cfg, 1)
	h.sched.SetCandidates(candidateList(100))

	release := h.blockWorkers(t, 1)
	defer release()

	h.sched.OnNavigate(10)
	for _, pos := range []int{11, 12} {
		waitState(t, h.coord, idAt(pos), fetch.StateQueued)
	}

	// New stream with entirely different identifiers.
	other := make([]booru.ItemID, 100)
	for i := range other {
		other[i] = booru.ItemID(5000 + i)
	}
	h.sched.SetCandidates(NewStaticCandidates(other))

	for _, pos := range []int{11, 12} {
		if got := h.coord.StateOf(idAt(pos)); got != fetch.StateNotStarted {
			t.Errorf("old stream position %d state = %v, want cancelled", pos, got)
		}
	}
	// Window recomputed against the new stream at the same position.
	if got := h.coord.StateOf(booru.ItemID(5011)); got != fetch.StateQueued {
		t.Errorf("new stream item state = %v, want queued", got)
	}
}

func TestStaticCandidates(t *testing.T) {
	c := candidateList(10)

	hood := c.Neighborhood(5, 3, 2)
	want := []booru.ItemID{idAt(5), idAt(6), idAt(7), idAt(3), idAt(4)}
	if len(hood) != len(want) {
		t.Fatalf("Neighborhood() = %v, want %v", hood, want)
	}
	for i := range want {
		if hood[i] != want[i] {
			t.Fatalf("Neighborhood() = %v, want %v", hood, want)
		}
	}

	// Clamped at both ends.
	if got := len(c.Neighborhood(0, 3, 2)); got != 3 {
		t.Errorf("clamped start returned %d ids, want 3", got)
	}
	if got := len(c.Neighborhood(9, 3, 0)); got != 1 {
		t.Errorf("clamped end returned %d ids, want 1", got)
	}

	if _, ok := c.At(-1); ok {
		t.Error("At(-1) should report out of range")
	}
	if id, ok := c.At(2); !ok || id != idAt(2) {
		t.Errorf("At(2) = %v %v", id, ok)
	}
}
