// Package viewer is the engine facade the presentation layer talks to.
//
// It ties the tiered cache, the download coordinator and the prefetch
// scheduler together behind two calls: Show for an explicit item and
// OnNavigate for position changes in the candidate stream. Show always
// returns a View immediately; the View resolves to a served record or a
// failure once the item is available.
package viewer

import (
	"context"
	"errors"
	"sync"

	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/cache"
	"github.com/moeview/moeview/pkg/events"
	"github.com/moeview/moeview/pkg/fetch"
	"github.com/moeview/moeview/pkg/preload"
)

var (
	// ErrNoCandidates is returned by OnNavigate before a candidate list
	// has been installed.
	ErrNoCandidates = errors.New("viewer: no candidate list")

	// ErrOutOfRange is returned for positions outside the candidate list.
	ErrOutOfRange = errors.New("viewer: position out of range")
)

// State tracks one view through its lifecycle.
type State int

const (
	StateRequested State = iota
	StateCacheHit
	StateCacheMiss
	StateFetching
	StateServed
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateCacheHit:
		return "cache_hit"
	case StateCacheMiss:
		return "cache_miss"
	case StateFetching:
		return "fetching"
	case StateServed:
		return "served"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// View is the placeholder handed out by Show. It resolves exactly once,
// either to a served record or to an error.
type View struct {
	Item booru.ItemID

	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	state State
	rec   *cache.Record
	err   error
}

func newView(id booru.ItemID) *View {
	return &View{Item: id, done: make(chan struct{}), state: StateRequested}
}

// State returns the view's current lifecycle state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Done is closed when the view has resolved.
func (v *View) Done() <-chan struct{} {
	return v.done
}

// Wait blocks until the view resolves or the context expires.
func (v *View) Wait(ctx context.Context) (*cache.Record, error) {
	select {
	case <-v.done:
		return v.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the resolved record or error. Only valid after Done.
func (v *View) Result() (*cache.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rec, v.err
}

func (v *View) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

func (v *View) resolve(rec *cache.Record, err error) {
	v.once.Do(func() {
		v.mu.Lock()
		v.rec = rec
		v.err = err
		if err != nil {
			v.state = StateFailed
		} else {
			v.state = StateServed
		}
		v.mu.Unlock()
		close(v.done)
	})
}

// Viewer coordinates cache, downloads and prefetch for the UI.
type Viewer struct {
	cache *cache.TieredCache
	coord *fetch.Coordinator
	sched *preload.Scheduler
	bus   *events.Bus // optional

	mu         sync.Mutex
	candidates preload.CandidateList
	pos        int
	navigated  bool
	current    *View
}

// New creates the facade. The bus is optional; scheduler may be nil when
// prefetch is disabled.
func New(coord *fetch.Coordinator, c *cache.TieredCache, sched *preload.Scheduler, bus *events.Bus) *Viewer {
	return &Viewer{cache: c, coord: coord, sched: sched, bus: bus}
}

// ProgressPublisher adapts coordinator progress callbacks to bus events.
// Pass the result as the coordinator's progress function.
func ProgressPublisher(bus *events.Bus) fetch.ProgressFunc {
	return func(id booru.ItemID, fetched, total int64) {
		bus.Publish(events.Event{
			Type:    events.FetchProgress,
			Item:    id,
			Fetched: fetched,
			Total:   total,
		})
	}
}

// SetCandidates installs the browsing stream, replacing any previous one.
func (v *Viewer) SetCandidates(c preload.CandidateList) {
	v.mu.Lock()
	v.candidates = c
	v.navigated = false
	v.current = nil
	v.mu.Unlock()

	if v.sched != nil {
		v.sched.SetCandidates(c)
	}
}

// OnNavigate moves to a position in the candidate stream and returns the
// view for the item there. Repeated calls with an unchanged position
// return the same view without issuing new work.
func (v *Viewer) OnNavigate(pos int) (*View, error) {
	v.mu.Lock()
	if v.candidates == nil {
		v.mu.Unlock()
		return nil, ErrNoCandidates
	}
	if v.navigated && pos == v.pos && v.current != nil {
		view := v.current
		v.mu.Unlock()
		return view, nil
	}
	id, ok := v.candidates.At(pos)
	if !ok {
		v.mu.Unlock()
		return nil, ErrOutOfRange
	}
	v.navigated = true
	v.pos = pos
	v.mu.Unlock()

	view := v.Show(id)

	v.mu.Lock()
	v.current = view
	v.mu.Unlock()

	if v.sched != nil {
		v.sched.OnNavigate(pos)
	}
	return view, nil
}

// Show returns a view for one item. Complete cached items serve
// immediately, disk hits are promoted to memory; anything else goes
// through the coordinator at interactive priority.
func (v *Viewer) Show(id booru.ItemID) *View {
	view := newView(id)

	if rec, ok := v.cache.Get(id); ok && rec.Complete() {
		view.setState(StateCacheHit)
		if rec.Tier == cache.TierDisk {
			v.cache.Promote(id)
		}
		view.resolve(rec, nil)
		v.publish(events.Event{Type: events.ItemServed, Item: id, Total: rec.TotalSize})
		logger.Debug("served from cache",
			logger.KeyItemID, id,
			logger.KeyTier, rec.Tier.String())
		return view
	}

	view.setState(StateCacheMiss)
	future := v.coord.Request(id, fetch.PriorityInteractive)
	view.setState(StateFetching)
	v.publish(events.Event{Type: events.FetchStarted, Item: id})

	go v.await(view, future)
	return view
}

// Current returns the view for the current position, nil before the
// first navigation.
func (v *Viewer) Current() *View {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Position returns the current position in the candidate stream.
func (v *Viewer) Position() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos
}

func (v *Viewer) await(view *View, future *fetch.Future) {
	<-future.Done()
	rec, err := future.Result()
	if err != nil {
		view.resolve(nil, err)
		v.publish(events.Event{Type: events.FetchFailed, Item: view.Item, Err: err})
		logger.Warn("fetch failed",
			logger.KeyItemID, view.Item,
			logger.KeyError, err)
		return
	}
	view.resolve(rec, nil)
	v.publish(events.Event{Type: events.ItemServed, Item: view.Item, Total: rec.TotalSize})
}

func (v *Viewer) publish(ev events.Event) {
	if v.bus != nil {
		v.bus.Publish(ev)
	}
}
