package preload

import (
	"sync"
	"time"

	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/cache"
	"github.com/moeview/moeview/pkg/events"
	"github.com/moeview/moeview/pkg/fetch"
)

// Config holds the window sizing policy knobs.
type Config struct {
	// ForwardWindow is the initial forward window length Wf.
	// Default: 6
	ForwardWindow int

	// BackwardWindow is the backward window length Wb.
	// Default: 2
	BackwardWindow int

	// MinWindow and MaxWindow bound the adaptive forward window.
	// Defaults: 2 and 16.
	MinWindow int
	MaxWindow int

	// GrowStep and ShrinkStep are the adaptive increments.
	// Default: 2 each.
	GrowStep   int
	ShrinkStep int

	// LeadFactor grows the window when the mean lead time of recent
	// prefetches (completion to first use) exceeds LeadFactor times the
	// mean transfer latency.
	// Default: 2.0
	LeadFactor float64

	// SaturationFactor shrinks the window when queued prefetches exceed
	// SaturationFactor times the worker count.
	// Default: 4
	SaturationFactor int

	// Workers is the coordinator's worker count, used for the
	// saturation thresholds.
	// Default: 4
	Workers int

	// SampleSize is how many recent prefetch completions the adaptive
	// decisions consider.
	// Default: 8
	SampleSize int

	// RefetchBackward also prefetches backward-window items the user has
	// already seen (re-fetching them if evicted). When false, backward
	// prefetch covers only never-seen items.
	// Default: true
	RefetchBackward bool
}

// DefaultConfig returns the documented default policy.
func DefaultConfig() Config {
	return Config{
		ForwardWindow:    6,
		BackwardWindow:   2,
		MinWindow:        2,
		MaxWindow:        16,
		GrowStep:         2,
		ShrinkStep:       2,
		LeadFactor:       2.0,
		SaturationFactor: 4,
		Workers:          4,
		SampleSize:       8,
		RefetchBackward:  true,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ForwardWindow <= 0 {
		c.ForwardWindow = def.ForwardWindow
	}
	if c.BackwardWindow < 0 {
		c.BackwardWindow = def.BackwardWindow
	}
	if c.MinWindow <= 0 {
		c.MinWindow = def.MinWindow
	}
	if c.MaxWindow < c.MinWindow {
		c.MaxWindow = def.MaxWindow
	}
	if c.GrowStep <= 0 {
		c.GrowStep = def.GrowStep
	}
	if c.ShrinkStep <= 0 {
		c.ShrinkStep = def.ShrinkStep
	}
	if c.LeadFactor <= 0 {
		c.LeadFactor = def.LeadFactor
	}
	if c.SaturationFactor <= 0 {
		c.SaturationFactor = def.SaturationFactor
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.SampleSize <= 0 {
		c.SampleSize = def.SampleSize
	}
}

// Stats reports the scheduler's current window and measurements.
type Stats struct {
	Position       int     `json:"position"`
	ForwardWindow  int     `json:"forward_window"`
	BackwardWindow int     `json:"backward_window"`
	Tracked        int     `json:"tracked"`
	Issued         uint64  `json:"issued"`
	CancelledByWin uint64  `json:"cancelled_by_window"`
	MeanLeadMs     float64 `json:"mean_lead_ms"`
	MeanLatencyMs  float64 `json:"mean_latency_ms"`
}

// prefetchTrace follows one issued prefetch from request to first use.
type prefetchTrace struct {
	requestedAt time.Time
	completedAt time.Time
	bytes       int64
	done        bool
}

// Scheduler drives speculative fetches around the current position.
type Scheduler struct {
	coord *fetch.Coordinator
	cache *cache.TieredCache
	bus   *events.Bus // optional
	cfg   Config

	mu         sync.Mutex
	candidates CandidateList
	pos        int
	navigated  bool
	wf         int

	// traces holds issued prefetches: in-flight ones and completed ones
	// awaiting their first use (for lead-time measurement).
	traces map[booru.ItemID]*prefetchTrace
	seen   map[booru.ItemID]bool

	leadSamples    []float64 // milliseconds, ring of SampleSize
	latencySamples []float64
	peakThroughput float64 // bytes/s EWMA peak
	throughputEWMA float64

	issued         uint64
	cancelledByWin uint64
}

// NewScheduler creates a scheduler. The bus is optional.
func NewScheduler(coord *fetch.Coordinator, c *cache.TieredCache, bus *events.Bus, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		coord:  coord,
		cache:  c,
		bus:    bus,
		cfg:    cfg,
		wf:     cfg.ForwardWindow,
		traces: make(map[booru.ItemID]*prefetchTrace),
		seen:   make(map[booru.ItemID]bool),
	}
}

// SetCandidates replaces the candidate list, for example after the filter
// criteria change. Still-queued prefetches from the old window are
// cancelled and the window is recomputed at the current position.
func (s *Scheduler) SetCandidates(c CandidateList) {
	s.mu.Lock()
	s.candidates = c
	for id := range s.traces {
		if s.coord.Cancel(id) {
			s.cancelledByWin++
		}
		delete(s.traces, id)
	}
	s.seen = make(map[booru.ItemID]bool)
	pos := s.pos
	navigated := s.navigated
	s.mu.Unlock()

	if navigated {
		s.recompute(pos, true)
	}
}

// OnNavigate updates the current position and recomputes the prefetch
// window. Repeated calls with an unchanged position are no-ops, so the
// navigation path stays idempotent and issues no duplicate requests.
func (s *Scheduler) OnNavigate(pos int) {
	s.mu.Lock()
	if s.candidates == nil || (s.navigated && pos == s.pos) {
		s.mu.Unlock()
		return
	}
	s.navigated = true
	s.pos = pos
	if id, ok := s.candidates.At(pos); ok {
		s.seen[id] = true
		s.recordUseLocked(id)
	}
	s.mu.Unlock()

	s.recompute(pos, false)
}

// recompute rebuilds the window around pos: cancels still-queued
// prefetches that fell outside, issues requests for uncovered items, and
// applies the adaptive sizing policy.
func (s *Scheduler) recompute(pos int, force bool) {
	s.mu.Lock()
	if s.candidates == nil {
		s.mu.Unlock()
		return
	}

	s.adaptLocked()

	forward := s.candidates.Neighborhood(pos, s.wf, 0)
	backward := s.candidates.Neighborhood(pos, 0, s.cfg.BackwardWindow)

	inWindow := make(map[booru.ItemID]bool, len(forward)+len(backward))
	for _, id := range forward {
		inWindow[id] = true
	}
	for _, id := range backward {
		if !s.cfg.RefetchBackward && s.seen[id] {
			continue
		}
		inWindow[id] = true
	}

	// Out-of-window cleanup: cancel what is still queued. In-flight
	// transfers soft-cancel on their own; completed traces the user
	// never reached are dropped without a lead sample.
	for id, trace := range s.traces {
		if inWindow[id] {
			continue
		}
		if trace.done {
			delete(s.traces, id)
			continue
		}
		if s.coord.Cancel(id) {
			s.cancelledByWin++
			delete(s.traces, id)
		}
	}

	var issue []booru.ItemID
	current, _ := s.candidates.At(pos)
	for id := range inWindow {
		if id == current {
			continue // the interactive path owns the current item
		}
		if _, tracked := s.traces[id]; tracked {
			continue
		}
		if s.cache.IsComplete(id) {
			continue
		}
		if s.coord.StateOf(id) != fetch.StateNotStarted {
			continue
		}
		issue = append(issue, id)
	}

	for _, id := range issue {
		s.traces[id] = &prefetchTrace{requestedAt: time.Now()}
		s.issued++
	}
	wf := s.wf
	s.mu.Unlock()

	for _, id := range issue {
		future := s.coord.Request(id, fetch.PriorityPrefetch)
		go s.watch(id, future)
	}

	if len(issue) > 0 || force {
		logger.Debug("prefetch window recomputed",
			logger.KeyPosition, pos,
			logger.KeyWindow, wf,
			logger.KeyCount, len(issue))
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.WindowChanged, Position: pos, WindowSize: wf})
	}
}

// watch records completion measurements for one issued prefetch. Errors
// are dropped: a failed prefetch may be retried opportunistically by a
// later recompute that includes the item again.
func (s *Scheduler) watch(id booru.ItemID, future *fetch.Future) {
	<-future.Done()
	rec, err := future.Result()

	s.mu.Lock()
	defer s.mu.Unlock()

	trace, ok := s.traces[id]
	if !ok {
		return
	}
	if err != nil {
		delete(s.traces, id)
		return
	}

	trace.done = true
	trace.completedAt = time.Now()
	trace.bytes = int64(len(rec.Data))

	latency := trace.completedAt.Sub(trace.requestedAt)
	s.latencySamples = appendSample(s.latencySamples, float64(latency.Milliseconds()), s.cfg.SampleSize)

	if secs := latency.Seconds(); secs > 0 {
		sample := float64(trace.bytes) / secs
		if s.throughputEWMA == 0 {
			s.throughputEWMA = sample
		} else {
			s.throughputEWMA = 0.7*s.throughputEWMA + 0.3*sample
		}
		if s.throughputEWMA > s.peakThroughput {
			s.peakThroughput = s.throughputEWMA
		}
	}
}

// recordUseLocked measures lead time when navigation reaches an item
// whose prefetch already completed. Caller must hold s.mu.
func (s *Scheduler) recordUseLocked(id booru.ItemID) {
	trace, ok := s.traces[id]
	if !ok || !trace.done {
		return
	}
	lead := time.Since(trace.completedAt)
	s.leadSamples = appendSample(s.leadSamples, float64(lead.Milliseconds()), s.cfg.SampleSize)
	delete(s.traces, id)
}

// adaptLocked applies the window sizing policy. Caller must hold s.mu.
//
// Grow when recent prefetches complete well ahead of use and the queue
// has headroom; shrink when the coordinator saturates or throughput
// collapses. Wf stays within [MinWindow, MaxWindow].
func (s *Scheduler) adaptLocked() {
	queued := s.coord.QueuedPrefetches()

	if queued > s.cfg.SaturationFactor*s.cfg.Workers ||
		(s.peakThroughput > 0 && s.throughputEWMA < 0.5*s.peakThroughput) {
		if s.wf-s.cfg.ShrinkStep >= s.cfg.MinWindow {
			s.wf -= s.cfg.ShrinkStep
			logger.Debug("prefetch window shrunk", logger.KeyWindow, s.wf)
		}
		return
	}

	meanLead := mean(s.leadSamples)
	meanLatency := mean(s.latencySamples)
	if len(s.leadSamples) >= s.cfg.SampleSize/2 && meanLatency > 0 &&
		meanLead > s.cfg.LeadFactor*meanLatency && queued < s.cfg.Workers {
		if s.wf+s.cfg.GrowStep <= s.cfg.MaxWindow {
			s.wf += s.cfg.GrowStep
			logger.Debug("prefetch window grown", logger.KeyWindow, s.wf)
		}
	}
}

// Stats returns the scheduler's current state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Position:       s.pos,
		ForwardWindow:  s.wf,
		BackwardWindow: s.cfg.BackwardWindow,
		Tracked:        len(s.traces),
		Issued:         s.issued,
		CancelledByWin: s.cancelledByWin,
		MeanLeadMs:     mean(s.leadSamples),
		MeanLatencyMs:  mean(s.latencySamples),
	}
}

func appendSample(samples []float64, v float64, max int) []float64 {
	samples = append(samples, v)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
