package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/booru"
	"github.com/moeview/moeview/pkg/cache"
)

// task is the single fetch state for one identifier. All fields below the
// mutex are guarded by it, which serializes state transitions per item.
type task struct {
	id     booru.ItemID
	future *Future

	mu            sync.Mutex
	priority      Priority
	state         State
	claimed       bool
	softCancelled bool
	offset        int64 // confirmed bytes received
	total         int64 // full content length, 0 until known
	kind          booru.Kind
	buf           []byte
}

// ProgressFunc receives transfer progress callbacks. It must not block.
type ProgressFunc func(id booru.ItemID, fetched, total int64)

// Coordinator executes fetches on a bounded worker pool with priority
// queues, deduplication, resumption and bounded retries.
type Coordinator struct {
	source  booru.Source
	cache   *cache.TieredCache
	cfg     Config
	metrics Metrics

	onProgress ProgressFunc

	interactive chan *task
	prefetch    chan *task

	mu                 sync.Mutex
	tasks              map[booru.ItemID]*task
	pendingInteractive int
	pendingPrefetch    int
	inFlight           int
	started            bool

	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewCoordinator creates a coordinator. Completed records are handed to
// the given cache; progress is optional.
func NewCoordinator(source booru.Source, c *cache.TieredCache, cfg Config, metrics Metrics, onProgress ProgressFunc) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		source:      source,
		cache:       c,
		cfg:         cfg,
		metrics:     metrics,
		onProgress:  onProgress,
		interactive: make(chan *task, cfg.QueueSize),
		prefetch:    make(chan *task, cfg.QueueSize),
		tasks:       make(map[booru.ItemID]*task),
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
}

// Start launches the worker pool.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	logger.Info("starting fetch coordinator", logger.KeyCount, c.cfg.Workers)

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	go func() {
		c.wg.Wait()
		close(c.stoppedCh)
	}()
}

// Stop signals workers to exit and waits up to timeout. Tasks still queued
// resolve their futures with ErrStopped; in-flight transfers finish.
func (c *Coordinator) Stop(timeout time.Duration) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	close(c.stopCh)

	select {
	case <-c.stoppedCh:
		logger.Info("fetch coordinator stopped")
	case <-time.After(timeout):
		logger.Warn("fetch coordinator stop timed out")
	}
}

// Request asks for an item at the given priority and returns the future
// that resolves with its terminal result.
//
// Deduplication: if a fetch for the item is already queued or in flight,
// the caller attaches to the existing future. An interactive request over
// an existing prefetch boosts it: a queued task moves to the interactive
// queue, an in-flight one only has its priority marker raised, never
// restarted.
func (c *Coordinator) Request(id booru.ItemID, priority Priority) *Future {
	c.mu.Lock()

	if t, ok := c.tasks[id]; ok {
		c.boostLocked(t, priority)
		c.mu.Unlock()
		return t.future
	}

	t := &task{
		id:       id,
		future:   newFuture(),
		priority: priority,
		state:    StateQueued,
	}
	c.tasks[id] = t
	c.mu.Unlock()

	if !c.enqueue(t, priority) {
		c.mu.Lock()
		delete(c.tasks, id)
		c.mu.Unlock()
		t.mu.Lock()
		t.state = StateFailed
		t.mu.Unlock()
		t.future.complete(nil, ErrQueueFull)
		return t.future
	}

	logger.Debug("fetch queued",
		logger.KeyItemID, int64(id),
		logger.KeyPriority, priority.String())
	return t.future
}

// boostLocked raises the priority of an existing task when a higher
// priority request arrives. Caller must hold c.mu.
func (c *Coordinator) boostLocked(t *task, priority Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if priority <= t.priority {
		return
	}

	switch t.state {
	case StateQueued:
		// Re-enqueue the same task on the interactive queue. The stale
		// pointer left in the prefetch queue is skipped on dequeue via
		// the claimed flag.
		t.priority = PriorityInteractive
		select {
		case c.interactive <- t:
			c.pendingInteractive++
			logger.Debug("queued prefetch boosted to interactive",
				logger.KeyItemID, int64(t.id))
		default:
			// Interactive queue full; the task still runs from the
			// prefetch queue at its old position.
			t.priority = PriorityPrefetch
		}

	case StateInProgress:
		// Never restart an in-flight transfer; only its priority marker
		// changes, and any pending soft-cancel is rescinded.
		t.priority = PriorityInteractive
		t.softCancelled = false
		logger.Debug("in-flight prefetch boosted",
			logger.KeyItemID, int64(t.id))
	}
}

// enqueue places a task on its priority queue. Returns false when full.
func (c *Coordinator) enqueue(t *task, priority Priority) bool {
	switch priority {
	case PriorityInteractive:
		select {
		case c.interactive <- t:
			c.mu.Lock()
			c.pendingInteractive++
			c.publishDepthLocked()
			c.mu.Unlock()
			return true
		default:
			logger.Warn("interactive queue full, dropping request",
				logger.KeyItemID, int64(t.id))
			return false
		}
	default:
		select {
		case c.prefetch <- t:
			c.mu.Lock()
			c.pendingPrefetch++
			c.publishDepthLocked()
			c.mu.Unlock()
			return true
		default:
			// Prefetch is best-effort, silently drop if full.
			return false
		}
	}
}

// Cancel cancels a still-queued prefetch. In-flight prefetches are
// soft-cancelled: the transfer finishes, but the result is cached at low
// recency and unpinned. Interactive requests are never cancelled.
// Returns true only when a queued prefetch was removed.
func (c *Coordinator) Cancel(id booru.ItemID) bool {
	c.mu.Lock()
	t, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return false
	}

	t.mu.Lock()
	if t.priority != PriorityPrefetch {
		t.mu.Unlock()
		c.mu.Unlock()
		return false
	}

	switch t.state {
	case StateQueued:
		t.state = StateCancelled
		t.mu.Unlock()
		delete(c.tasks, id)
		c.mu.Unlock()

		c.cancelled.Add(1)
		t.future.complete(nil, ErrCancelled)
		logger.Debug("queued prefetch cancelled", logger.KeyItemID, int64(id))
		return true

	case StateInProgress:
		t.softCancelled = true
		t.mu.Unlock()
		c.mu.Unlock()
		logger.Debug("in-flight prefetch soft-cancelled", logger.KeyItemID, int64(id))
		return false

	default:
		t.mu.Unlock()
		c.mu.Unlock()
		return false
	}
}

// StateOf reports the fetch state of an identifier.
func (c *Coordinator) StateOf(id booru.ItemID) State {
	c.mu.Lock()
	t, ok := c.tasks[id]
	c.mu.Unlock()
	if !ok {
		return StateNotStarted
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns current coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		PendingInteractive: c.pendingInteractive,
		PendingPrefetch:    c.pendingPrefetch,
		InFlight:           c.inFlight,
		Completed:          c.completed.Load(),
		Failed:             c.failed.Load(),
		Cancelled:          c.cancelled.Load(),
	}
}

// QueuedPrefetches returns the number of prefetch tasks not yet started,
// used by the preload scheduler for saturation decisions.
func (c *Coordinator) QueuedPrefetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingPrefetch
}

func (c *Coordinator) publishDepthLocked() {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordQueueDepth(PriorityInteractive, c.pendingInteractive)
	c.metrics.RecordQueueDepth(PriorityPrefetch, c.pendingPrefetch)
}

// ============================================================================
// Workers
// ============================================================================

// worker pulls tasks with a two-phase select so interactive work is always
// dequeued first without busy-waiting when queues are empty.
func (c *Coordinator) worker(id int) {
	defer c.wg.Done()

	logger.Debug("fetch worker started", logger.KeyCount, id)

	for {
		// Phase 1: check for interactive work (non-blocking)
		select {
		case t := <-c.interactive:
			c.dequeued(t, PriorityInteractive)
			continue
		default:
		}

		// Phase 2: wait for any work (blocking). An interactive request
		// arriving between the phases can lose this one select round to
		// a queued prefetch; the window is a few instructions wide and
		// the next free worker picks it up first.
		select {
		case t := <-c.interactive:
			c.dequeued(t, PriorityInteractive)
		case t := <-c.prefetch:
			c.dequeued(t, PriorityPrefetch)
		case <-c.stopCh:
			c.drain()
			logger.Debug("fetch worker stopped", logger.KeyCount, id)
			return
		}
	}
}

// drain fails remaining queued tasks at shutdown so no future is left
// unresolved.
func (c *Coordinator) drain() {
	for {
		select {
		case t := <-c.interactive:
			c.abandon(t, PriorityInteractive)
		case t := <-c.prefetch:
			c.abandon(t, PriorityPrefetch)
		default:
			return
		}
	}
}

func (c *Coordinator) abandon(t *task, from Priority) {
	c.decrementPending(from)

	t.mu.Lock()
	if t.claimed || t.state != StateQueued {
		t.mu.Unlock()
		return
	}
	t.claimed = true
	t.state = StateCancelled
	t.mu.Unlock()

	c.mu.Lock()
	delete(c.tasks, t.id)
	c.mu.Unlock()

	t.future.complete(nil, ErrStopped)
}

// dequeued claims a task pulled from one of the queues. Stale pointers
// (cancelled tasks, or the prefetch copy of a boosted task) are skipped.
func (c *Coordinator) dequeued(t *task, from Priority) {
	c.decrementPending(from)

	t.mu.Lock()
	if t.claimed || t.state != StateQueued {
		t.mu.Unlock()
		return
	}
	t.claimed = true
	t.state = StateInProgress
	t.mu.Unlock()

	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()

	c.execute(t)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

func (c *Coordinator) decrementPending(from Priority) {
	c.mu.Lock()
	if from == PriorityInteractive {
		c.pendingInteractive--
	} else {
		c.pendingPrefetch--
	}
	c.publishDepthLocked()
	c.mu.Unlock()
}

// ============================================================================
// Transfer execution
// ============================================================================

// execute runs the transfer with bounded retries and exponential backoff.
// Transient failures resume from the last confirmed offset; permanent ones
// fail immediately.
func (c *Coordinator) execute(t *task) {
	started := time.Now()

	// Fast path: another request may have completed this item already.
	if rec, ok := c.cache.Get(t.id); ok && rec.Complete() {
		t.mu.Lock()
		t.state = StateComplete
		t.mu.Unlock()
		c.resolveComplete(t, rec)
		return
	}

	// Placeholder marks the entry as being written; eviction skips it.
	_ = c.cache.Put(&cache.Record{ID: t.id}, cache.PutOptions{Pinned: true})

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt - 1)
			if c.metrics != nil {
				c.metrics.RecordRetry()
			}
			t.mu.Lock()
			offset := t.offset
			t.mu.Unlock()
			logger.Debug("retrying transfer",
				logger.KeyItemID, int64(t.id),
				logger.KeyAttempt, attempt,
				logger.KeyOffset, offset,
				logger.KeyDelay, backoff)

			select {
			case <-time.After(backoff):
			case <-c.stopCh:
				c.fail(t, ErrStopped)
				return
			}
		}

		err := c.transfer(t)
		if err == nil {
			c.finish(t, started)
			return
		}

		lastErr = err
		if !booru.IsRetryable(err) && !errors.Is(err, errAttemptTimeout) {
			break
		}
		logger.Debug("transient transfer error",
			logger.KeyItemID, int64(t.id),
			logger.KeyAttempt, attempt+1,
			logger.KeyError, err)
	}

	c.fail(t, fmt.Errorf("transfer failed after retries: %w", lastErr))
}

// calculateBackoff returns the backoff duration for a given attempt.
func (c *Coordinator) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.cfg.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= c.cfg.BackoffMultiplier
	}
	if backoff > float64(c.cfg.MaxBackoff) {
		backoff = float64(c.cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// transfer performs one attempt, appending received bytes to the task
// buffer. Resumed attempts request a range starting at the confirmed
// offset and never re-download bytes already held.
func (c *Coordinator) transfer(t *task) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TransferTimeout)
	defer cancel()

	err := c.attempt(ctx, t)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		// The expired deadline is the coordinator's own attempt bound,
		// not a caller cancellation; a stalled transfer must come back
		// as a transient failure.
		return fmt.Errorf("%w after %s: %w", errAttemptTimeout, c.cfg.TransferTimeout, err)
	}
	return err
}

func (c *Coordinator) attempt(ctx context.Context, t *task) error {
	meta, err := c.source.FetchMetadata(ctx, t.id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.kind = meta.Kind
	if t.total == 0 {
		t.total = meta.Size
	}
	start := t.offset
	t.mu.Unlock()

	res, err := c.source.FetchRange(ctx, t.id, start)
	if err != nil {
		return err
	}
	if res.Complete {
		// Offset is at the end of the file: previous attempts already
		// fetched everything.
		t.mu.Lock()
		t.total = res.TotalSize
		t.mu.Unlock()
		return nil
	}
	defer func() { _ = res.Body.Close() }()

	t.mu.Lock()
	if res.Start == 0 && start > 0 {
		// Server ignored the range request; restart from scratch.
		t.buf = t.buf[:0]
		t.offset = 0
	}
	if res.TotalSize > 0 {
		t.total = res.TotalSize
	}
	t.mu.Unlock()

	chunk := make([]byte, 128*1024)
	for {
		n, rerr := res.Body.Read(chunk)
		if n > 0 {
			t.mu.Lock()
			t.buf = append(t.buf, chunk[:n]...)
			t.offset += int64(n)
			fetched, total := t.offset, t.total
			t.mu.Unlock()

			if c.onProgress != nil {
				c.onProgress(t.id, fetched, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total > 0 && t.offset < t.total {
		// Short read without an error; treat as transient.
		return fmt.Errorf("short transfer: %d of %d bytes: %w", t.offset, t.total, io.ErrUnexpectedEOF)
	}
	if t.total == 0 {
		t.total = t.offset
	}
	return nil
}

// finish hands the completed record to the cache and resolves the future.
// Soft-cancelled prefetches are cached at low recency and never pinned.
func (c *Coordinator) finish(t *task, started time.Time) {
	t.mu.Lock()
	t.state = StateComplete
	rec := &cache.Record{
		ID:        t.id,
		Data:      t.buf,
		TotalSize: t.total,
		Kind:      t.kind,
	}
	soft := t.softCancelled
	t.mu.Unlock()

	opts := cache.PutOptions{LowRecency: soft}
	if err := c.cache.Put(rec, opts); err != nil {
		logger.Warn("failed to cache completed fetch",
			logger.KeyItemID, int64(t.id),
			logger.KeyError, err)
	}

	if c.metrics != nil {
		c.metrics.RecordTransfer(int64(len(rec.Data)), time.Since(started))
	}
	logger.Debug("transfer completed",
		logger.KeyItemID, int64(t.id),
		logger.KeyBytes, int64(len(rec.Data)),
		logger.KeyDuration, time.Since(started))

	c.resolveComplete(t, rec)
}

// resolveComplete removes the task and resolves its future with a record.
func (c *Coordinator) resolveComplete(t *task, rec *cache.Record) {
	c.mu.Lock()
	delete(c.tasks, t.id)
	c.mu.Unlock()

	c.completed.Add(1)
	t.future.complete(rec, nil)
}

// fail drops the pinned placeholder, removes the task and resolves its
// future with the terminal error.
func (c *Coordinator) fail(t *task, err error) {
	t.mu.Lock()
	t.state = StateFailed
	t.mu.Unlock()

	c.cache.Invalidate(t.id)

	c.mu.Lock()
	delete(c.tasks, t.id)
	c.mu.Unlock()

	c.failed.Add(1)
	if c.metrics != nil {
		c.metrics.RecordFailure()
	}
	logger.Warn("transfer failed",
		logger.KeyItemID, int64(t.id),
		logger.KeyError, err)

	t.future.complete(nil, err)
}
