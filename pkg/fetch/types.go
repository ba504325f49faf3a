// Package fetch implements the download coordinator.
//
// The coordinator runs a bounded worker pool fed by per-priority queues.
// Interactive requests (user is waiting) are always dequeued before
// prefetch requests (speculative). Requests for the same item deduplicate
// onto a shared future, transfers resume from the last confirmed byte
// offset after transient failures, and completed records are handed to the
// tiered cache.
package fetch

import (
	"errors"
	"time"
)

// ============================================================================
// Priorities and States
// ============================================================================

// Priority distinguishes user-blocking fetches from speculative ones.
type Priority int

const (
	// PriorityPrefetch is speculative work issued by the preload scheduler.
	PriorityPrefetch Priority = iota
	// PriorityInteractive means the user is waiting for this item.
	PriorityInteractive
)

// String returns a string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityPrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// State is the fetch state of one identifier. Exactly one state exists per
// identifier at a time; transitions are serialized through the coordinator.
type State int

const (
	StateNotStarted State = iota
	StateQueued
	StateInProgress
	StateComplete
	StateFailed
	StateCancelled
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateQueued:
		return "queued"
	case StateInProgress:
		return "in_progress"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrCancelled is returned on futures of cancelled queued prefetches.
	ErrCancelled = errors.New("fetch cancelled")

	// ErrQueueFull is returned when a request cannot be enqueued.
	ErrQueueFull = errors.New("fetch queue full")

	// ErrStopped is returned on futures still queued at shutdown.
	ErrStopped = errors.New("coordinator stopped")

	// errAttemptTimeout marks expiry of the coordinator's own per-attempt
	// deadline. Unlike caller cancellation it is transient: the next
	// attempt resumes from the confirmed offset.
	errAttemptTimeout = errors.New("transfer attempt timed out")
)

// ============================================================================
// Configuration
// ============================================================================

// Config holds coordinator tuning knobs.
type Config struct {
	// Workers is the number of concurrent transfer goroutines.
	// Default: 4
	Workers int

	// QueueSize is the capacity of each priority queue.
	// Default: 256
	QueueSize int

	// MaxRetries bounds retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	// Default: 500ms
	InitialBackoff time.Duration

	// BackoffMultiplier scales the delay for each further retry.
	// Default: 2.0
	BackoffMultiplier float64

	// MaxBackoff caps the retry delay.
	// Default: 60s
	MaxBackoff time.Duration

	// TransferTimeout bounds a single transfer attempt. Expiry counts as
	// a transient failure.
	// Default: 2m
	TransferTimeout time.Duration
}

// DefaultConfig returns sensible coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		QueueSize:         256,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        60 * time.Second,
		TransferTimeout:   2 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = def.TransferTimeout
	}
}

// ============================================================================
// Statistics
// ============================================================================

// Stats contains coordinator counters for observability.
type Stats struct {
	PendingInteractive int    `json:"pending_interactive"`
	PendingPrefetch    int    `json:"pending_prefetch"`
	InFlight           int    `json:"in_flight"`
	Completed          uint64 `json:"completed"`
	Failed             uint64 `json:"failed"`
	Cancelled          uint64 `json:"cancelled"`
}

// Metrics provides observability for transfer operations.
//
// This is optional - if not provided, metrics collection is skipped.
type Metrics interface {
	// RecordQueueDepth records the pending count of one priority queue.
	RecordQueueDepth(priority Priority, depth int)

	// RecordTransfer records a completed transfer.
	RecordTransfer(bytes int64, duration time.Duration)

	// RecordRetry records a retry attempt.
	RecordRetry()

	// RecordFailure records a transfer that exhausted its retries.
	RecordFailure()
}
