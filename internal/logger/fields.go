package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that logs can be
// filtered by item, tier, or transfer without guessing key names.
const (
	// Item and content
	KeyItemID = "item_id" // board post identifier
	KeyKind   = "kind"    // content kind: image, video, other
	KeySize   = "size"    // total content size in bytes
	KeyBytes  = "bytes"   // bytes handled by this operation
	KeyOffset = "offset"  // byte offset for range transfers

	// Cache
	KeyTier     = "tier"     // cache tier: memory, disk
	KeyResident = "resident" // bytes resident in a tier
	KeyBudget   = "budget"   // configured tier budget in bytes
	KeyEvicted  = "evicted"  // entries evicted by an operation

	// Transfers
	KeyPriority = "priority" // request priority: interactive, prefetch
	KeyState    = "state"    // fetch state
	KeyAttempt  = "attempt"  // retry attempt number
	KeyDelay    = "delay"    // backoff delay before next attempt
	KeyDuration = "duration" // elapsed time for an operation
	KeyURL      = "url"      // remote URL (file_url, sample_url)

	// Preload
	KeyPosition = "position" // position in the candidate list
	KeyWindow   = "window"   // prefetch window size

	// Generic
	KeyError = "error"
	KeyPath  = "path"
	KeyCount = "count"
)
