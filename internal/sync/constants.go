package sync

import "time"

// Scheduler and executor defaults. Config may override all of these.
const (
	// DefaultBatchSize is the maximum ordinary-class items per cycle.
	DefaultBatchSize = 5

	// DefaultCycleInterval is the sleep between scheduler cycles.
	DefaultCycleInterval = time.Second

	// DefaultMaxRetries is the per-item retry cap for retryable failures.
	DefaultMaxRetries = 2

	// DefaultClientCooldown pauses the rate-limited request class when the
	// server does not say how long to back off.
	DefaultClientCooldown = time.Minute

	// DefaultStatusPollInterval is the backoff tracker cycle.
	DefaultStatusPollInterval = 2 * time.Second

	// DefaultStatusBaseBackoff is the initial backoffTime of a status item.
	DefaultStatusBaseBackoff = 10 * time.Second

	// DefaultResyncInterval bounds status-item backoff: an item whose
	// backoffTime exceeds it is dropped, a later history sync catches it.
	DefaultResyncInterval = 15 * time.Minute
)
