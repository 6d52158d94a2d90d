package locking

// Metrics defines the interface for recording metrics related to the lock
// protocol. All methods must be safe for concurrent use.
type Metrics interface {
	// IncrGrantRequest increments counters for GRANT_LOCK requests handled by
	// the server side. `granted` indicates an immediate grant (including the
	// idempotent re-grant to the current owner); `queued` indicates the
	// requester entered the waiter queue.
	IncrGrantRequest(lockName string, granted bool, queued bool)

	// IncrDeniedTryLock increments counters for non-blocking try-locks
	// rejected because the lock was held.
	IncrDeniedTryLock(lockName string)

	// IncrReleaseRequest increments counters for RELEASE_LOCK requests,
	// whether they unlocked the holder or withdrew a queued waiter.
	IncrReleaseRequest(lockName string)

	// IncrViewEviction increments counters when a view change clears the
	// owner or drops waiters of a lock. `ownerLeft` is true if the holder's
	// member departed.
	IncrViewEviction(lockName string, droppedWaiters int, ownerLeft bool)

	// IncrDroppedMessage increments counters for messages the up-path
	// discarded (decode failures, unknown types, rate limiting).
	IncrDroppedMessage(reason string)

	// ObserveQueueSize records the size of a lock's waiter queue after a
	// server-side transition.
	ObserveQueueSize(lockName string, size int)

	// Reset clears all metrics.
	Reset()
}

// NoOpMetrics is a Metrics implementation that discards all measurements.
type NoOpMetrics struct{}

// NewNoOpMetrics returns a Metrics implementation that does nothing.
func NewNoOpMetrics() Metrics { return &NoOpMetrics{} }

func (m *NoOpMetrics) IncrGrantRequest(lockName string, granted bool, queued bool) {}
func (m *NoOpMetrics) IncrDeniedTryLock(lockName string)                           {}
func (m *NoOpMetrics) IncrReleaseRequest(lockName string)                          {}
func (m *NoOpMetrics) IncrViewEviction(lockName string, droppedWaiters int, ownerLeft bool) {
}
func (m *NoOpMetrics) IncrDroppedMessage(reason string)           {}
func (m *NoOpMetrics) ObserveQueueSize(lockName string, size int) {}
func (m *NoOpMetrics) Reset()                                     {}
