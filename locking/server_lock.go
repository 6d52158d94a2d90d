package locking

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jathurchan/grouplock/logger"
	"github.com/jathurchan/grouplock/types"
)

// serverLockHost is the view of the Service a serverLock uses to answer
// requesters and fan out notifications.
type serverLockHost interface {
	sendLockResponse(t types.RequestType, dest types.Owner, lockName string)
	notifyLocked(lockName string, owner types.Owner)
	notifyUnlocked(lockName string, owner types.Owner)
}

// serverLock is the authoritative state for one lock name on the member
// arbitrating it: the current owner plus a FIFO queue of pending GRANT_LOCK
// requests. A single monitor covers every operation on the lock.
type serverLock struct {
	mu sync.Mutex

	name         string
	currentOwner types.Owner // zero value = free
	queue        []types.Request

	host    serverLockHost
	logger  logger.Logger
	metrics Metrics
}

func newServerLock(name string, host serverLockHost, logger logger.Logger, metrics Metrics) *serverLock {
	return &serverLock{
		name:    name,
		host:    host,
		logger:  logger,
		metrics: metrics,
	}
}

// newServerLockWithOwner installs a lock whose owner is already known.
// Used when a coordinator replicates its state via CREATE_LOCK.
func newServerLockWithOwner(name string, owner types.Owner, host serverLockHost, logger logger.Logger, metrics Metrics) *serverLock {
	sl := newServerLock(name, host, logger, metrics)
	sl.currentOwner = owner
	return sl
}

// handleRequest arbitrates a GRANT_LOCK or RELEASE_LOCK request.
func (sl *serverLock) handleRequest(req types.Request) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	switch req.Type {
	case types.GrantLock:
		switch {
		case sl.currentOwner.IsZero():
			sl.setOwner(req.Owner)
			sl.host.sendLockResponse(types.LockGranted, req.Owner, req.LockName)
			sl.metrics.IncrGrantRequest(sl.name, true, false)
		case sl.currentOwner == req.Owner:
			// Retried request from the holder: re-grant, don't queue.
			sl.host.sendLockResponse(types.LockGranted, req.Owner, req.LockName)
			sl.metrics.IncrGrantRequest(sl.name, true, false)
		case req.IsTryLock && req.Timeout <= 0:
			sl.host.sendLockResponse(types.LockDenied, req.Owner, req.LockName)
			sl.metrics.IncrDeniedTryLock(sl.name)
		default:
			sl.addToQueue(req)
			sl.metrics.IncrGrantRequest(sl.name, false, true)
		}

	case types.ReleaseLock:
		sl.metrics.IncrReleaseRequest(sl.name)
		if sl.currentOwner.IsZero() {
			break
		}
		if sl.currentOwner == req.Owner {
			sl.setOwner(types.Owner{})
		} else {
			// A release from a non-holder withdraws its queued request.
			sl.addToQueue(req)
		}

	default:
		sl.logger.Errorw("Request type is invalid on the server side", "type", req.Type, "lock", sl.name)
	}

	sl.processQueue()
	sl.metrics.ObserveQueueSize(sl.name, len(sl.queue))
}

// handleView drops the owner and any waiters whose member is no longer in
// the view, then promotes the next waiter if the lock became free.
func (sl *serverLock) handleView(members []types.MemberAddress) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	ownerLeft := false
	if !sl.currentOwner.IsZero() && !contains(members, sl.currentOwner.Addr) {
		prev := sl.currentOwner
		sl.setOwner(types.Owner{})
		ownerLeft = true
		sl.logger.Debugw("Unlocked because the owner left", "lock", sl.name, "owner", prev)
	}

	dropped := 0
	kept := sl.queue[:0]
	for _, req := range sl.queue {
		if contains(members, req.Owner.Addr) {
			kept = append(kept, req)
		} else {
			dropped++
		}
	}
	sl.queue = kept

	if ownerLeft || dropped > 0 {
		sl.metrics.IncrViewEviction(sl.name, dropped, ownerLeft)
	}

	sl.processQueue()
}

// addToQueue merges a request into the waiter queue. Must be called with
// sl.mu held.
func (sl *serverLock) addToQueue(req types.Request) {
	if len(sl.queue) == 0 {
		if req.Type == types.GrantLock {
			sl.queue = append(sl.queue, req)
		}
		return // a RELEASE_LOCK is discarded on an empty queue
	}

	switch req.Type {
	case types.GrantLock:
		// A repeated request from an already-queued owner is discarded so
		// retries cannot bloat the queue or break FIFO fairness.
		if !sl.isRequestPresent(types.GrantLock, req.Owner) {
			sl.queue = append(sl.queue, req)
		}
	case types.ReleaseLock:
		// Withdraw the waiting request from the same owner, if any.
		sl.removeRequest(types.GrantLock, req.Owner)
	}
}

// isRequestPresent checks if a certain request from a given owner is already in the queue.
func (sl *serverLock) isRequestPresent(t types.RequestType, owner types.Owner) bool {
	for _, req := range sl.queue {
		if req.Type == t && req.Owner == owner {
			return true
		}
	}
	return false
}

func (sl *serverLock) removeRequest(t types.RequestType, owner types.Owner) {
	kept := sl.queue[:0]
	for _, req := range sl.queue {
		if !(req.Type == t && req.Owner == owner) {
			kept = append(kept, req)
		}
	}
	sl.queue = kept
}

// processQueue promotes the head waiter when the lock is free. Must be called
// with sl.mu held.
func (sl *serverLock) processQueue() {
	if !sl.currentOwner.IsZero() {
		return
	}
	for len(sl.queue) > 0 {
		req := sl.queue[0]
		sl.queue = sl.queue[1:]
		if req.Type == types.GrantLock {
			sl.setOwner(req.Owner)
			sl.host.sendLockResponse(types.LockGranted, req.Owner, req.LockName)
			break
		}
	}
}

// setOwner records an ownership transition and fires the matching
// notification. Must be called with sl.mu held.
func (sl *serverLock) setOwner(owner types.Owner) {
	if owner.IsZero() {
		if !sl.currentOwner.IsZero() {
			prev := sl.currentOwner
			sl.currentOwner = types.Owner{}
			sl.host.notifyUnlocked(sl.name, prev)
		}
		return
	}
	sl.currentOwner = owner
	sl.host.notifyLocked(sl.name, owner)
}

// unused reports whether the lock is free with no waiters; such locks are
// removed from the registry.
func (sl *serverLock) unused() bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.currentOwner.IsZero() && len(sl.queue) == 0
}

// owner returns the current holder (zero if free).
func (sl *serverLock) owner() types.Owner {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.currentOwner
}

// queueLen returns the number of queued waiters.
func (sl *serverLock) queueLen() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.queue)
}

func (sl *serverLock) String() string {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var b strings.Builder
	if sl.currentOwner.IsZero() {
		b.WriteString("<free>")
	} else {
		b.WriteString(sl.currentOwner.String())
	}
	if len(sl.queue) > 0 {
		b.WriteString(", queue: ")
		for _, req := range sl.queue {
			fmt.Fprintf(&b, "%s(%s) ", req.Owner, req.Type)
		}
	}
	return b.String()
}

func contains(members []types.MemberAddress, addr types.MemberAddress) bool {
	for _, m := range members {
		if m == addr {
			return true
		}
	}
	return false
}
