package locking

import (
	"context"
	"sync"
	"time"

	"github.com/jathurchan/grouplock/types"
)

// clientLockHost is the view of the Service a clientLock uses to talk to the
// server replica and to clean itself out of the registry.
type clientLockHost interface {
	sendGrantLockRequest(lockName string, owner types.Owner, timeoutMillis int64, isTryLock bool)
	sendReleaseLockRequest(lockName string, owner types.Owner)
	removeClientLock(lockName string, owner types.Owner)
	notifyLockDeleted(lockName string)
}

// clientLock is the requester-side state for one (lock name, owner) pair. It
// turns the asynchronous grant/deny responses of the server replica into the
// blocking-mutex contract exposed by Mutex.
//
// The monitor-plus-condition idiom: waiters read the current wake channel
// under cl.mu, release the mutex, and block on the channel. Every state
// change closes the channel and installs a fresh one, which wakes all
// waiters at once; each re-checks acquired/denied under the mutex, guarding
// against spurious wakeups and grant/cancel races.
type clientLock struct {
	mu   sync.Mutex
	wake chan struct{}

	name  string
	owner types.Owner // set while a request is in flight or the lock is held

	acquired bool
	denied   bool

	isTryLock     bool
	timeoutMillis int64

	host  clientLockHost
	clock Clock
}

func newClientLock(name string, host clientLockHost, clock Clock) *clientLock {
	return &clientLock{
		name:  name,
		wake:  make(chan struct{}),
		host:  host,
		clock: clock,
	}
}

// lock blocks until the lock is granted. There is no way to abandon the
// wait; use lockContext for a cancellable acquire.
func (cl *clientLock) lock(owner types.Owner) {
	cl.mu.Lock()
	if cl.acquired {
		cl.mu.Unlock()
		return
	}
	cl.owner = owner
	cl.host.sendGrantLockRequest(cl.name, owner, 0, false)

	for !cl.acquired {
		ch := cl.wake
		cl.mu.Unlock()
		<-ch
		cl.mu.Lock()
	}
	cl.mu.Unlock()
}

// lockContext blocks until the lock is granted or ctx is done. If the grant
// arrives while the cancellation is being observed, the grant wins and the
// lock is held. Otherwise the pending request is retracted with a
// RELEASE_LOCK and ctx.Err() is returned.
func (cl *clientLock) lockContext(ctx context.Context, owner types.Owner) error {
	cl.mu.Lock()
	if cl.acquired {
		cl.mu.Unlock()
		return nil
	}
	cl.owner = owner
	cl.host.sendGrantLockRequest(cl.name, owner, 0, false)

	for !cl.acquired {
		ch := cl.wake
		cl.mu.Unlock()
		select {
		case <-ch:
			cl.mu.Lock()
		case <-ctx.Done():
			cl.mu.Lock()
			if cl.acquired {
				break
			}
			cl.unlockLocked(true)
			cl.mu.Unlock()
			return ctx.Err()
		}
	}
	cl.mu.Unlock()
	return nil
}

// tryLock sends a non-blocking grant request and waits for the server's
// verdict. The round-trip itself is synchronous; a contended lock comes back
// as an immediate LOCK_DENIED.
func (cl *clientLock) tryLock(owner types.Owner) bool {
	cl.mu.Lock()
	if cl.denied {
		cl.mu.Unlock()
		return false
	}
	if !cl.acquired {
		cl.isTryLock = true
		cl.timeoutMillis = 0
		cl.owner = owner
		cl.host.sendGrantLockRequest(cl.name, owner, 0, true)

		for !cl.acquired && !cl.denied {
			ch := cl.wake
			cl.mu.Unlock()
			<-ch
			cl.mu.Lock()
		}
	}
	ok := cl.acquired && !cl.denied
	if !ok {
		cl.unlockLocked(true)
	}
	cl.mu.Unlock()
	return ok
}

// tryLockTimeout waits up to timeout for the grant. On expiry the pending
// request is withdrawn with a RELEASE_LOCK and false is returned. A grant
// that slips in after the deadline but before the withdrawal is handed back
// immediately by the forced unlock, so the server never stays stuck on a
// requester that gave up.
func (cl *clientLock) tryLockTimeout(ctx context.Context, timeout time.Duration, owner types.Owner) (bool, error) {
	cl.mu.Lock()
	if cl.denied {
		cl.mu.Unlock()
		return false, nil
	}
	if !cl.acquired {
		millis := timeout.Milliseconds()
		cl.isTryLock = true
		cl.timeoutMillis = millis
		cl.owner = owner
		cl.host.sendGrantLockRequest(cl.name, owner, millis, true)

		deadline := cl.clock.Now().Add(timeout)
		for !cl.acquired && !cl.denied {
			remaining := deadline.Sub(cl.clock.Now())
			if remaining <= 0 {
				break
			}
			cl.timeoutMillis = remaining.Milliseconds()
			ch := cl.wake
			cl.mu.Unlock()

			timer := cl.clock.NewTimer(remaining)
			cancelled := false
			select {
			case <-ch:
			case <-timer.Chan():
			case <-ctx.Done():
				cancelled = true
			}
			timer.Stop()

			cl.mu.Lock()
			if cancelled {
				if !cl.acquired && !cl.denied {
					cl.unlockLocked(true)
					cl.mu.Unlock()
					return false, ctx.Err()
				}
				break // already resolved; the outcome wins over cancellation
			}
		}
	}
	ok := cl.acquired && !cl.denied
	if !ok {
		// Covers the timeout-lost-to-race case: if a grant arrived after the
		// wait gave up, this tells the server to hand the lock on.
		cl.unlockLocked(true)
	}
	cl.mu.Unlock()
	return ok, nil
}

// unlock releases the lock. It is a no-op on a handle that is neither held
// nor denied, including one whose request is still in flight; retracting a
// pending request is done by the forced teardown of the cancellable paths.
func (cl *clientLock) unlock() {
	cl.mu.Lock()
	cl.unlockLocked(false)
	cl.mu.Unlock()
}

// unlockLocked tears the handle down: tell the server, clear the flags, wake
// any waiters, and drop the registry entry. Must be called with cl.mu held.
func (cl *clientLock) unlockLocked(force bool) {
	if !cl.acquired && !cl.denied && !force {
		return
	}
	cl.timeoutMillis = 0
	cl.isTryLock = false
	if !cl.owner.IsZero() {
		cl.host.sendReleaseLockRequest(cl.name, cl.owner)
	}
	cl.acquired, cl.denied = false, false
	cl.broadcastLocked()

	cl.host.removeClientLock(cl.name, cl.owner)
	cl.host.notifyLockDeleted(cl.name)
	cl.owner = types.Owner{}
}

// lockGranted resolves the handle as held. Idempotent: a duplicate grant
// only re-wakes the waiters.
func (cl *clientLock) lockGranted() {
	cl.mu.Lock()
	cl.acquired = true
	cl.broadcastLocked()
	cl.mu.Unlock()
}

// lockDenied resolves the handle as rejected.
func (cl *clientLock) lockDenied() {
	cl.mu.Lock()
	cl.denied = true
	cl.broadcastLocked()
	cl.mu.Unlock()
}

// isHeld reports whether the lock is currently held through this handle.
func (cl *clientLock) isHeld() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.acquired && !cl.denied
}

// broadcastLocked wakes every waiter by closing the current wake channel and
// installing a fresh one. Must be called with cl.mu held.
func (cl *clientLock) broadcastLocked() {
	close(cl.wake)
	cl.wake = make(chan struct{})
}
