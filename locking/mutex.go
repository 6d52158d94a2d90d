package locking

import (
	"context"
	"time"

	"github.com/jathurchan/grouplock/types"
)

// Mutex is a handle on a named distributed lock for one owner. It exposes a
// blocking-mutex contract over the asynchronous request/response protocol:
// at most one owner across the whole group holds a given name at a time, and
// contenders are served in arrival order.
//
// The handle is a thin key; the underlying per-(name, owner) state lives in
// the service registry and is created on the first operation and removed by
// Unlock. Two handles for the same name and owner therefore resolve to the
// same lock state, which is what makes a repeated Lock by the holder an
// immediate re-grant.
//
// A Mutex is safe for concurrent use, but like any mutex, calling Lock twice
// without an Unlock in between just re-grants; it does not count.
type Mutex struct {
	svc     *Service
	name    string
	ownerID uint64
}

// Mutex returns a handle on a named lock with a freshly allocated owner
// identity. The name must be non-empty; it is the group-wide key of the
// lock. Handles with distinct owners contend with each other even within
// one process.
func (s *Service) Mutex(name string) *Mutex {
	return &Mutex{svc: s, name: name, ownerID: s.ownerSeq.Add(1)}
}

// MutexForOwner returns a handle bound to an explicit owner identity.
// Handles created with the same name and owner ID share lock state, so a
// holder can be released from a different goroutine, or re-lock without
// queueing behind itself.
func (s *Service) MutexForOwner(name string, ownerID uint64) *Mutex {
	return &Mutex{svc: s, name: name, ownerID: ownerID}
}

// Name returns the lock name.
func (m *Mutex) Name() string { return m.name }

// OwnerID returns the owner identity the handle operates as.
func (m *Mutex) OwnerID() uint64 { return m.ownerID }

// Lock acquires the lock, blocking until it is granted. The wait cannot be
// abandoned; use LockContext when the caller may need to give up.
func (m *Mutex) Lock() {
	owner := m.owner()
	m.svc.getClientLock(m.name, owner, true).lock(owner)
}

// LockContext acquires the lock, blocking until it is granted or ctx is
// done. If the grant and the cancellation race, the grant wins and nil is
// returned with the lock held. On cancellation the pending request is
// withdrawn from the server before ctx.Err() is returned.
func (m *Mutex) LockContext(ctx context.Context) error {
	owner := m.owner()
	return m.svc.getClientLock(m.name, owner, true).lockContext(ctx, owner)
}

// TryLock acquires the lock only if it is free. It reports the server's
// verdict after one round-trip; a held lock comes back false without
// queueing.
func (m *Mutex) TryLock() bool {
	owner := m.owner()
	return m.svc.getClientLock(m.name, owner, true).tryLock(owner)
}

// TryLockTimeout acquires the lock, waiting up to timeout for the holder to
// release it. It returns false once the timeout expires, after withdrawing
// the queued request. Cancelling ctx before the outcome is known withdraws
// the request and returns ctx.Err().
func (m *Mutex) TryLockTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	owner := m.owner()
	return m.svc.getClientLock(m.name, owner, true).tryLockTimeout(ctx, timeout, owner)
}

// Unlock releases the lock. Unlocking a lock that is not held is a no-op,
// also while a request from this owner is still waiting for its grant.
func (m *Mutex) Unlock() {
	if cl := m.svc.getClientLock(m.name, m.owner(), false); cl != nil {
		cl.unlock()
	}
}

// IsHeld reports whether the lock is currently held through this handle's
// owner.
func (m *Mutex) IsHeld() bool {
	cl := m.svc.getClientLock(m.name, m.owner(), false)
	return cl != nil && cl.isHeld()
}

func (m *Mutex) owner() types.Owner {
	return types.Owner{Addr: m.svc.LocalAddress(), ID: m.ownerID}
}
