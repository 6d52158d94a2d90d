package locking

import "github.com/jathurchan/grouplock/types"

// LockNotification receives lifecycle callbacks for locks the local member
// arbitrates or holds.
//
// Callbacks may be invoked while internal lock monitors are held. A listener
// must not call back into the locking API and wait for the call to resolve
// synchronously; doing so can deadlock the server-side monitor.
type LockNotification interface {
	// LockCreated is invoked when a GRANT_LOCK or RELEASE_LOCK makes this
	// member create server-side state for a lock name it did not know about.
	// State installed by a replicated CREATE_LOCK is not announced.
	LockCreated(lockName string)

	// LockDeleted is invoked when a local client handle for a lock is torn
	// down by unlock or cancellation.
	LockDeleted(lockName string)

	// Locked is invoked when the server side grants a lock to an owner.
	Locked(lockName string, owner types.Owner)

	// Unlocked is invoked when the server side releases a lock, whether by
	// request or because the owner's member left the view.
	Unlocked(lockName string, owner types.Owner)
}

// notifyListeners invokes fn for every registered listener, isolating the
// service from listener panics.
func (s *Service) notifyListeners(fn func(LockNotification)) {
	s.listenersMu.RLock()
	snapshot := make([]LockNotification, 0, len(s.listeners))
	for l := range s.listeners {
		snapshot = append(snapshot, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range snapshot {
		s.notifyOne(l, fn)
	}
}

func (s *Service) notifyOne(l LockNotification, fn func(LockNotification)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Lock listener panicked", "listener", l, "panic", r)
		}
	}()
	fn(l)
}

func (s *Service) notifyLockCreated(name string) {
	s.notifyListeners(func(l LockNotification) { l.LockCreated(name) })
}

func (s *Service) notifyLockDeleted(name string) {
	s.notifyListeners(func(l LockNotification) { l.LockDeleted(name) })
}

func (s *Service) notifyLocked(name string, owner types.Owner) {
	s.notifyListeners(func(l LockNotification) { l.Locked(name, owner) })
}

func (s *Service) notifyUnlocked(name string, owner types.Owner) {
	s.notifyListeners(func(l LockNotification) { l.Unlocked(name, owner) })
}
