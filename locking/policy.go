package locking

import "github.com/jathurchan/grouplock/types"

// Sender is the narrow view of the Service a Policy uses to route protocol
// requests. All sends are fire-and-forget; delivery failures are logged by
// the service and absorbed by the protocol's retry-free idempotence.
type Sender interface {
	// SendRequest encodes and sends one protocol request to dest.
	// types.Broadcast addresses every member of the group.
	SendRequest(dest types.MemberAddress, t types.RequestType, lockName string, owner types.Owner, timeoutMillis int64, isTryLock bool)

	// LocalAddress returns the local member's address, or types.Broadcast if
	// the transport has not assigned one yet.
	LocalAddress() types.MemberAddress

	// CurrentView returns the most recently installed membership view.
	CurrentView() types.View
}

// Policy decides which member hosts the server-side state for a lock name,
// and whether that state is replicated. The core protocol is oblivious to
// the choice; both a centralized coordinator scheme and a per-peer scheme
// are expressed through this interface alone.
type Policy interface {
	// SendGrantLock routes a GRANT_LOCK request for a lock name.
	SendGrantLock(s Sender, lockName string, owner types.Owner, timeoutMillis int64, isTryLock bool)

	// SendReleaseLock routes a RELEASE_LOCK request for a lock name.
	SendReleaseLock(s Sender, lockName string, owner types.Owner)

	// ServerLockCreated is invoked after the local member installs
	// server-side state for a lock, giving the policy a chance to replicate
	// the creation (CREATE_LOCK) to backups.
	ServerLockCreated(s Sender, lockName string, owner types.Owner)

	// ServerLockDeleted is invoked after the local member drops server-side
	// state for a lock, giving the policy a chance to replicate the removal
	// (DELETE_LOCK) to backups.
	ServerLockDeleted(s Sender, lockName string)
}
