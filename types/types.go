package types

import "fmt"

// MemberAddress uniquely identifies a member of the group.
// It should be globally unique and remain stable for the lifetime of the member.
// The empty address addresses the whole group (broadcast).
type MemberAddress string

// Broadcast is the destination used to address every member of the group.
const Broadcast MemberAddress = ""

// IsBroadcast reports whether the address targets the whole group.
func (a MemberAddress) IsBroadcast() bool { return a == Broadcast }

// Owner identifies the holder of (or contender for) a lock: a specific
// logical owner on a specific member. Two owners on the same member contend
// with each other exactly like owners on different members.
//
// Equality is structural; Owner is a valid map key.
type Owner struct {
	Addr MemberAddress // Member the owner lives on.
	ID   uint64        // Owner identity, unique within the member's process.
}

// IsZero reports whether the owner is unset.
func (o Owner) IsZero() bool { return o == Owner{} }

func (o Owner) String() string {
	return fmt.Sprintf("%s::%d", o.Addr, o.ID)
}

// RequestType enumerates the message kinds exchanged by the locking protocol.
// The ordinal values are part of the wire format and must not be reordered.
type RequestType int

const (
	// GrantLock asks the server replica to acquire a lock for an owner.
	GrantLock RequestType = iota

	// LockGranted is the server's response to a successful GrantLock.
	LockGranted

	// LockDenied is the server's response to an unsuccessful non-blocking
	// GrantLock (try-lock).
	LockDenied

	// ReleaseLock asks the server replica to release a held lock, or to
	// withdraw a pending GrantLock from the waiter queue.
	ReleaseLock

	// CreateLock replicates server-lock creation to backup members.
	// Used by the central policy only.
	CreateLock

	// DeleteLock replicates server-lock removal to backup members.
	// Used by the central policy only.
	DeleteLock
)

// Request is the single message type of the locking protocol.
// Timeout is in milliseconds; zero means "no timeout", except that a
// GrantLock with IsTryLock set and a zero Timeout means "non-blocking".
type Request struct {
	Type      RequestType
	LockName  string
	Owner     Owner
	Timeout   int64
	IsTryLock bool
}

func (r Request) String() string {
	s := fmt.Sprintf("%s [%s, owner=%s", r.Type, r.LockName, r.Owner)
	if r.IsTryLock {
		s += ", trylock"
	}
	if r.Timeout > 0 {
		s += fmt.Sprintf(", timeout=%dms", r.Timeout)
	}
	return s + "]"
}

// View is the current membership of the group, as delivered by the transport.
// Members are ordered; the first member is the group coordinator.
type View struct {
	ID      uint64          // Monotonically increasing view identifier.
	Members []MemberAddress // Current members, coordinator first.
}

// Contains reports whether addr is a member of the view.
func (v View) Contains(addr MemberAddress) bool {
	for _, m := range v.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// Coordinator returns the first member of the view, or the broadcast
// address if the view is empty.
func (v View) Coordinator() MemberAddress {
	if len(v.Members) == 0 {
		return Broadcast
	}
	return v.Members[0]
}

// Size returns the number of members in the view.
func (v View) Size() int { return len(v.Members) }

func (v View) String() string {
	return fmt.Sprintf("view(%d)%v", v.ID, v.Members)
}
