package transport

import "errors"

var (
	// ErrInvalidAddress indicates a member address that cannot be used, such
	// as the broadcast address.
	ErrInvalidAddress = errors.New("transport: invalid member address")

	// ErrDuplicateMember indicates a join with an address already in use.
	ErrDuplicateMember = errors.New("transport: member address already joined")

	// ErrUnknownMember indicates a send to an address outside the group.
	ErrUnknownMember = errors.New("transport: unknown member")

	// ErrMemberStopped indicates an operation on a member that left the group.
	ErrMemberStopped = errors.New("transport: member stopped")

	// ErrNotJoined indicates a send from an endpoint that has not joined its
	// group yet.
	ErrNotJoined = errors.New("transport: member not joined")

	// ErrNilUpcall indicates a join or start without a receiving layer.
	ErrNilUpcall = errors.New("transport: upcall cannot be nil")

	// ErrMailboxFull indicates a receiver's delivery queue overflowed and
	// the message was dropped.
	ErrMailboxFull = errors.New("transport: mailbox full, message dropped")

	// ErrShuttingDown indicates the transport is stopping and no longer
	// accepts traffic.
	ErrShuttingDown = errors.New("transport: shutting down")

	// ErrTimeout indicates a send did not complete within its deadline.
	ErrTimeout = errors.New("transport: operation timed out")

	// ErrBadFrame indicates an incoming frame could not be decoded.
	ErrBadFrame = errors.New("transport: malformed frame")
)
