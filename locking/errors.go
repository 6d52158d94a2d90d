package locking

import "errors"

var (
	// ErrTruncatedRequest indicates a request payload ended before all
	// fields could be decoded.
	ErrTruncatedRequest = errors.New("locking: truncated request")

	// ErrUnknownRequestType indicates a request carried a type byte outside
	// the six protocol message kinds.
	ErrUnknownRequestType = errors.New("locking: unknown request type")

	// ErrTrailingBytes indicates a request payload had bytes left over after
	// all fields were decoded.
	ErrTrailingBytes = errors.New("locking: trailing bytes after request")

	// ErrStringTooLong indicates a lock name or member address exceeds the
	// wire format's 2-byte length prefix.
	ErrStringTooLong = errors.New("locking: string exceeds wire limit")

	// ErrNoTransport indicates the service was constructed without a transport.
	ErrNoTransport = errors.New("locking: transport cannot be nil")
)
