package logger

import "github.com/jathurchan/grouplock/types"

// Logger is the structured logging facade used across the locking layer and
// the transports. Call sites pass a message plus alternating key/value
// pairs; derived loggers accumulate context that is emitted with every line.
//
// Context accumulates in derivation order and is never overwritten by
// call-site pairs, so a line always shows where it came from before what it
// says.
type Logger interface {
	// Debugw logs protocol-level detail (per-message traffic, queue moves).
	Debugw(msg string, keysAndValues ...any)

	// Infow logs lifecycle events (member joined, transport started).
	Infow(msg string, keysAndValues ...any)

	// Warnw logs conditions the layer recovers from (dropped messages,
	// full mailboxes).
	Warnw(msg string, keysAndValues ...any)

	// Errorw logs failures that lose work (undecodable payloads, failed
	// sends).
	Errorw(msg string, keysAndValues ...any)

	// Fatalw logs and then terminates the process.
	Fatalw(msg string, keysAndValues ...any)

	// With returns a logger whose lines carry the given pairs as context.
	With(keysAndValues ...any) Logger

	// WithAddress returns a logger stamped with the local member address,
	// so members sharing a process or a log stream stay distinguishable.
	WithAddress(addr types.MemberAddress) Logger

	// WithComponent returns a logger stamped with a component label
	// (e.g. "locking", "grpc-transport").
	WithComponent(name string) Logger
}
