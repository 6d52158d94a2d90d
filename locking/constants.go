package locking

// ProtocolName tags every message produced by this layer so the up-path can
// recognize its own traffic and leave everything else to the layers above.
const ProtocolName = "locking"

const (
	// maxWireString bounds lock names and member addresses on the wire;
	// both are length-prefixed with a 2-byte big-endian length.
	maxWireString = 1<<16 - 1

	// requestHeaderSize is the minimum encoded size of a Request:
	// type byte, empty name, absent owner address, owner ID, timeout,
	// try-lock flag.
	requestHeaderSize = 1 + 2 + 1 + 8 + 8 + 1
)

const (
	// DefaultBypassBundling controls whether outgoing messages carry the
	// do-not-bundle transport hint. It trades a little throughput for
	// request latency, which is what a lock protocol wants.
	DefaultBypassBundling = true

	// DefaultNumBackups is the number of backup members the central policy
	// replicates server-lock state to.
	DefaultNumBackups = 1
)
