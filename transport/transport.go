package transport

import (
	"fmt"

	"github.com/jathurchan/grouplock/types"
)

// MessageFlags carries per-message hints for the transport.
type MessageFlags uint8

const (
	// DontBundle asks the transport to send the message on its own instead
	// of batching it with others. It is a latency hint; correctness of the
	// layers above does not depend on it.
	DontBundle MessageFlags = 1 << iota
)

// Message is the unit of delivery between group members. The payload is
// opaque to the transport; Protocol tags which layer produced it so the
// receiving side can dispatch without decoding.
type Message struct {
	Src      types.MemberAddress
	Dest     types.MemberAddress // types.Broadcast addresses every member
	Flags    MessageFlags
	Protocol string
	Payload  []byte
}

func (m *Message) String() string {
	dest := string(m.Dest)
	if m.Dest.IsBroadcast() {
		dest = "ALL"
	}
	return fmt.Sprintf("[%s -> %s] %s (%d bytes)", m.Src, dest, m.Protocol, len(m.Payload))
}

// Transport is the send-side primitive a protocol layer requires from its
// surrounding stack. Implementations must be safe for concurrent use and
// must deliver messages from one sender to one destination in FIFO order.
type Transport interface {
	// Send delivers msg to its destination, or to every member if the
	// destination is types.Broadcast. The source is stamped by the
	// transport. Send does not wait for the receiving layer to process the
	// message.
	Send(msg *Message) error

	// LocalAddress returns the member address of this transport endpoint.
	LocalAddress() types.MemberAddress
}

// Upcall receives events from a transport. A protocol layer implements this
// interface and is registered with the transport when the endpoint joins
// its group or starts, not at construction.
//
// SetLocalAddress is invoked before the first view or message. Deliver and
// ViewChange may be invoked concurrently with each other; ordering between
// messages from a single sender is preserved.
type Upcall interface {
	// Deliver hands an incoming message to the layer. Messages tagged with
	// an unknown protocol must be ignored, not rejected.
	Deliver(msg *Message)

	// ViewChange announces the new group membership.
	ViewChange(view types.View)

	// SetLocalAddress announces the address assigned to this member.
	SetLocalAddress(addr types.MemberAddress)
}
