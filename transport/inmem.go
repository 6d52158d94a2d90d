package transport

import (
	"sync"
	"sync/atomic"

	"github.com/jathurchan/grouplock/logger"
	"github.com/jathurchan/grouplock/types"
)

// defaultMailboxSize bounds each member's delivery queue. A full mailbox
// drops the message, mirroring a lossy network rather than blocking senders.
const defaultMailboxSize = 1024

// InMemNetwork connects members living in a single process. Each member gets
// a FIFO mailbox drained by its own delivery goroutine, so message handling
// never runs on a sender's goroutine, and join/leave produce view changes
// for everyone. It is the reference transport for tests, examples, and
// single-process deployments.
type InMemNetwork struct {
	mu      sync.Mutex
	members map[types.MemberAddress]*InMemMember
	order   []types.MemberAddress // join order; first member is coordinator
	viewID  uint64
	logger  logger.Logger
}

// NewInMemNetwork creates an empty in-process group.
func NewInMemNetwork(log logger.Logger) *InMemNetwork {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &InMemNetwork{
		members: make(map[types.MemberAddress]*InMemMember),
		logger:  log.WithComponent("inmem-transport"),
	}
}

// NewMember creates an endpoint for addr. The endpoint cannot send until
// Join is called with the layer that will receive its upcalls; this split
// lets the layer be constructed with the endpoint in hand.
func (n *InMemNetwork) NewMember(addr types.MemberAddress) (*InMemMember, error) {
	if addr.IsBroadcast() {
		return nil, ErrInvalidAddress
	}
	return &InMemMember{
		network: n,
		addr:    addr,
		inbox:   make(chan *Message, defaultMailboxSize),
		done:    make(chan struct{}),
	}, nil
}

// Join creates an endpoint and immediately joins it to the group; a
// convenience for callers whose upcall exists up front.
func (n *InMemNetwork) Join(addr types.MemberAddress, upcall Upcall) (*InMemMember, error) {
	m, err := n.NewMember(addr)
	if err != nil {
		return nil, err
	}
	if err := m.Join(upcall); err != nil {
		return nil, err
	}
	return m, nil
}

// Leave removes a member from the group, stops its delivery, and announces
// the shrunk view to the remaining members.
func (n *InMemNetwork) Leave(addr types.MemberAddress) {
	n.mu.Lock()
	m, ok := n.members[addr]
	if !ok {
		n.mu.Unlock()
		return
	}
	delete(n.members, addr)
	for i, a := range n.order {
		if a == addr {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	view, targets := n.nextViewLocked()
	n.mu.Unlock()

	m.stop()
	n.logger.Infow("Member left", "addr", addr, "view", view)
	announce(view, targets)
}

// View returns the current membership.
func (n *InMemNetwork) View() types.View {
	n.mu.Lock()
	defer n.mu.Unlock()
	members := make([]types.MemberAddress, len(n.order))
	copy(members, n.order)
	return types.View{ID: n.viewID, Members: members}
}

// nextViewLocked advances the view and snapshots the members to announce it
// to. Must be called with n.mu held.
func (n *InMemNetwork) nextViewLocked() (types.View, []*InMemMember) {
	n.viewID++
	members := make([]types.MemberAddress, len(n.order))
	copy(members, n.order)
	view := types.View{ID: n.viewID, Members: members}

	targets := make([]*InMemMember, 0, len(n.members))
	for _, addr := range n.order {
		targets = append(targets, n.members[addr])
	}
	return view, targets
}

func announce(view types.View, targets []*InMemMember) {
	for _, m := range targets {
		m.upcall.ViewChange(view)
	}
}

// InMemMember is one endpoint of an InMemNetwork. It implements Transport.
type InMemMember struct {
	network *InMemNetwork
	addr    types.MemberAddress
	upcall  Upcall
	inbox   chan *Message
	done    chan struct{}

	joined   atomic.Bool
	stopOnce sync.Once
}

// Join registers the upcall, adds the member to the group, and announces the
// new view to everyone. The upcall receives SetLocalAddress before the view.
func (m *InMemMember) Join(upcall Upcall) error {
	if upcall == nil {
		return ErrNilUpcall
	}
	m.upcall = upcall

	// The layer learns its address before the member becomes reachable, so
	// no message or view can ever precede it.
	upcall.SetLocalAddress(m.addr)

	n := m.network
	n.mu.Lock()
	if _, exists := n.members[m.addr]; exists {
		n.mu.Unlock()
		return ErrDuplicateMember
	}
	n.members[m.addr] = m
	n.order = append(n.order, m.addr)
	view, targets := n.nextViewLocked()
	n.mu.Unlock()

	m.joined.Store(true)
	go m.deliverLoop()

	n.logger.Infow("Member joined", "addr", m.addr, "view", view)
	announce(view, targets)
	return nil
}

// Send implements Transport. Each recipient receives its own copy of the
// message, stamped with this member's address.
func (m *InMemMember) Send(msg *Message) error {
	if !m.joined.Load() {
		return ErrNotJoined
	}
	select {
	case <-m.done:
		return ErrMemberStopped
	default:
	}

	msg.Src = m.addr

	m.network.mu.Lock()
	var targets []*InMemMember
	if msg.Dest.IsBroadcast() {
		for _, addr := range m.network.order {
			targets = append(targets, m.network.members[addr])
		}
	} else {
		t, ok := m.network.members[msg.Dest]
		if !ok {
			m.network.mu.Unlock()
			return ErrUnknownMember
		}
		targets = []*InMemMember{t}
	}
	m.network.mu.Unlock()

	var firstErr error
	for _, t := range targets {
		cp := *msg
		if err := t.enqueue(&cp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LocalAddress implements Transport.
func (m *InMemMember) LocalAddress() types.MemberAddress { return m.addr }

// Close removes the member from its group.
func (m *InMemMember) Close() {
	m.network.Leave(m.addr)
}

func (m *InMemMember) enqueue(msg *Message) error {
	select {
	case <-m.done:
		return ErrMemberStopped
	default:
	}
	select {
	case m.inbox <- msg:
		return nil
	default:
		m.network.logger.Warnw("Mailbox full, dropping message", "addr", m.addr, "msg", msg)
		return ErrMailboxFull
	}
}

func (m *InMemMember) deliverLoop() {
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.inbox:
			m.upcall.Deliver(msg)
		}
	}
}

func (m *InMemMember) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}
