package locking

import (
	"hash/fnv"

	"github.com/jathurchan/grouplock/types"
)

// PeerPolicy maps every lock name to a deterministically chosen member of
// the current view, spreading server-side state across the group. There is
// no replication: if the arbiter of a lock leaves, its state is lost and
// requesters must re-request.
type PeerPolicy struct{}

// NewPeerPolicy returns a policy that hashes lock names onto view members.
func NewPeerPolicy() *PeerPolicy {
	return &PeerPolicy{}
}

// SendGrantLock sends the request to the member the lock name hashes to.
func (p *PeerPolicy) SendGrantLock(s Sender, lockName string, owner types.Owner, timeoutMillis int64, isTryLock bool) {
	s.SendRequest(p.target(s, lockName), types.GrantLock, lockName, owner, timeoutMillis, isTryLock)
}

// SendReleaseLock sends the request to the member the lock name hashes to.
func (p *PeerPolicy) SendReleaseLock(s Sender, lockName string, owner types.Owner) {
	s.SendRequest(p.target(s, lockName), types.ReleaseLock, lockName, owner, 0, false)
}

// ServerLockCreated is a no-op; the peer scheme does not replicate.
func (p *PeerPolicy) ServerLockCreated(s Sender, lockName string, owner types.Owner) {}

// ServerLockDeleted is a no-op; the peer scheme does not replicate.
func (p *PeerPolicy) ServerLockDeleted(s Sender, lockName string) {}

// target picks the arbiter for a lock name: FNV-1a of the name, modulo the
// view size. An empty view degrades to broadcast so a request sent before
// the first view still reaches whoever is listening.
func (p *PeerPolicy) target(s Sender, lockName string) types.MemberAddress {
	view := s.CurrentView()
	if view.Size() == 0 {
		return types.Broadcast
	}
	h := fnv.New32a()
	h.Write([]byte(lockName))
	return view.Members[int(h.Sum32()%uint32(view.Size()))]
}
