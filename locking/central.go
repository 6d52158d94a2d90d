package locking

import "github.com/jathurchan/grouplock/types"

// CentralPolicy routes every lock request to the group coordinator (the
// first member of the view). When the local member is the coordinator, lock
// creation and deletion are replicated to up to NumBackups further members
// with CREATE_LOCK / DELETE_LOCK, so a coordinator failover finds the server
// state already in place.
type CentralPolicy struct {
	// NumBackups is the number of members after the coordinator that mirror
	// server-lock state. Zero disables replication.
	NumBackups int
}

// NewCentralPolicy returns a central policy with the default backup count.
func NewCentralPolicy() *CentralPolicy {
	return &CentralPolicy{NumBackups: DefaultNumBackups}
}

// SendGrantLock sends the request to the current coordinator.
func (p *CentralPolicy) SendGrantLock(s Sender, lockName string, owner types.Owner, timeoutMillis int64, isTryLock bool) {
	s.SendRequest(s.CurrentView().Coordinator(), types.GrantLock, lockName, owner, timeoutMillis, isTryLock)
}

// SendReleaseLock sends the request to the current coordinator.
func (p *CentralPolicy) SendReleaseLock(s Sender, lockName string, owner types.Owner) {
	s.SendRequest(s.CurrentView().Coordinator(), types.ReleaseLock, lockName, owner, 0, false)
}

// ServerLockCreated replicates the creation to the backups when the local
// member is the coordinator.
func (p *CentralPolicy) ServerLockCreated(s Sender, lockName string, owner types.Owner) {
	for _, backup := range p.backups(s) {
		s.SendRequest(backup, types.CreateLock, lockName, owner, 0, false)
	}
}

// ServerLockDeleted replicates the removal to the backups when the local
// member is the coordinator.
func (p *CentralPolicy) ServerLockDeleted(s Sender, lockName string) {
	for _, backup := range p.backups(s) {
		s.SendRequest(backup, types.DeleteLock, lockName, types.Owner{}, 0, false)
	}
}

// backups returns the members mirroring the coordinator's server state, or
// nil when the local member is not the coordinator.
func (p *CentralPolicy) backups(s Sender) []types.MemberAddress {
	if p.NumBackups <= 0 {
		return nil
	}
	view := s.CurrentView()
	if view.Size() < 2 || s.LocalAddress() != view.Coordinator() {
		return nil
	}
	n := p.NumBackups
	if n > view.Size()-1 {
		n = view.Size() - 1
	}
	return view.Members[1 : 1+n]
}
