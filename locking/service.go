package locking

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jathurchan/grouplock/logger"
	"github.com/jathurchan/grouplock/transport"
	"github.com/jathurchan/grouplock/types"
)

// Service is the locking protocol layer. It sits between the Mutex handles
// handed to applications and a group transport, and plays both sides of the
// protocol: the server side arbitrating locks this member is responsible
// for, and the client side tracking this member's own requests.
//
// A Service is registered with its transport as the transport's Upcall; all
// state it holds is in-memory and rebuilt from live traffic after a restart.
type Service struct {
	transport transport.Transport
	config    ServiceConfig
	policy    Policy
	clock     Clock
	logger    logger.Logger
	metrics   Metrics
	limiter   RateLimiter

	serverMu    sync.RWMutex
	serverLocks map[string]*serverLock

	clientMu    sync.Mutex
	clientLocks map[string]map[types.Owner]*clientLock

	listenersMu sync.RWMutex
	listeners   map[LockNotification]struct{}

	stateMu   sync.RWMutex
	localAddr types.MemberAddress
	view      types.View

	ownerSeq atomic.Uint64
}

// NewService creates a locking protocol layer on top of t. The caller must
// register the returned service as the transport's upcall so it receives
// messages, views, and its local address.
func NewService(t transport.Transport, opts ...ServiceOption) (*Service, error) {
	if t == nil {
		return nil, ErrNoTransport
	}

	config := DefaultServiceConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = logger.NewNoOpLogger()
	}
	if config.Metrics == nil {
		config.Metrics = NewNoOpMetrics()
	}
	if config.Clock == nil {
		config.Clock = NewStandardClock()
	}
	if config.Policy == nil {
		config.Policy = NewCentralPolicy()
	}

	s := &Service{
		transport:   t,
		config:      config,
		policy:      config.Policy,
		clock:       config.Clock,
		logger:      config.Logger.WithComponent("locking"),
		metrics:     config.Metrics,
		serverLocks: make(map[string]*serverLock),
		clientLocks: make(map[string]map[types.Owner]*clientLock),
		listeners:   make(map[LockNotification]struct{}),
	}
	s.limiter = newRateLimiter(
		config.RequestRateLimit,
		config.RequestRateBurst,
		config.RequestRateWindow,
	)
	return s, nil
}

// AddListener registers a notification listener. Nil listeners are ignored.
func (s *Service) AddListener(l LockNotification) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners[l] = struct{}{}
	s.listenersMu.Unlock()
}

// RemoveListener unregisters a notification listener.
func (s *Service) RemoveListener(l LockNotification) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	delete(s.listeners, l)
	s.listenersMu.Unlock()
}

// UnlockAll releases every lock held through this member; handles whose
// request is still waiting for a grant are left as they are. The handles
// are snapshotted under the registry monitor and unlocked outside it, so
// the release path cannot deadlock against the upcall path.
func (s *Service) UnlockAll() {
	s.clientMu.Lock()
	var locks []*clientLock
	for _, owners := range s.clientLocks {
		for _, cl := range owners {
			locks = append(locks, cl)
		}
	}
	s.clientMu.Unlock()

	for _, cl := range locks {
		cl.unlock()
	}
}

// NumServerLocks returns the number of locks this member currently arbitrates.
func (s *Service) NumServerLocks() int {
	s.serverMu.RLock()
	defer s.serverMu.RUnlock()
	return len(s.serverLocks)
}

// NumClientLocks returns the number of live client handles on this member.
func (s *Service) NumClientLocks() int {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	n := 0
	for _, owners := range s.clientLocks {
		n += len(owners)
	}
	return n
}

// DumpLocks renders the server and client registries for diagnostics.
func (s *Service) DumpLocks() string {
	var b strings.Builder

	b.WriteString("server locks:\n")
	s.serverMu.RLock()
	for name, lk := range s.serverLocks {
		fmt.Fprintf(&b, "%s: %s\n", name, lk)
	}
	s.serverMu.RUnlock()

	b.WriteString("\nmy locks: ")
	s.clientMu.Lock()
	first := true
	for name, owners := range s.clientLocks {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s (", name)
		innerFirst := true
		for owner, cl := range owners {
			if !innerFirst {
				b.WriteString(", ")
			}
			innerFirst = false
			b.WriteString(owner.String())
			if !cl.isHeld() {
				b.WriteString(", unlocked")
			}
		}
		b.WriteString(")")
	}
	s.clientMu.Unlock()

	return b.String()
}

// Deliver implements transport.Upcall. Messages tagged for another protocol
// are ignored; undecodable payloads are logged and dropped.
func (s *Service) Deliver(msg *transport.Message) {
	if msg.Protocol != ProtocolName {
		return
	}

	req, err := unmarshalRequest(msg.Payload)
	if err != nil {
		s.logger.Errorw("Dropping undecodable message", "src", msg.Src, "error", err)
		s.metrics.IncrDroppedMessage("decode")
		return
	}
	s.logger.Debugw("Received request", "src", msg.Src, "request", req)

	switch req.Type {
	case types.GrantLock:
		if s.limiter != nil && !s.limiter.Allow() {
			s.logger.Warnw("Dropping request over rate limit", "src", msg.Src, "lock", req.LockName)
			s.metrics.IncrDroppedMessage("rate_limit")
			return
		}
		s.handleLockRequest(req)
	case types.ReleaseLock:
		s.handleLockRequest(req)
	case types.LockGranted:
		s.handleLockGrantedResponse(req.LockName, req.Owner)
	case types.LockDenied:
		s.handleLockDeniedResponse(req.LockName, req.Owner)
	case types.CreateLock:
		s.handleCreateLockRequest(req.LockName, req.Owner)
	case types.DeleteLock:
		s.handleDeleteLockRequest(req.LockName)
	}
}

// ViewChange implements transport.Upcall. Every server lock is told about
// the new membership, then locks left free with no waiters are dropped.
func (s *Service) ViewChange(view types.View) {
	s.stateMu.Lock()
	s.view = view
	s.stateMu.Unlock()
	s.logger.Debugw("View change", "view", view)

	s.serverMu.RLock()
	snapshot := make(map[string]*serverLock, len(s.serverLocks))
	for name, lk := range s.serverLocks {
		snapshot[name] = lk
	}
	s.serverMu.RUnlock()

	for _, lk := range snapshot {
		lk.handleView(view.Members)
	}
	for name, lk := range snapshot {
		s.dropServerLockIfUnused(name, lk)
	}
}

// SetLocalAddress implements transport.Upcall.
func (s *Service) SetLocalAddress(addr types.MemberAddress) {
	s.stateMu.Lock()
	s.localAddr = addr
	s.stateMu.Unlock()
}

// LocalAddress implements Sender.
func (s *Service) LocalAddress() types.MemberAddress {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.localAddr
}

// CurrentView implements Sender.
func (s *Service) CurrentView() types.View {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.view
}

// SendRequest implements Sender: it encodes one protocol request and hands
// it to the transport. Send failures are logged and absorbed; a bounded
// client wait will time out, an unbounded one can be cancelled.
func (s *Service) SendRequest(dest types.MemberAddress, t types.RequestType, lockName string, owner types.Owner, timeoutMillis int64, isTryLock bool) {
	req := types.Request{
		Type:      t,
		LockName:  lockName,
		Owner:     owner,
		Timeout:   timeoutMillis,
		IsTryLock: isTryLock,
	}
	payload, err := marshalRequest(req)
	if err != nil {
		s.logger.Errorw("Failed encoding request", "request", req, "error", err)
		return
	}

	msg := &transport.Message{
		Dest:     dest,
		Protocol: ProtocolName,
		Payload:  payload,
	}
	if s.config.BypassBundling {
		msg.Flags |= transport.DontBundle
	}

	s.logger.Debugw("Sending request", "dest", dest, "request", req)
	if err := s.transport.Send(msg); err != nil {
		s.logger.Errorw("Failed sending request", "type", t, "dest", dest, "error", err)
	}
}

// handleLockRequest routes a GRANT_LOCK or RELEASE_LOCK to the server lock
// for its name, creating the lock on first contact and dropping it again
// once it is free with no waiters.
func (s *Service) handleLockRequest(req types.Request) {
	lk, created := s.getOrCreateServerLock(req.LockName)
	if created {
		s.notifyLockCreated(req.LockName)
		s.policy.ServerLockCreated(s, req.LockName, req.Owner)
	}
	lk.handleRequest(req)
	s.dropServerLockIfUnused(req.LockName, lk)
}

func (s *Service) handleLockGrantedResponse(lockName string, owner types.Owner) {
	if cl := s.getClientLock(lockName, owner, false); cl != nil {
		cl.lockGranted()
	}
}

func (s *Service) handleLockDeniedResponse(lockName string, owner types.Owner) {
	if cl := s.getClientLock(lockName, owner, false); cl != nil {
		cl.lockDenied()
	}
}

// handleCreateLockRequest installs replicated server state with the owner
// already set. The free-and-empty sweep applies to these locks the same way
// it does to locks created on demand.
func (s *Service) handleCreateLockRequest(lockName string, owner types.Owner) {
	lk := newServerLockWithOwner(lockName, owner, s, s.logger, s.metrics)
	s.serverMu.Lock()
	s.serverLocks[lockName] = lk
	s.serverMu.Unlock()
}

func (s *Service) handleDeleteLockRequest(lockName string) {
	s.serverMu.Lock()
	delete(s.serverLocks, lockName)
	s.serverMu.Unlock()
}

// getOrCreateServerLock returns the server lock for a name, creating it on
// first contact. The second return value reports whether it was created.
func (s *Service) getOrCreateServerLock(name string) (*serverLock, bool) {
	s.serverMu.RLock()
	lk, ok := s.serverLocks[name]
	s.serverMu.RUnlock()
	if ok {
		return lk, false
	}

	s.serverMu.Lock()
	defer s.serverMu.Unlock()
	if lk, ok := s.serverLocks[name]; ok {
		return lk, false
	}
	lk = newServerLock(name, s, s.logger, s.metrics)
	s.serverLocks[name] = lk
	return lk, true
}

// dropServerLockIfUnused removes a server lock that is free with no waiters.
// The registry is re-checked under its own lock so a racing recreate of the
// same name is never torn down by mistake.
func (s *Service) dropServerLockIfUnused(name string, lk *serverLock) {
	if !lk.unused() {
		return
	}
	s.serverMu.Lock()
	dropped := false
	if cur, ok := s.serverLocks[name]; ok && cur == lk && lk.unused() {
		delete(s.serverLocks, name)
		dropped = true
	}
	s.serverMu.Unlock()

	if dropped {
		s.policy.ServerLockDeleted(s, name)
	}
}

// getClientLock resolves the handle state for a (name, owner) pair. Lookup
// and creation happen under the registry monitor; the caller invokes the
// returned lock's methods after the monitor is released.
func (s *Service) getClientLock(name string, owner types.Owner, createIfAbsent bool) *clientLock {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	owners, ok := s.clientLocks[name]
	if !ok {
		if !createIfAbsent {
			return nil
		}
		owners = make(map[types.Owner]*clientLock)
		s.clientLocks[name] = owners
	}
	cl, ok := owners[owner]
	if !ok {
		if !createIfAbsent {
			return nil
		}
		cl = newClientLock(name, s, s.clock)
		owners[owner] = cl
	}
	return cl
}

// removeClientLock implements clientLockHost.
func (s *Service) removeClientLock(name string, owner types.Owner) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	owners, ok := s.clientLocks[name]
	if !ok {
		return
	}
	if _, ok := owners[owner]; ok {
		delete(owners, owner)
		if len(owners) == 0 {
			delete(s.clientLocks, name)
		}
	}
}

// sendGrantLockRequest implements clientLockHost by delegating routing to
// the policy.
func (s *Service) sendGrantLockRequest(lockName string, owner types.Owner, timeoutMillis int64, isTryLock bool) {
	s.policy.SendGrantLock(s, lockName, owner, timeoutMillis, isTryLock)
}

// sendReleaseLockRequest implements clientLockHost by delegating routing to
// the policy.
func (s *Service) sendReleaseLockRequest(lockName string, owner types.Owner) {
	s.policy.SendReleaseLock(s, lockName, owner)
}

// sendLockResponse implements serverLockHost: grant and deny responses go
// straight to the member the requesting owner lives on.
func (s *Service) sendLockResponse(t types.RequestType, dest types.Owner, lockName string) {
	s.SendRequest(dest.Addr, t, lockName, dest, 0, false)
}
