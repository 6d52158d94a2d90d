package locking

import (
	"sync"
	"time"

	"github.com/jathurchan/grouplock/types"
)

// fakeHost records everything a server or client lock asks the service to
// do, standing in for the full layer in unit tests.
type fakeHost struct {
	mu sync.Mutex

	responses []fakeResponse
	locked    []fakeTransition
	unlocked  []fakeTransition

	grants   []types.Request
	releases []types.Request
	removed  []fakeRemoval
	deleted  []string

	wake chan struct{} // closed whenever something is recorded
}

type fakeResponse struct {
	t    types.RequestType
	dest types.Owner
	name string
}

type fakeTransition struct {
	name  string
	owner types.Owner
}

type fakeRemoval struct {
	name  string
	owner types.Owner
}

func newFakeHost() *fakeHost {
	return &fakeHost{wake: make(chan struct{})}
}

func (h *fakeHost) record(mutate func()) {
	h.mu.Lock()
	mutate()
	close(h.wake)
	h.wake = make(chan struct{})
	h.mu.Unlock()
}

// serverLockHost

func (h *fakeHost) sendLockResponse(t types.RequestType, dest types.Owner, name string) {
	h.record(func() { h.responses = append(h.responses, fakeResponse{t, dest, name}) })
}

func (h *fakeHost) notifyLocked(name string, owner types.Owner) {
	h.record(func() { h.locked = append(h.locked, fakeTransition{name, owner}) })
}

func (h *fakeHost) notifyUnlocked(name string, owner types.Owner) {
	h.record(func() { h.unlocked = append(h.unlocked, fakeTransition{name, owner}) })
}

// clientLockHost

func (h *fakeHost) sendGrantLockRequest(name string, owner types.Owner, timeoutMillis int64, isTryLock bool) {
	h.record(func() {
		h.grants = append(h.grants, types.Request{
			Type: types.GrantLock, LockName: name, Owner: owner,
			Timeout: timeoutMillis, IsTryLock: isTryLock,
		})
	})
}

func (h *fakeHost) sendReleaseLockRequest(name string, owner types.Owner) {
	h.record(func() {
		h.releases = append(h.releases, types.Request{
			Type: types.ReleaseLock, LockName: name, Owner: owner,
		})
	})
}

func (h *fakeHost) removeClientLock(name string, owner types.Owner) {
	h.record(func() { h.removed = append(h.removed, fakeRemoval{name, owner}) })
}

func (h *fakeHost) notifyLockDeleted(name string) {
	h.record(func() { h.deleted = append(h.deleted, name) })
}

func (h *fakeHost) numResponses() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.responses)
}

func (h *fakeHost) numReleases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.releases)
}

func (h *fakeHost) numGrants() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.grants)
}

// mockClock is a Clock whose time only moves when a test calls Advance,
// so timeout paths can be exercised without real sleeps.
type mockClock struct {
	mu     sync.Mutex
	nowVal time.Time
	timers []*mockTimer
}

func newMockClock() *mockClock {
	return &mockClock{
		nowVal: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowVal
}

func (m *mockClock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockClock) After(d time.Duration) <-chan time.Time {
	return m.NewTimer(d).Chan()
}

func (m *mockClock) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	timer := newMockTimer(m.nowVal.Add(d))
	m.timers = append(m.timers, timer)
	return timer
}

func (m *mockClock) Sleep(d time.Duration) {
	m.Advance(d)
}

// Advance moves the clock forward and fires every timer whose deadline has
// been reached.
func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.nowVal = m.nowVal.Add(d)
	for _, timer := range m.timers {
		timer.checkAndSignal(m.nowVal)
	}
	m.mu.Unlock()
}

// numTimers lets a test wait until the code under test has armed its timer
// before advancing past it.
func (m *mockClock) numTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

type mockTimer struct {
	mu        sync.Mutex
	C         chan time.Time
	expiresAt time.Time
	active    bool
}

func newMockTimer(expiresAt time.Time) *mockTimer {
	return &mockTimer{
		C:         make(chan time.Time, 1),
		expiresAt: expiresAt,
		active:    true,
	}
}

func (m *mockTimer) Chan() <-chan time.Time {
	return m.C
}

func (m *mockTimer) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		m.active = false
		select {
		case <-m.C:
		default:
		}
		return true
	}
	return false
}

func (m *mockTimer) Reset(d time.Duration) bool {
	// The layer never resets its wait timers; it arms a fresh one per wait.
	m.mu.Lock()
	defer m.mu.Unlock()
	wasActive := m.active
	m.active = true
	select {
	case <-m.C:
	default:
	}
	return wasActive
}

func (m *mockTimer) checkAndSignal(currentTime time.Time) {
	m.mu.Lock()
	if m.active && !currentTime.Before(m.expiresAt) {
		select {
		case m.C <- m.expiresAt:
			m.active = false
		default:
		}
	}
	m.mu.Unlock()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func owner(addr string, id uint64) types.Owner {
	return types.Owner{Addr: types.MemberAddress(addr), ID: id}
}

func grantReq(name string, o types.Owner) types.Request {
	return types.Request{Type: types.GrantLock, LockName: name, Owner: o}
}

func tryReq(name string, o types.Owner, timeoutMillis int64) types.Request {
	return types.Request{Type: types.GrantLock, LockName: name, Owner: o, Timeout: timeoutMillis, IsTryLock: true}
}

func releaseReq(name string, o types.Owner) types.Request {
	return types.Request{Type: types.ReleaseLock, LockName: name, Owner: o}
}
