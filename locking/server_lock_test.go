package locking

import (
	"testing"

	"github.com/jathurchan/grouplock/logger"
	"github.com/jathurchan/grouplock/testutil"
	"github.com/jathurchan/grouplock/types"
)

func newTestServerLock(t *testing.T, name string) (*serverLock, *fakeHost) {
	t.Helper()
	host := newFakeHost()
	return newServerLock(name, host, logger.NewNoOpLogger(), NewNoOpMetrics()), host
}

func TestServerLock_GrantWhenFree(t *testing.T) {
	sl, host := newTestServerLock(t, "x")
	a := owner("A", 1)

	sl.handleRequest(grantReq("x", a))

	testutil.AssertEqual(t, a, sl.owner())
	testutil.AssertEqual(t, 0, sl.queueLen())
	testutil.AssertEqual(t, []fakeResponse{{types.LockGranted, a, "x"}}, host.responses)
	testutil.AssertEqual(t, []fakeTransition{{"x", a}}, host.locked)
}

func TestServerLock_RegrantToHolderIsIdempotent(t *testing.T) {
	sl, host := newTestServerLock(t, "x")
	a := owner("A", 1)

	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(grantReq("x", a))

	testutil.AssertEqual(t, a, sl.owner())
	testutil.AssertEqual(t, 0, sl.queueLen())
	testutil.AssertLen(t, host.responses, 2)
	for _, rsp := range host.responses {
		testutil.AssertEqual(t, types.LockGranted, rsp.t)
		testutil.AssertEqual(t, a, rsp.dest)
	}
	// Only one ownership transition happened.
	testutil.AssertLen(t, host.locked, 1)
}

func TestServerLock_TryLockDeniedWhenHeld(t *testing.T) {
	sl, host := newTestServerLock(t, "x")
	a, b := owner("A", 1), owner("B", 1)

	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(tryReq("x", b, 0))

	testutil.AssertEqual(t, a, sl.owner())
	testutil.AssertEqual(t, 0, sl.queueLen())
	testutil.AssertEqual(t, fakeResponse{types.LockDenied, b, "x"}, host.responses[1])
}

func TestServerLock_TryLockWithTimeoutQueues(t *testing.T) {
	sl, _ := newTestServerLock(t, "x")
	a, b := owner("A", 1), owner("B", 1)

	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(tryReq("x", b, 500))

	testutil.AssertEqual(t, 1, sl.queueLen())
}

func TestServerLock_FIFOPromotion(t *testing.T) {
	sl, host := newTestServerLock(t, "x")
	a, b, c := owner("A", 1), owner("B", 1), owner("C", 1)

	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(grantReq("x", b))
	sl.handleRequest(grantReq("x", c))
	testutil.AssertEqual(t, 2, sl.queueLen())

	sl.handleRequest(releaseReq("x", a))
	testutil.AssertEqual(t, b, sl.owner())
	testutil.AssertEqual(t, 1, sl.queueLen())

	sl.handleRequest(releaseReq("x", b))
	testutil.AssertEqual(t, c, sl.owner())
	testutil.AssertEqual(t, 0, sl.queueLen())

	// Grant responses went out in arrival order: A, B, C.
	want := []fakeResponse{
		{types.LockGranted, a, "x"},
		{types.LockGranted, b, "x"},
		{types.LockGranted, c, "x"},
	}
	testutil.AssertEqual(t, want, host.responses)
}

func TestServerLock_DuplicateOwnerRequestDiscarded(t *testing.T) {
	sl, host := newTestServerLock(t, "x")
	d, a := owner("D", 1), owner("A", 1)

	sl.handleRequest(grantReq("x", d))
	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(grantReq("x", a)) // retry collapses into the first
	testutil.AssertEqual(t, 1, sl.queueLen())

	sl.handleRequest(releaseReq("x", d))
	testutil.AssertEqual(t, a, sl.owner())
	testutil.AssertEqual(t, 0, sl.queueLen())

	// A was granted exactly once.
	granted := 0
	for _, rsp := range host.responses {
		if rsp.t == types.LockGranted && rsp.dest == a {
			granted++
		}
	}
	testutil.AssertEqual(t, 1, granted)
}

func TestServerLock_ReleaseFromWaiterWithdraws(t *testing.T) {
	sl, _ := newTestServerLock(t, "x")
	a, b, c := owner("A", 1), owner("B", 1), owner("C", 1)

	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(grantReq("x", b))
	sl.handleRequest(grantReq("x", c))

	sl.handleRequest(releaseReq("x", b))
	testutil.AssertEqual(t, 1, sl.queueLen())

	sl.handleRequest(releaseReq("x", a))
	testutil.AssertEqual(t, c, sl.owner())
}

func TestServerLock_ReleaseWhenFreeIsIgnored(t *testing.T) {
	sl, host := newTestServerLock(t, "x")

	sl.handleRequest(releaseReq("x", owner("A", 1)))

	testutil.AssertTrue(t, sl.unused())
	testutil.AssertLen(t, host.responses, 0)
	testutil.AssertLen(t, host.unlocked, 0)
}

func TestServerLock_ViewEvictsDepartedOwner(t *testing.T) {
	sl, host := newTestServerLock(t, "x")
	a, b, c := owner("A", 1), owner("B", 1), owner("C", 1)

	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(grantReq("x", b))
	sl.handleRequest(grantReq("x", c))

	// A's member leaves; B is promoted, C stays queued.
	sl.handleView([]types.MemberAddress{"B", "C"})

	testutil.AssertEqual(t, b, sl.owner())
	testutil.AssertEqual(t, 1, sl.queueLen())
	testutil.AssertEqual(t, []fakeTransition{{"x", a}}, host.unlocked)
	testutil.AssertEqual(t, fakeTransition{"x", b}, host.locked[1])
}

func TestServerLock_ViewEvictsDepartedWaiters(t *testing.T) {
	sl, _ := newTestServerLock(t, "x")
	a, b := owner("A", 1), owner("B", 1)

	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(grantReq("x", b))

	sl.handleView([]types.MemberAddress{"A"})

	testutil.AssertEqual(t, a, sl.owner())
	testutil.AssertEqual(t, 0, sl.queueLen())
}

func TestServerLock_ViewEvictingEveryoneLeavesUnused(t *testing.T) {
	sl, _ := newTestServerLock(t, "x")

	sl.handleRequest(grantReq("x", owner("A", 1)))
	sl.handleRequest(grantReq("x", owner("B", 1)))

	sl.handleView([]types.MemberAddress{"Z"})

	testutil.AssertTrue(t, sl.unused())
}

func TestServerLock_QueueHoldsOnlyGrantRequests(t *testing.T) {
	sl, _ := newTestServerLock(t, "x")
	a, b := owner("A", 1), owner("B", 1)

	sl.handleRequest(grantReq("x", a))
	sl.handleRequest(releaseReq("x", b)) // non-holder, empty queue: discarded
	testutil.AssertEqual(t, 0, sl.queueLen())

	sl.handleRequest(grantReq("x", b))
	sl.mu.Lock()
	for _, req := range sl.queue {
		testutil.AssertEqual(t, types.GrantLock, req.Type)
	}
	sl.mu.Unlock()
}

func TestServerLock_CreateWithOwner(t *testing.T) {
	host := newFakeHost()
	a := owner("A", 7)
	sl := newServerLockWithOwner("x", a, host, logger.NewNoOpLogger(), NewNoOpMetrics())

	testutil.AssertEqual(t, a, sl.owner())
	testutil.AssertFalse(t, sl.unused())
	// Replicated state does not re-announce the transition.
	testutil.AssertLen(t, host.locked, 0)
}
