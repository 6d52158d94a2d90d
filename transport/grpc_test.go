package transport

import (
	"net"
	"testing"
	"time"

	"github.com/jathurchan/grouplock/testutil"
	"github.com/jathurchan/grouplock/types"
)

func reservePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	testutil.RequireNoError(t, err)
	addr := l.Addr().String()
	testutil.RequireNoError(t, l.Close())
	return addr
}

func startPair(t *testing.T) (*GRPCTransport, *testUpcall, *GRPCTransport, *testUpcall) {
	t.Helper()
	addrA, addrB := reservePort(t), reservePort(t)
	peers := map[types.MemberAddress]PeerConfig{
		"a": {Address: addrA},
		"b": {Address: addrB},
	}

	ua, ub := &testUpcall{}, &testUpcall{}
	ta, err := NewGRPCTransport("a", addrA, peers, nil, GRPCTransportOptions{})
	testutil.RequireNoError(t, err)
	tb, err := NewGRPCTransport("b", addrB, peers, nil, GRPCTransportOptions{})
	testutil.RequireNoError(t, err)

	testutil.RequireNoError(t, ta.Start(ua))
	testutil.RequireNoError(t, tb.Start(ub))
	t.Cleanup(ta.Stop)
	t.Cleanup(tb.Stop)
	return ta, ua, tb, ub
}

func TestGRPC_ConstructionValidation(t *testing.T) {
	peers := map[types.MemberAddress]PeerConfig{"a": {Address: "localhost:1"}}

	_, err := NewGRPCTransport(types.Broadcast, "localhost:1", peers, nil, GRPCTransportOptions{})
	testutil.AssertErrorIs(t, err, ErrInvalidAddress)

	_, err = NewGRPCTransport("x", "localhost:1", peers, nil, GRPCTransportOptions{})
	testutil.AssertError(t, err, "local member must be part of the peer set")

	_, err = NewGRPCTransport("a", "", peers, nil, GRPCTransportOptions{})
	testutil.AssertError(t, err)

	tp, err := NewGRPCTransport("a", "localhost:1", peers, nil, GRPCTransportOptions{})
	testutil.RequireNoError(t, err)
	testutil.AssertErrorIs(t, tp.Start(nil), ErrNilUpcall)
}

func TestGRPC_StartAnnouncesAddressAndView(t *testing.T) {
	_, ua, _, ub := startPair(t)

	testutil.AssertEqual(t, types.MemberAddress("a"), ua.local)
	testutil.AssertEqual(t, types.MemberAddress("b"), ub.local)

	// The initial view holds every configured member in sorted order.
	want := []types.MemberAddress{"a", "b"}
	testutil.AssertEqual(t, want, ua.lastView().Members)
	testutil.AssertEqual(t, want, ub.lastView().Members)
}

func TestGRPC_Unicast(t *testing.T) {
	ta, ua, _, ub := startPair(t)

	err := ta.Send(&Message{Dest: "b", Protocol: "locking", Payload: []byte("hello")})
	testutil.RequireNoError(t, err)

	testutil.AssertTrue(t, waitFor(3*time.Second, func() bool { return ub.numMessages() == 1 }))
	got := ub.message(0)
	testutil.AssertEqual(t, types.MemberAddress("a"), got.Src)
	testutil.AssertEqual(t, "locking", got.Protocol)
	testutil.AssertEqual(t, []byte("hello"), got.Payload)
	testutil.AssertEqual(t, 0, ua.numMessages())
}

func TestGRPC_UnicastToSelfSkipsTheWire(t *testing.T) {
	ta, ua, _, _ := startPair(t)

	testutil.RequireNoError(t, ta.Send(&Message{Dest: "a", Protocol: "locking"}))
	testutil.AssertTrue(t, waitFor(time.Second, func() bool { return ua.numMessages() == 1 }))
}

func TestGRPC_Broadcast(t *testing.T) {
	ta, ua, _, ub := startPair(t)

	testutil.RequireNoError(t, ta.Send(&Message{Dest: types.Broadcast, Protocol: "locking"}))

	testutil.AssertTrue(t, waitFor(3*time.Second, func() bool {
		return ua.numMessages() == 1 && ub.numMessages() == 1
	}), "broadcast must reach the sender and the peer")
}

func TestGRPC_SendToUnknownMember(t *testing.T) {
	ta, _, _, _ := startPair(t)

	err := ta.Send(&Message{Dest: "nobody", Protocol: "locking"})
	testutil.AssertErrorIs(t, err, ErrUnknownMember)
}

func TestGRPC_InstallView(t *testing.T) {
	ta, ua, _, _ := startPair(t)

	ta.InstallView("a")

	view := ua.lastView()
	testutil.AssertEqual(t, []types.MemberAddress{"a"}, view.Members)
	testutil.AssertTrue(t, view.ID > 1, "view ID must advance")
}

func TestGRPC_SendAfterStop(t *testing.T) {
	ta, _, _, _ := startPair(t)

	ta.Stop()
	err := ta.Send(&Message{Dest: "b", Protocol: "locking"})
	testutil.AssertErrorIs(t, err, ErrShuttingDown)
}
