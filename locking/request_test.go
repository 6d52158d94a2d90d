package locking

import (
	"strings"
	"testing"

	"github.com/jathurchan/grouplock/testutil"
	"github.com/jathurchan/grouplock/types"
)

func TestRequest_RoundTrip(t *testing.T) {
	reqs := []types.Request{
		{Type: types.GrantLock, LockName: "x", Owner: owner("A", 1)},
		{Type: types.GrantLock, LockName: "orders", Owner: owner("node-2:7800", 42), Timeout: 1500, IsTryLock: true},
		{Type: types.LockGranted, LockName: "x", Owner: owner("A", 1)},
		{Type: types.LockDenied, LockName: "x", Owner: owner("B", 9)},
		{Type: types.ReleaseLock, LockName: "x", Owner: owner("A", 1)},
		{Type: types.CreateLock, LockName: "x", Owner: owner("A", 1)},
		{Type: types.DeleteLock, LockName: "x"},
		// A request whose owner has no address yet (sent before the local
		// address was assigned) must still survive the wire.
		{Type: types.GrantLock, LockName: "x", Owner: types.Owner{ID: 3}},
	}

	for _, req := range reqs {
		data, err := marshalRequest(req)
		testutil.RequireNoError(t, err, "marshal %s", req)

		got, err := unmarshalRequest(data)
		testutil.RequireNoError(t, err, "unmarshal %s", req)
		testutil.AssertEqual(t, req, got)
	}
}

func TestRequest_TypeOrdinalsAreStable(t *testing.T) {
	// The type byte is the wire-visible enum ordinal; reordering the enum
	// would silently break cross-version interop.
	ordinals := map[types.RequestType]byte{
		types.GrantLock:   0,
		types.LockGranted: 1,
		types.LockDenied:  2,
		types.ReleaseLock: 3,
		types.CreateLock:  4,
		types.DeleteLock:  5,
	}
	for rt, want := range ordinals {
		data, err := marshalRequest(types.Request{Type: rt, LockName: "x"})
		testutil.RequireNoError(t, err)
		testutil.AssertEqual(t, want, data[0], "ordinal of %s", rt)
	}
}

func TestRequest_UnknownTypeRejected(t *testing.T) {
	data, err := marshalRequest(types.Request{Type: types.GrantLock, LockName: "x"})
	testutil.RequireNoError(t, err)

	data[0] = 17
	_, err = unmarshalRequest(data)
	testutil.AssertErrorIs(t, err, ErrUnknownRequestType)
}

func TestRequest_TruncationRejected(t *testing.T) {
	data, err := marshalRequest(types.Request{
		Type: types.GrantLock, LockName: "orders", Owner: owner("A", 1), Timeout: 100, IsTryLock: true,
	})
	testutil.RequireNoError(t, err)

	// Every proper prefix must fail cleanly, never panic.
	for n := 0; n < len(data); n++ {
		_, err := unmarshalRequest(data[:n])
		testutil.AssertErrorIs(t, err, ErrTruncatedRequest, "prefix of %d bytes", n)
	}
}

func TestRequest_TrailingBytesRejected(t *testing.T) {
	data, err := marshalRequest(types.Request{Type: types.GrantLock, LockName: "x"})
	testutil.RequireNoError(t, err)

	_, err = unmarshalRequest(append(data, 0xff))
	testutil.AssertErrorIs(t, err, ErrTrailingBytes)
}

func TestRequest_OversizedNameRejected(t *testing.T) {
	_, err := marshalRequest(types.Request{
		Type:     types.GrantLock,
		LockName: strings.Repeat("n", maxWireString+1),
	})
	testutil.AssertErrorIs(t, err, ErrStringTooLong)
}

func TestRequest_AbsentOwnerAddressIsOneByte(t *testing.T) {
	withAddr, err := marshalRequest(types.Request{Type: types.GrantLock, LockName: "x", Owner: owner("A", 1)})
	testutil.RequireNoError(t, err)
	without, err := marshalRequest(types.Request{Type: types.GrantLock, LockName: "x", Owner: types.Owner{ID: 1}})
	testutil.RequireNoError(t, err)

	// present flag + 2-byte length + "A" vs a lone absent flag
	testutil.AssertEqual(t, len(without)+3, len(withAddr))
}
