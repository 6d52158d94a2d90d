package transport

import (
	"testing"

	"github.com/jathurchan/grouplock/testutil"
	"github.com/jathurchan/grouplock/types"
)

func TestFrame_RoundTrip(t *testing.T) {
	msgs := []*Message{
		{Src: "a", Dest: "b", Flags: DontBundle, Protocol: "locking", Payload: []byte{1, 2, 3}},
		{Src: "node-1:7800", Dest: types.Broadcast, Protocol: "locking", Payload: nil},
		{Protocol: "", Payload: []byte{}},
	}

	for _, msg := range msgs {
		frame, err := encodeFrame(msg)
		testutil.RequireNoError(t, err)

		got, err := decodeFrame(frame)
		testutil.RequireNoError(t, err)

		testutil.AssertEqual(t, msg.Src, got.Src)
		testutil.AssertEqual(t, msg.Dest, got.Dest)
		testutil.AssertEqual(t, msg.Flags, got.Flags)
		testutil.AssertEqual(t, msg.Protocol, got.Protocol)
		testutil.AssertEqual(t, len(msg.Payload), len(got.Payload))
	}
}

func TestFrame_TruncationRejected(t *testing.T) {
	frame, err := encodeFrame(&Message{Src: "a", Dest: "b", Protocol: "locking", Payload: []byte{9}})
	testutil.RequireNoError(t, err)

	for n := 0; n < len(frame)-1; n++ {
		if _, err := decodeFrame(frame[:n]); err == nil {
			// The last byte boundary is the flags/payload split; any shorter
			// prefix must fail.
			t.Fatalf("prefix of %d bytes decoded successfully", n)
		}
	}
}
