package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/jathurchan/grouplock/types"
)

// Frame layout carried inside a gRPC Deliver call, all integers big-endian:
//
//	2 bytes  protocol tag length, then the tag bytes
//	2 bytes  source address length, then the address bytes
//	2 bytes  destination address length, then the address bytes
//	1 byte   flags
//	rest     payload

// encodeFrame serializes a message for the wire.
func encodeFrame(msg *Message) ([]byte, error) {
	for _, s := range []string{msg.Protocol, string(msg.Src), string(msg.Dest)} {
		if len(s) > 1<<16-1 {
			return nil, fmt.Errorf("field %d bytes: %w", len(s), ErrBadFrame)
		}
	}

	buf := make([]byte, 0, 7+len(msg.Protocol)+len(msg.Src)+len(msg.Dest)+len(msg.Payload))
	buf = appendString(buf, msg.Protocol)
	buf = appendString(buf, string(msg.Src))
	buf = appendString(buf, string(msg.Dest))
	buf = append(buf, byte(msg.Flags))
	buf = append(buf, msg.Payload...)
	return buf, nil
}

// decodeFrame parses a message off the wire.
func decodeFrame(data []byte) (*Message, error) {
	proto, rest, err := takeString(data)
	if err != nil {
		return nil, err
	}
	src, rest, err := takeString(rest)
	if err != nil {
		return nil, err
	}
	dest, rest, err := takeString(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, ErrBadFrame
	}

	return &Message{
		Src:      types.MemberAddress(src),
		Dest:     types.MemberAddress(dest),
		Flags:    MessageFlags(rest[0]),
		Protocol: proto,
		Payload:  rest[1:],
	}, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func takeString(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, ErrBadFrame
	}
	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return "", nil, ErrBadFrame
	}
	return string(data[:n]), data[n:], nil
}
