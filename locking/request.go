package locking

import (
	"encoding/binary"
	"fmt"

	"github.com/jathurchan/grouplock/types"
)

// Wire format of a Request, all integers big-endian:
//
//	1 byte   type (enum ordinal)
//	2 bytes  lock name length, then the name bytes (UTF-8)
//	1 byte   owner address present (0 or 1)
//	2 bytes  owner address length, then the address bytes (only if present)
//	8 bytes  owner ID
//	8 bytes  timeout in milliseconds
//	1 byte   try-lock flag (0 or 1)

// marshalRequest encodes a request for transmission.
func marshalRequest(req types.Request) ([]byte, error) {
	if len(req.LockName) > maxWireString {
		return nil, fmt.Errorf("lock name %d bytes: %w", len(req.LockName), ErrStringTooLong)
	}
	if len(req.Owner.Addr) > maxWireString {
		return nil, fmt.Errorf("owner address %d bytes: %w", len(req.Owner.Addr), ErrStringTooLong)
	}

	buf := make([]byte, 0, requestHeaderSize+len(req.LockName)+len(req.Owner.Addr))
	buf = append(buf, byte(req.Type))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(req.LockName)))
	buf = append(buf, req.LockName...)

	if req.Owner.Addr == "" {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(req.Owner.Addr)))
		buf = append(buf, req.Owner.Addr...)
	}
	buf = binary.BigEndian.AppendUint64(buf, req.Owner.ID)

	buf = binary.BigEndian.AppendUint64(buf, uint64(req.Timeout))
	if req.IsTryLock {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf, nil
}

// unmarshalRequest decodes a request payload. Any failure is a protocol
// error; the caller logs and drops the message (the sender is not notified).
func unmarshalRequest(data []byte) (types.Request, error) {
	var req types.Request
	r := wireReader{data: data}

	t, err := r.readByte()
	if err != nil {
		return req, err
	}
	req.Type = types.RequestType(t)
	if !req.Type.IsValid() {
		return req, fmt.Errorf("type %d: %w", t, ErrUnknownRequestType)
	}

	if req.LockName, err = r.readString(); err != nil {
		return req, err
	}

	present, err := r.readByte()
	if err != nil {
		return req, err
	}
	if present != 0 {
		addr, err := r.readString()
		if err != nil {
			return req, err
		}
		req.Owner.Addr = types.MemberAddress(addr)
	}
	if req.Owner.ID, err = r.readUint64(); err != nil {
		return req, err
	}

	timeout, err := r.readUint64()
	if err != nil {
		return req, err
	}
	req.Timeout = int64(timeout)

	try, err := r.readByte()
	if err != nil {
		return req, err
	}
	req.IsTryLock = try != 0

	if r.remaining() != 0 {
		return req, fmt.Errorf("%d bytes: %w", r.remaining(), ErrTrailingBytes)
	}
	return req, nil
}

// wireReader walks a request payload, reporting truncation as an error
// instead of panicking on short input.
type wireReader struct {
	data []byte
	off  int
}

func (r *wireReader) remaining() int { return len(r.data) - r.off }

func (r *wireReader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncatedRequest
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *wireReader) readUint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrTruncatedRequest
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *wireReader) readString() (string, error) {
	if r.remaining() < 2 {
		return "", ErrTruncatedRequest
	}
	n := int(binary.BigEndian.Uint16(r.data[r.off:]))
	r.off += 2
	if r.remaining() < n {
		return "", ErrTruncatedRequest
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s, nil
}
