package binprot

import (
	"encoding/binary"
	"fmt"
)

// MaxBodyLength bounds the body a decoder accepts before allocating for it.
const MaxBodyLength = 128 << 20

// Header is the fixed 24-byte frame header.
// VBucket carries the vbucket id on requests and the status on responses.
type Header struct {
	Magic        Magic
	Opcode       Opcode
	KeyLength    uint16
	ExtrasLength uint8
	DataType     uint8
	VBucket      uint16
	BodyLength   uint32
	Opaque       uint32
	CAS          uint64
}

func (h *Header) put(b []byte) {
	_ = b[HeaderLength-1]
	b[0] = byte(h.Magic)
	b[1] = byte(h.Opcode)
	binary.BigEndian.PutUint16(b[2:4], h.KeyLength)
	b[4] = h.ExtrasLength
	b[5] = h.DataType
	binary.BigEndian.PutUint16(b[6:8], h.VBucket)
	binary.BigEndian.PutUint32(b[8:12], h.BodyLength)
	binary.BigEndian.PutUint32(b[12:16], h.Opaque)
	binary.BigEndian.PutUint64(b[16:24], h.CAS)
}

func parseHeader(b []byte) Header {
	_ = b[HeaderLength-1]
	return Header{
		Magic:        Magic(b[0]),
		Opcode:       Opcode(b[1]),
		KeyLength:    binary.BigEndian.Uint16(b[2:4]),
		ExtrasLength: b[4],
		DataType:     b[5],
		VBucket:      binary.BigEndian.Uint16(b[6:8]),
		BodyLength:   binary.BigEndian.Uint32(b[8:12]),
		Opaque:       binary.BigEndian.Uint32(b[12:16]),
		CAS:          binary.BigEndian.Uint64(b[16:24]),
	}
}

// validate checks everything that can be checked from the header alone.
func (h *Header) validate(want Magic) error {
	if h.Magic != want {
		return protocolErrorf("bad magic 0x%02x, expected %s", uint8(h.Magic), want)
	}
	if !h.Opcode.Valid() {
		return protocolErrorf("unknown opcode 0x%02x", uint8(h.Opcode))
	}
	if uint32(h.ExtrasLength)+uint32(h.KeyLength) > h.BodyLength {
		return protocolErrorf("body length %d shorter than extras %d + key %d",
			h.BodyLength, h.ExtrasLength, h.KeyLength)
	}
	if h.BodyLength > MaxBodyLength {
		return protocolErrorf("body length %d exceeds limit %d", h.BodyLength, MaxBodyLength)
	}
	return nil
}

// split cuts a body into extras, key and value. The header must be validated.
func (h *Header) split(body []byte) (extras, key, value []byte) {
	e := int(h.ExtrasLength)
	k := e + int(h.KeyLength)
	if e > 0 {
		extras = body[:e:e]
	}
	if k > e {
		key = body[e:k:k]
	}
	if len(body) > k {
		value = body[k:]
	}
	return extras, key, value
}

// Request is a client-to-server frame.
type Request struct {
	Opcode   Opcode
	DataType uint8
	VBucket  uint16
	Opaque   uint32
	CAS      uint64
	Extras   []byte
	Key      []byte
	Value    []byte
}

func (r *Request) String() string {
	return fmt.Sprintf("%s key=%q opaque=%d cas=%d", r.Opcode, r.Key, r.Opaque, r.CAS)
}

// Validate checks that the request fits in a frame.
func (r *Request) Validate() error {
	_, err := r.header()
	return err
}

func (r *Request) header() (Header, error) {
	if len(r.Key) > 0xffff {
		return Header{}, &InvalidKeyError{Message: "key exceeds 65535 bytes"}
	}
	if len(r.Extras) > 0xff {
		return Header{}, protocolErrorf("extras length %d exceeds 255", len(r.Extras))
	}
	body := len(r.Extras) + len(r.Key) + len(r.Value)
	if body > MaxBodyLength {
		return Header{}, &StatusError{Status: StatusValueTooLarge, Message: "request body exceeds frame limit"}
	}
	return Header{
		Magic:        MagicRequest,
		Opcode:       r.Opcode,
		KeyLength:    uint16(len(r.Key)),
		ExtrasLength: uint8(len(r.Extras)),
		DataType:     r.DataType,
		VBucket:      r.VBucket,
		BodyLength:   uint32(body),
		Opaque:       r.Opaque,
		CAS:          r.CAS,
	}, nil
}

// Response is a server-to-client frame.
type Response struct {
	Opcode   Opcode
	DataType uint8
	Status   Status
	Opaque   uint32
	CAS      uint64
	Extras   []byte
	Key      []byte
	Value    []byte
}

func (r *Response) String() string {
	return fmt.Sprintf("%s status=%q opaque=%d cas=%d", r.Opcode, r.Status, r.Opaque, r.CAS)
}

// Err returns the response status as an error, nil on success.
func (r *Response) Err() error {
	return r.Status.Err(string(r.Value))
}

// Validate checks that the response fits in a frame.
func (r *Response) Validate() error {
	_, err := r.header()
	return err
}

func (r *Response) header() (Header, error) {
	if len(r.Key) > 0xffff {
		return Header{}, &InvalidKeyError{Message: "key exceeds 65535 bytes"}
	}
	if len(r.Extras) > 0xff {
		return Header{}, protocolErrorf("extras length %d exceeds 255", len(r.Extras))
	}
	body := len(r.Extras) + len(r.Key) + len(r.Value)
	if body > MaxBodyLength {
		return Header{}, protocolErrorf("response body %d exceeds limit %d", body, MaxBodyLength)
	}
	return Header{
		Magic:        MagicResponse,
		Opcode:       r.Opcode,
		KeyLength:    uint16(len(r.Key)),
		ExtrasLength: uint8(len(r.Extras)),
		DataType:     r.DataType,
		VBucket:      uint16(r.Status),
		BodyLength:   uint32(body),
		Opaque:       r.Opaque,
		CAS:          r.CAS,
	}, nil
}
