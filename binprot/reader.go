package binprot

import (
	"bufio"
	"io"
)

// ReadResponse reads one response frame from r.
//
// I/O errors are returned unchanged (io.EOF when the server closed the stream
// between frames). A frame violating the protocol returns a *ProtocolError.
// A non-success status is not an error here, see Response.Err.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	h, body, err := readFrame(r, MagicResponse)
	if err != nil {
		return nil, err
	}
	return newResponse(h, body), nil
}

// ReadRequest reads one request frame from r.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	h, body, err := readFrame(r, MagicRequest)
	if err != nil {
		return nil, err
	}
	return newRequest(h, body), nil
}

func readFrame(r *bufio.Reader, want Magic) (Header, []byte, error) {
	var hdr [HeaderLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, nil, err
	}

	h := parseHeader(hdr[:])
	if err := h.validate(want); err != nil {
		return Header{}, nil, err
	}

	if h.BodyLength == 0 {
		return h, nil, nil
	}

	body := make([]byte, h.BodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Header{}, nil, err
	}
	return h, body, nil
}

// DecodeResponse decodes the response frame at the start of b without blocking.
// It returns the frame and the number of bytes consumed. When b holds only part
// of a frame, it returns a *NeedMoreDataError with the number of missing bytes.
// The returned slices alias b.
func DecodeResponse(b []byte) (*Response, int, error) {
	h, body, n, err := decodeFrame(b, MagicResponse)
	if err != nil {
		return nil, 0, err
	}
	return newResponse(h, body), n, nil
}

// DecodeRequest is the request counterpart of DecodeResponse.
func DecodeRequest(b []byte) (*Request, int, error) {
	h, body, n, err := decodeFrame(b, MagicRequest)
	if err != nil {
		return nil, 0, err
	}
	return newRequest(h, body), n, nil
}

func decodeFrame(b []byte, want Magic) (Header, []byte, int, error) {
	if len(b) < HeaderLength {
		return Header{}, nil, 0, &NeedMoreDataError{Missing: HeaderLength - len(b)}
	}

	h := parseHeader(b)
	if err := h.validate(want); err != nil {
		return Header{}, nil, 0, err
	}

	total := HeaderLength + int(h.BodyLength)
	if len(b) < total {
		return Header{}, nil, 0, &NeedMoreDataError{Missing: total - len(b)}
	}
	return h, b[HeaderLength:total], total, nil
}

func newResponse(h Header, body []byte) *Response {
	extras, key, value := h.split(body)
	return &Response{
		Opcode:   h.Opcode,
		DataType: h.DataType,
		Status:   Status(h.VBucket),
		Opaque:   h.Opaque,
		CAS:      h.CAS,
		Extras:   extras,
		Key:      key,
		Value:    value,
	}
}

func newRequest(h Header, body []byte) *Request {
	extras, key, value := h.split(body)
	return &Request{
		Opcode:   h.Opcode,
		DataType: h.DataType,
		VBucket:  h.VBucket,
		Opaque:   h.Opaque,
		CAS:      h.CAS,
		Extras:   extras,
		Key:      key,
		Value:    value,
	}
}
