package binprot

import (
	"bufio"
	"io"

	"github.com/pior/memcache-binary/internal"
)

// Typical frames are a header plus a short key and value.
var bufferPool = internal.NewBufferPool(256, 64*1024)

// ValidateKey checks that a key fits the protocol: 1 to 250 bytes.
// Keys are binary safe, whitespace is allowed.
func ValidateKey(key []byte) error {
	if len(key) < MinKeyLength {
		return &InvalidKeyError{Message: "key is empty"}
	}
	if len(key) > MaxKeyLength {
		return &InvalidKeyError{Message: "key exceeds maximum length of 250 bytes"}
	}
	return nil
}

// AppendRequest appends the wire form of req to dst.
func AppendRequest(dst []byte, req *Request) ([]byte, error) {
	h, err := req.header()
	if err != nil {
		return dst, err
	}

	var hdr [HeaderLength]byte
	h.put(hdr[:])

	dst = append(dst, hdr[:]...)
	dst = append(dst, req.Extras...)
	dst = append(dst, req.Key...)
	dst = append(dst, req.Value...)
	return dst, nil
}

// Encode returns the wire form of req.
func Encode(req *Request) ([]byte, error) {
	h, err := req.header()
	if err != nil {
		return nil, err
	}
	return AppendRequest(make([]byte, 0, HeaderLength+int(h.BodyLength)), req)
}

// AppendResponse appends the wire form of resp to dst. Responses are built by
// test servers and fixtures: it panics when resp does not fit in a frame, see
// Response.Validate.
func AppendResponse(dst []byte, resp *Response) []byte {
	h, err := resp.header()
	if err != nil {
		panic(err)
	}

	var hdr [HeaderLength]byte
	h.put(hdr[:])

	dst = append(dst, hdr[:]...)
	dst = append(dst, resp.Extras...)
	dst = append(dst, resp.Key...)
	dst = append(dst, resp.Value...)
	return dst
}

// WriteRequest serializes req and writes it to w.
// With a bufio.Writer the frame goes straight into its buffer, the caller flushes.
func WriteRequest(w io.Writer, req *Request) error {
	h, err := req.header()
	if err != nil {
		return err
	}

	var hdr [HeaderLength]byte
	h.put(hdr[:])

	if bw, ok := w.(*bufio.Writer); ok {
		bw.Write(hdr[:])
		bw.Write(req.Extras)
		bw.Write(req.Key)
		_, err := bw.Write(req.Value)
		return err
	}

	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	buf.Write(hdr[:])
	buf.Write(req.Extras)
	buf.Write(req.Key)
	buf.Write(req.Value)

	_, err = w.Write(buf.Bytes())
	return err
}

// WriteResponse serializes resp and writes it to w.
func WriteResponse(w io.Writer, resp *Response) error {
	if err := resp.Validate(); err != nil {
		return err
	}

	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	buf.Write(AppendResponse(buf.AvailableBuffer(), resp))

	_, err := w.Write(buf.Bytes())
	return err
}
