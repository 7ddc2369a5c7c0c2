// Package binprot implements the frame codec of the memcached binary protocol.
//
// Every frame starts with a 24-byte big-endian header followed by a body made of
// extras, key and value, in that order:
//
//	magic(1) opcode(1) key_length(2) extras_length(1) data_type(1)
//	vbucket_or_status(2) total_body_length(4) opaque(4) cas(8)
//
// The package only deals with frames. Matching responses to requests, connection
// management and authentication live in the parent package.
//
// # Encoding
//
//	req := binprot.NewStoreRequest(binprot.OpSet, []byte("Foo"), []byte("Bar"), 0xdeadbeef, 2, 0)
//	err := binprot.WriteRequest(w, req)
//
// # Decoding
//
// ReadResponse blocks on a bufio.Reader. DecodeResponse works on a byte slice and
// reports how many more bytes are needed when the slice holds a partial frame:
//
//	resp, n, err := binprot.DecodeResponse(buf)
//	var more *binprot.NeedMoreDataError
//	if errors.As(err, &more) {
//	    // read at least more.Missing bytes and retry
//	}
//
// # Errors
//
// A non-success status becomes a *StatusError through Response.Err. It matches the
// sentinel errors (ErrKeyNotFound, ErrCASMismatch...) with errors.Is and leaves the
// connection usable. A malformed frame is a *ProtocolError and the connection must
// be closed, see ShouldCloseConnection.
package binprot
