package memcache

import (
	"fmt"

	"github.com/pior/memcache-binary/binprot"
)

// correlator hands out opaques on a connection and tells which request a
// response belongs to.
//
// Opaques are sequential. A synchronous exchange (single request or quiet batch
// ended by a noop) reserves a contiguous range. No-reply requests reserve one
// opaque each and are only answered on failure, so their responses show up
// later, ahead of the next synchronous exchange. Since the server answers in
// order, once an exchange completes no earlier request can still answer.
type correlator struct {
	last uint32

	// opaques in [firedFrom, first of the next exchange) belong to no-reply requests
	hasFired  bool
	firedFrom uint32
}

// reserve allocates n consecutive opaques and returns the first one.
func (c *correlator) reserve(n int) uint32 {
	first := c.last + 1
	c.last += uint32(n)
	return first
}

// fire allocates the opaque of a no-reply request.
func (c *correlator) fire() uint32 {
	opaque := c.reserve(1)
	if !c.hasFired {
		c.hasFired = true
		c.firedFrom = opaque
	}
	return opaque
}

// match locates a response within the exchange [first, first+n).
// It returns the request index, or -1 for a late response to a no-reply request.
// Any other opaque means the stream is out of sync.
func (c *correlator) match(resp *binprot.Response, first uint32, n int) (int, error) {
	if offset := resp.Opaque - first; offset < uint32(n) {
		return int(offset), nil
	}

	if c.hasFired && resp.Opaque-c.firedFrom < first-c.firedFrom {
		return -1, nil
	}

	return -1, &binprot.ProtocolError{
		Message: fmt.Sprintf("unexpected opaque %d for %s, awaiting %d..%d", resp.Opaque, resp.Opcode, first, first+uint32(n)-1),
	}
}

// settle is called once an exchange completed: every earlier request has answered.
func (c *correlator) settle() {
	c.hasFired = false
}
