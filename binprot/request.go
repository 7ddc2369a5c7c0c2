package binprot

import "strings"

// NewGetRequest builds a get. GetK and GetKQ echo the key in the response.
func NewGetRequest(op Opcode, key []byte) *Request {
	return &Request{Opcode: op, Key: key}
}

// NewStoreRequest builds set, add and replace, and their quiet variants.
func NewStoreRequest(op Opcode, key, value []byte, flags, expiration uint32, cas uint64) *Request {
	return &Request{
		Opcode: op,
		Key:    key,
		Value:  value,
		Extras: StoreExtras(flags, expiration),
		CAS:    cas,
	}
}

// NewConcatRequest builds append and prepend, which carry no extras.
func NewConcatRequest(op Opcode, key, value []byte, cas uint64) *Request {
	return &Request{Opcode: op, Key: key, Value: value, CAS: cas}
}

func NewDeleteRequest(op Opcode, key []byte, cas uint64) *Request {
	return &Request{Opcode: op, Key: key, CAS: cas}
}

// NewCounterRequest builds incr and decr. Use NoCreate as expiration to
// leave missing counters alone.
func NewCounterRequest(op Opcode, key []byte, delta, initial uint64, expiration uint32, cas uint64) *Request {
	return &Request{
		Opcode: op,
		Key:    key,
		Extras: CounterExtras(delta, initial, expiration),
		CAS:    cas,
	}
}

func NewTouchRequest(key []byte, expiration uint32, cas uint64) *Request {
	return &Request{Opcode: OpTouch, Key: key, Extras: ExpirationExtras(expiration), CAS: cas}
}

// NewFlushRequest builds a flush. A zero delay flushes immediately and is sent without extras.
func NewFlushRequest(op Opcode, delay uint32) *Request {
	req := &Request{Opcode: op}
	if delay > 0 {
		req.Extras = ExpirationExtras(delay)
	}
	return req
}

func NewNoopRequest() *Request {
	return &Request{Opcode: OpNoop}
}

// NewQuitRequest asks the server to close the connection. OpQuitQ gets no answer.
func NewQuitRequest(op Opcode) *Request {
	return &Request{Opcode: op}
}

func NewVersionRequest() *Request {
	return &Request{Opcode: OpVersion}
}

// NewStatRequest asks for a stats group, all groups when empty.
func NewStatRequest(group string) *Request {
	req := &Request{Opcode: OpStat}
	if group != "" {
		req.Key = []byte(group)
	}
	return req
}

func NewSaslListMechsRequest() *Request {
	return &Request{Opcode: OpSaslListMechs}
}

func NewSaslAuthRequest(mechanism string, data []byte) *Request {
	return &Request{Opcode: OpSaslAuth, Key: []byte(mechanism), Value: data}
}

func NewSaslStepRequest(mechanism string, data []byte) *Request {
	return &Request{Opcode: OpSaslStep, Key: []byte(mechanism), Value: data}
}

// PlainAuthData builds the SASL PLAIN message: authzid NUL authcid NUL password,
// with an empty authorization identity.
func PlainAuthData(username, password string) []byte {
	b := make([]byte, 0, len(username)+len(password)+2)
	b = append(b, 0)
	b = append(b, username...)
	b = append(b, 0)
	b = append(b, password...)
	return b
}

// ParseMechanisms splits a SASL list-mechanisms response body.
func ParseMechanisms(value []byte) []string {
	return strings.Fields(string(value))
}
