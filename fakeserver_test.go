package memcache

import (
	"bufio"
	"bytes"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/pior/memcache-binary/binprot"
)

type fakeItem struct {
	value      []byte
	flags      uint32
	expiration uint32
	cas        uint64
}

// fakeServer is an in-memory memcached speaking the binary protocol.
// Expirations are stored but never enforced.
type fakeServer struct {
	addr string

	// credentials, when set, are required before any data request
	credentials *Credentials
	// saslSteps is the number of SaslStep rounds required after SaslAuth
	saslSteps    int
	maxValueSize int

	listener net.Listener

	mu       sync.Mutex
	items    map[string]*fakeItem
	lastCAS  uint64
	received []binprot.Opcode
	conns    map[net.Conn]bool
}

type fakeServerOption func(*fakeServer)

func withFakeCredentials(username, password string) fakeServerOption {
	return func(s *fakeServer) {
		s.credentials = &Credentials{Username: username, Password: password}
	}
}

func withFakeSaslSteps(n int) fakeServerOption {
	return func(s *fakeServer) {
		s.saslSteps = n
	}
}

func withFakeMaxValueSize(n int) fakeServerOption {
	return func(s *fakeServer) {
		s.maxValueSize = n
	}
}

func newFakeServer(t testing.TB, opts ...fakeServerOption) *fakeServer {
	t.Helper()

	s := &fakeServer{
		maxValueSize: binprot.DefaultMaxValueLength,
		items:        map[string]*fakeItem{},
		conns:        map[net.Conn]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start fake server: %v", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	t.Cleanup(s.Stop)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns[conn] = true
			s.mu.Unlock()

			go s.serve(conn)
		}
	}()

	return s
}

// Stop closes the listener and every open connection.
func (s *fakeServer) Stop() {
	_ = s.listener.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// Received returns the opcodes of the data requests received so far.
func (s *fakeServer) Received() []binprot.Opcode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]binprot.Opcode(nil), s.received...)
}

func (s *fakeServer) Item(key string) (fakeItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return fakeItem{}, false
	}
	return *item, true
}

func (s *fakeServer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *fakeServer) serve(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	session := &fakeSession{authenticated: s.credentials == nil}

	for {
		req, err := binprot.ReadRequest(reader)
		if err != nil {
			return
		}

		resps, quit := s.handle(session, req)
		for _, resp := range resps {
			resp.Opcode = req.Opcode
			resp.Opaque = req.Opaque
			if err := binprot.WriteResponse(writer, resp); err != nil {
				return
			}
		}
		if err := writer.Flush(); err != nil {
			return
		}
		if quit {
			return
		}
	}
}

type fakeSession struct {
	authenticated bool
	steps         int
}

func statusResponse(status binprot.Status) []*binprot.Response {
	return []*binprot.Response{{Status: status, Value: []byte(status.String())}}
}

// quietSuccess suppresses the success response of quiet opcodes.
func quietSuccess(op binprot.Opcode, resp *binprot.Response) []*binprot.Response {
	if op.IsQuiet() {
		return nil
	}
	return []*binprot.Response{resp}
}

func (s *fakeServer) handle(session *fakeSession, req *binprot.Request) ([]*binprot.Response, bool) {
	switch req.Opcode {
	case binprot.OpSaslListMechs:
		return []*binprot.Response{{Value: []byte("PLAIN")}}, false
	case binprot.OpSaslAuth, binprot.OpSaslStep:
		return s.handleSasl(session, req), false
	case binprot.OpQuit:
		return []*binprot.Response{{}}, true
	case binprot.OpQuitQ:
		return nil, true
	}

	if !session.authenticated {
		return statusResponse(binprot.StatusAuthError), false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.received = append(s.received, req.Opcode)

	switch req.Opcode {
	case binprot.OpGet, binprot.OpGetQ, binprot.OpGetK, binprot.OpGetKQ:
		return s.get(req), false

	case binprot.OpSet, binprot.OpSetQ, binprot.OpAdd, binprot.OpAddQ, binprot.OpReplace, binprot.OpReplaceQ:
		return s.store(req), false

	case binprot.OpAppend, binprot.OpAppendQ, binprot.OpPrepend, binprot.OpPrependQ:
		return s.concat(req), false

	case binprot.OpDelete, binprot.OpDeleteQ:
		item, ok := s.items[string(req.Key)]
		if !ok {
			return statusResponse(binprot.StatusKeyNotFound), false
		}
		if req.CAS != 0 && req.CAS != item.cas {
			return statusResponse(binprot.StatusKeyExists), false
		}
		delete(s.items, string(req.Key))
		return quietSuccess(req.Opcode, &binprot.Response{}), false

	case binprot.OpIncrement, binprot.OpIncrementQ, binprot.OpDecrement, binprot.OpDecrementQ:
		return s.counter(req), false

	case binprot.OpTouch:
		exp, err := binprot.ParseExpirationExtras(req.Extras)
		if err != nil {
			return statusResponse(binprot.StatusInvalidArguments), false
		}
		item, ok := s.items[string(req.Key)]
		if !ok {
			return statusResponse(binprot.StatusKeyNotFound), false
		}
		if req.CAS != 0 && req.CAS != item.cas {
			return statusResponse(binprot.StatusKeyExists), false
		}
		item.expiration = exp
		return []*binprot.Response{{CAS: item.cas}}, false

	case binprot.OpFlush, binprot.OpFlushQ:
		s.items = map[string]*fakeItem{}
		return quietSuccess(req.Opcode, &binprot.Response{}), false

	case binprot.OpNoop:
		return []*binprot.Response{{}}, false

	case binprot.OpVersion:
		return []*binprot.Response{{Value: []byte("1.6.21-fake")}}, false

	case binprot.OpStat:
		return s.stats(string(req.Key)), false

	default:
		return statusResponse(binprot.StatusUnknownCommand), false
	}
}

func (s *fakeServer) handleSasl(session *fakeSession, req *binprot.Request) []*binprot.Response {
	if s.credentials == nil || string(req.Key) != PlainMechanism {
		return statusResponse(binprot.StatusAuthError)
	}

	if req.Opcode == binprot.OpSaslAuth {
		if !bytes.Equal(req.Value, binprot.PlainAuthData(s.credentials.Username, s.credentials.Password)) {
			return statusResponse(binprot.StatusAuthError)
		}
		session.steps = 0
	} else {
		if session.steps >= s.saslSteps {
			return statusResponse(binprot.StatusAuthError)
		}
		session.steps++
	}

	if session.steps < s.saslSteps {
		return []*binprot.Response{{Status: binprot.StatusAuthContinue, Value: []byte("challenge")}}
	}

	session.authenticated = true
	return []*binprot.Response{{Value: []byte("Authenticated")}}
}

func (s *fakeServer) nextCAS() uint64 {
	s.lastCAS++
	return s.lastCAS
}

func (s *fakeServer) get(req *binprot.Request) []*binprot.Response {
	item, ok := s.items[string(req.Key)]
	if !ok {
		if req.Opcode.IsQuiet() {
			return nil
		}
		return statusResponse(binprot.StatusKeyNotFound)
	}

	resp := &binprot.Response{
		CAS:    item.cas,
		Extras: binprot.FlagsExtras(item.flags),
		Value:  item.value,
	}
	if req.Opcode == binprot.OpGetK || req.Opcode == binprot.OpGetKQ {
		resp.Key = req.Key
	}
	return []*binprot.Response{resp}
}

func (s *fakeServer) store(req *binprot.Request) []*binprot.Response {
	flags, exp, err := binprot.ParseStoreExtras(req.Extras)
	if err != nil {
		return statusResponse(binprot.StatusInvalidArguments)
	}
	if len(req.Value) > s.maxValueSize {
		return statusResponse(binprot.StatusValueTooLarge)
	}

	key := string(req.Key)
	current, exists := s.items[key]

	switch req.Opcode {
	case binprot.OpAdd, binprot.OpAddQ:
		if exists {
			return statusResponse(binprot.StatusKeyExists)
		}
	case binprot.OpReplace, binprot.OpReplaceQ:
		if !exists {
			return statusResponse(binprot.StatusKeyNotFound)
		}
	}

	if req.CAS != 0 {
		if !exists {
			return statusResponse(binprot.StatusKeyNotFound)
		}
		if current.cas != req.CAS {
			return statusResponse(binprot.StatusKeyExists)
		}
	}

	item := &fakeItem{
		value:      bytes.Clone(req.Value),
		flags:      flags,
		expiration: exp,
		cas:        s.nextCAS(),
	}
	s.items[key] = item
	return quietSuccess(req.Opcode, &binprot.Response{CAS: item.cas})
}

func (s *fakeServer) concat(req *binprot.Request) []*binprot.Response {
	item, ok := s.items[string(req.Key)]
	if !ok {
		return statusResponse(binprot.StatusItemNotStored)
	}
	if req.CAS != 0 && req.CAS != item.cas {
		return statusResponse(binprot.StatusKeyExists)
	}
	if len(item.value)+len(req.Value) > s.maxValueSize {
		return statusResponse(binprot.StatusValueTooLarge)
	}

	switch req.Opcode {
	case binprot.OpAppend, binprot.OpAppendQ:
		item.value = append(bytes.Clone(item.value), req.Value...)
	default:
		item.value = append(bytes.Clone(req.Value), item.value...)
	}
	item.cas = s.nextCAS()
	return quietSuccess(req.Opcode, &binprot.Response{CAS: item.cas})
}

func (s *fakeServer) counter(req *binprot.Request) []*binprot.Response {
	delta, initial, exp, err := binprot.ParseCounterExtras(req.Extras)
	if err != nil {
		return statusResponse(binprot.StatusInvalidArguments)
	}

	key := string(req.Key)
	item, ok := s.items[key]

	if !ok {
		if exp == binprot.NoCreate {
			return statusResponse(binprot.StatusKeyNotFound)
		}
		// memcached refuses a CAS mutation of a missing item, except a zero CAS
		if req.CAS != 0 {
			return statusResponse(binprot.StatusKeyNotFound)
		}
		item = &fakeItem{
			value:      []byte(strconv.FormatUint(initial, 10)),
			expiration: exp,
			cas:        s.nextCAS(),
		}
		s.items[key] = item
		return quietSuccess(req.Opcode, &binprot.Response{CAS: item.cas, Value: binprot.CounterValue(initial)})
	}

	if req.CAS != 0 && req.CAS != item.cas {
		return statusResponse(binprot.StatusKeyExists)
	}

	current, err := strconv.ParseUint(string(item.value), 10, 64)
	if err != nil {
		return statusResponse(binprot.StatusNonNumeric)
	}

	switch req.Opcode {
	case binprot.OpIncrement, binprot.OpIncrementQ:
		current += delta
	default:
		if delta > current {
			current = 0
		} else {
			current -= delta
		}
	}

	item.value = []byte(strconv.FormatUint(current, 10))
	item.cas = s.nextCAS()
	return quietSuccess(req.Opcode, &binprot.Response{CAS: item.cas, Value: binprot.CounterValue(current)})
}

func (s *fakeServer) stats(group string) []*binprot.Response {
	var stats [][2]string
	switch group {
	case "":
		stats = [][2]string{
			{"version", "1.6.21-fake"},
			{"curr_items", strconv.Itoa(len(s.items))},
		}
	case "settings":
		stats = [][2]string{
			{"item_size_max", strconv.Itoa(s.maxValueSize)},
		}
	default:
		return statusResponse(binprot.StatusKeyNotFound)
	}

	resps := make([]*binprot.Response, 0, len(stats)+1)
	for _, kv := range stats {
		resps = append(resps, &binprot.Response{Key: []byte(kv[0]), Value: []byte(kv[1])})
	}
	return append(resps, &binprot.Response{})
}
