package testutils

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/pior/memcache-binary/binprot"
)

// ConnectionMock is a net.Conn replaying pre-encoded response frames and
// recording what the client writes.
type ConnectionMock struct {
	mu       sync.Mutex
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	closed   bool
}

// NewConnectionMock creates a mock connection that will serve the given responses, in order.
func NewConnectionMock(responses ...*binprot.Response) *ConnectionMock {
	var data []byte
	for _, resp := range responses {
		data = binprot.AppendResponse(data, resp)
	}
	return &ConnectionMock{
		readBuf:  bytes.NewBuffer(data),
		writeBuf: &bytes.Buffer{},
	}
}

// AddResponses queues more response frames.
func (m *ConnectionMock) AddResponses(responses ...*binprot.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, resp := range responses {
		m.readBuf.Write(binprot.AppendResponse(nil, resp))
	}
}

// AddRawData queues bytes as they are, for truncated or corrupted frames.
func (m *ConnectionMock) AddRawData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf.Write(data)
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *ConnectionMock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error      { return nil }
func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// Written returns the raw bytes written to the mock connection.
func (m *ConnectionMock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.writeBuf.Bytes())
}

// WrittenRequests decodes the request frames written to the mock connection.
// It stops at the first incomplete or invalid frame.
func (m *ConnectionMock) WrittenRequests() []*binprot.Request {
	data := m.Written()

	var reqs []*binprot.Request
	for len(data) > 0 {
		req, n, err := binprot.DecodeRequest(data)
		if err != nil {
			break
		}
		reqs = append(reqs, req)
		data = data[n:]
	}
	return reqs
}
