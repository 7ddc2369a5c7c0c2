package memcache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/memcache-binary/binprot"
	"github.com/sirupsen/logrus"
)

// ConnectionOptions tune a single connection. The zero value is usable.
type ConnectionOptions struct {
	// Timeout bounds every exchange when the context has no earlier deadline.
	// Zero means no timeout.
	Timeout time.Duration

	// MaxValueSize rejects larger values before they are sent.
	// Zero means binprot.DefaultMaxValueLength.
	MaxValueSize int

	Logger logrus.FieldLogger
}

// Connection is a single authenticated byte stream to one server.
//
// A connection runs one exchange at a time: concurrent callers are serialized.
// After an I/O error, a timeout or a protocol violation the connection is
// broken: every later call fails with ErrConnectionBroken and it must be closed.
// After a failed handshake, calls fail with an *AuthError instead.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	addr         string
	timeout      time.Duration
	maxValueSize int
	logger       logrus.FieldLogger

	mu         sync.Mutex
	correlator correlator
	auth       *authenticator

	broken atomic.Bool
}

func NewConnection(netConn net.Conn, opts ConnectionOptions) *Connection {
	addr := ""
	if ra := netConn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("server", addr)

	maxValueSize := opts.MaxValueSize
	if maxValueSize <= 0 {
		maxValueSize = binprot.DefaultMaxValueLength
	}

	return &Connection{
		conn:         netConn,
		reader:       bufio.NewReader(netConn),
		writer:       bufio.NewWriter(netConn),
		addr:         addr,
		timeout:      opts.Timeout,
		maxValueSize: maxValueSize,
		logger:       logger,
		auth:         newAuthenticator(logger),
	}
}

func (c *Connection) Addr() string {
	return c.addr
}

// quitTimeout bounds the quit written by Close.
const quitTimeout = 100 * time.Millisecond

// Close says quit to the server when the connection is idle and healthy, then
// closes the socket.
func (c *Connection) Close() error {
	if c.mu.TryLock() {
		if !c.broken.Load() && c.auth.authenticated() {
			_ = c.conn.SetWriteDeadline(time.Now().Add(quitTimeout))
			req := binprot.NewQuitRequest(binprot.OpQuitQ)
			req.Opaque = c.correlator.reserve(1)
			if binprot.WriteRequest(c.writer, req) == nil {
				_ = c.writer.Flush()
			}
		}
		c.mu.Unlock()
	}

	c.broken.Store(true)
	return c.conn.Close()
}

// Broken reports whether a fatal error left the connection unusable.
func (c *Connection) Broken() bool {
	return c.broken.Load()
}

// AuthState returns the state of the SASL handshake.
func (c *Connection) AuthState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth.state()
}

// Authenticate runs the SASL PLAIN handshake, or only marks the connection
// as authenticated when creds is nil. A failed handshake breaks the connection.
func (c *Connection) Authenticate(ctx context.Context, creds *Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken.Load() {
		return ErrConnectionBroken
	}

	err := c.auth.run(ctx, creds, c.roundTrip)
	if err != nil {
		c.markBroken(err)
	}
	return err
}

// Send writes req and waits for its response. The request opaque is overwritten.
// A response with a non-success status is returned with a nil error,
// see binprot.Response.Err.
func (c *Connection) Send(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(req); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, req)
}

// SendNoReply writes a quiet request and returns once it is flushed.
// The server only answers on failure: such answers are discarded during the
// next exchange on this connection.
func (c *Connection) SendNoReply(ctx context.Context, req *binprot.Request) error {
	if !req.Opcode.IsQuiet() {
		return fmt.Errorf("%w: %s", ErrNotQuiet, req.Opcode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	req.Opaque = c.correlator.fire()

	stop := c.setDeadline(ctx)
	defer stop()

	if err := binprot.WriteRequest(c.writer, req); err != nil {
		return c.ioError(ctx, "write", err)
	}
	if err := c.writer.Flush(); err != nil {
		return c.ioError(ctx, "flush", err)
	}
	return nil
}

// ExecuteBatch pipelines quiet requests followed by a noop, then reads until
// the noop response. The result has one entry per request, nil when the server
// stayed quiet: a stored item for mutations, a miss for GetQ and GetKQ.
func (c *Connection) ExecuteBatch(ctx context.Context, reqs []*binprot.Request) ([]*binprot.Response, error) {
	for _, req := range reqs {
		if !req.Opcode.IsQuiet() {
			return nil, fmt.Errorf("%w: %s", ErrNotQuiet, req.Opcode)
		}
	}
	return c.Pipeline(ctx, reqs)
}

// Pipeline writes reqs followed by a noop, then reads until the noop response.
// Requests may mix quiet and regular opcodes: the result has one entry per
// request, nil when a quiet request got no answer. Stat and quit cannot be
// pipelined.
func (c *Connection) Pipeline(ctx context.Context, reqs []*binprot.Request) ([]*binprot.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	for _, req := range reqs {
		switch req.Opcode {
		case binprot.OpStat, binprot.OpQuit, binprot.OpQuitQ:
			return nil, fmt.Errorf("%w: %s", ErrNotPipelinable, req.Opcode)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// values are left for the server to judge: a rejected item fails alone
	if err := c.usable(); err != nil {
		return nil, err
	}

	results := make([]*binprot.Response, len(reqs))
	pipeline := make([]*binprot.Request, 0, len(reqs)+1)
	pipeline = append(pipeline, reqs...)
	pipeline = append(pipeline, binprot.NewNoopRequest())

	err := c.exchange(ctx, pipeline, func(idx int, resp *binprot.Response) bool {
		if idx == len(reqs) {
			return true
		}
		results[idx] = resp
		return false
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SendStats runs a stat request. The server streams one response per statistic
// and ends with an empty key.
func (c *Connection) SendStats(ctx context.Context, group string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := binprot.NewStatRequest(group)
	if err := c.ready(req); err != nil {
		return nil, err
	}

	stats := map[string]string{}
	var statusErr error
	err := c.exchange(ctx, []*binprot.Request{req}, func(_ int, resp *binprot.Response) bool {
		if err := resp.Err(); err != nil {
			statusErr = err
			return true
		}
		if len(resp.Key) == 0 {
			return true
		}
		stats[string(resp.Key)] = string(resp.Value)
		return false
	})
	if err != nil {
		return nil, err
	}
	if statusErr != nil {
		return nil, statusErr
	}
	return stats, nil
}

// Ping sends a noop.
func (c *Connection) Ping(ctx context.Context) error {
	resp, err := c.Send(ctx, binprot.NewNoopRequest())
	if err != nil {
		return err
	}
	return resp.Err()
}

// usable gates every data request. A failed handshake reports the
// authentication failure rather than the broken connection.
func (c *Connection) usable() error {
	if c.auth.state() == authFailed {
		return &AuthError{Err: ErrNotAuthenticated}
	}
	if c.broken.Load() {
		return ErrConnectionBroken
	}
	if !c.auth.authenticated() {
		return &AuthError{Err: ErrNotAuthenticated}
	}
	return nil
}

// ready rejects requests the connection must not write.
func (c *Connection) ready(req *binprot.Request) error {
	if err := c.usable(); err != nil {
		return err
	}
	if len(req.Value) > c.maxValueSize {
		return &binprot.StatusError{
			Status:  binprot.StatusValueTooLarge,
			Message: fmt.Sprintf("%d bytes exceeds the %d bytes limit", len(req.Value), c.maxValueSize),
		}
	}
	return nil
}

func (c *Connection) roundTrip(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	var result *binprot.Response
	err := c.exchange(ctx, []*binprot.Request{req}, func(_ int, resp *binprot.Response) bool {
		result = resp
		return true
	})
	return result, err
}

// exchange writes reqs with consecutive opaques and hands every matching
// response to handle until it returns true. Callers hold c.mu.
func (c *Connection) exchange(ctx context.Context, reqs []*binprot.Request, handle func(idx int, resp *binprot.Response) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return err
		}
	}

	first := c.correlator.reserve(len(reqs))
	for i, req := range reqs {
		req.Opaque = first + uint32(i)
	}

	stop := c.setDeadline(ctx)
	defer stop()

	for _, req := range reqs {
		if err := binprot.WriteRequest(c.writer, req); err != nil {
			return c.ioError(ctx, "write", err)
		}
	}
	if err := c.writer.Flush(); err != nil {
		return c.ioError(ctx, "flush", err)
	}

	for {
		resp, err := binprot.ReadResponse(c.reader)
		if err != nil {
			return c.ioError(ctx, "read", err)
		}

		idx, err := c.correlator.match(resp, first, len(reqs))
		if err != nil {
			c.markBroken(err)
			return err
		}

		if idx < 0 {
			c.logger.WithFields(logrus.Fields{
				"opaque": resp.Opaque,
				"opcode": resp.Opcode.String(),
			}).WithError(resp.Err()).Debug("discarded response to a no-reply request")
			continue
		}

		if resp.Opcode != reqs[idx].Opcode {
			err := &binprot.ProtocolError{
				Message: fmt.Sprintf("response opcode %s for request %s", resp.Opcode, reqs[idx].Opcode),
			}
			c.markBroken(err)
			return err
		}

		if handle(idx, resp) {
			c.correlator.settle()
			return nil
		}
	}
}

// setDeadline applies the earliest of the context deadline and the connection
// timeout, and interrupts blocked I/O when ctx is canceled.
func (c *Connection) setDeadline(ctx context.Context) (stop func()) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	stopCancel := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})

	return func() {
		if !stopCancel() && ctx.Err() != nil {
			// the past deadline may already be set, the stream cannot be trusted
			c.markBroken(ctx.Err())
		}
	}
}

func (c *Connection) ioError(ctx context.Context, op string, err error) error {
	var perr *binprot.ProtocolError
	var netErr net.Error

	switch {
	case errors.As(err, &perr):
	case ctx.Err() != nil:
		err = &binprot.TimeoutError{Op: op, Err: ctx.Err()}
	case errors.As(err, &netErr) && netErr.Timeout():
		err = &binprot.TimeoutError{Op: op, Err: err}
	default:
		err = &binprot.ConnectionError{Op: op, Err: err}
	}

	c.markBroken(err)
	return err
}

func (c *Connection) markBroken(err error) {
	if c.broken.Swap(true) {
		return
	}
	c.logger.WithError(err).Warn("connection broken")
}
