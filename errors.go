package memcache

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pior/memcache-binary/binprot"
	"go.uber.org/multierr"
)

// Errors returned by operations, matched with errors.Is.
var (
	ErrKeyNotFound      = binprot.ErrKeyNotFound
	ErrKeyExists        = binprot.ErrKeyExists
	ErrCASMismatch      = binprot.ErrCASMismatch
	ErrValueTooLarge    = binprot.ErrValueTooLarge
	ErrInvalidArguments = binprot.ErrInvalidArguments
	ErrNotStored        = binprot.ErrNotStored
	ErrNonNumericValue  = binprot.ErrNonNumericValue
	ErrUnknownCommand   = binprot.ErrUnknownCommand
	ErrOutOfMemory      = binprot.ErrOutOfMemory

	ErrNotAuthenticated     = errors.New("memcache: connection not authenticated")
	ErrUnsupportedMechanism = errors.New("memcache: server does not offer SASL PLAIN")
	ErrConnectionBroken     = errors.New("memcache: connection is broken")
	ErrClientClosed         = errors.New("memcache: client closed")
	ErrNoServers            = errors.New("memcache: no servers")
	ErrUnsupportedProtocol  = errors.New("memcache: unsupported protocol")
	ErrNotQuiet             = errors.New("memcache: opcode has no quiet variant")
	ErrNotPipelinable       = errors.New("memcache: opcode cannot be pipelined")
)

// AuthError is returned when the SASL handshake fails or when a request is
// attempted on a connection that never completed it.
// Connection handling: the connection cannot be used, CLOSE it
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "memcache: authentication: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) ShouldCloseConnection() bool {
	return true
}

// ServerError attributes an error to the server that produced it.
type ServerError struct {
	Addr string
	Err  error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("memcache: server %s: %v", e.Addr, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

func (e *ServerError) ShouldCloseConnection() bool {
	return binprot.ShouldCloseConnection(e.Err)
}

// ConnectError is returned by Connect when some servers could not be reached
// or authenticated. Failures holds one *ServerError per failed server.
type ConnectError struct {
	Failures []*ServerError
}

func newConnectError(errs error) *ConnectError {
	ce := &ConnectError{}
	for _, err := range multierr.Errors(errs) {
		var se *ServerError
		if errors.As(err, &se) {
			ce.Failures = append(ce.Failures, se)
		}
	}
	sort.Slice(ce.Failures, func(i, j int) bool { return ce.Failures[i].Addr < ce.Failures[j].Addr })
	return ce
}

func (e *ConnectError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Addr + ": " + f.Err.Error()
	}
	return "memcache: connect failed: " + strings.Join(msgs, "; ")
}

func (e *ConnectError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// ShouldCloseConnection is binprot.ShouldCloseConnection, extended to this package's errors.
func ShouldCloseConnection(err error) bool {
	return binprot.ShouldCloseConnection(err)
}
