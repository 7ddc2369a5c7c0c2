package binprot

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the server statuses callers usually branch on.
// A *StatusError matches them with errors.Is.
var (
	ErrKeyNotFound      = errors.New("memcache: key not found")
	ErrKeyExists        = errors.New("memcache: key exists")
	ErrValueTooLarge    = errors.New("memcache: value too large")
	ErrInvalidArguments = errors.New("memcache: invalid arguments")
	ErrNotStored        = errors.New("memcache: item not stored")
	ErrNonNumericValue  = errors.New("memcache: incr/decr on non-numeric value")
	ErrUnknownCommand   = errors.New("memcache: unknown command")
	ErrOutOfMemory      = errors.New("memcache: out of memory")
	ErrAuthFailed       = errors.New("memcache: authentication failed")

	// ErrCASMismatch is returned when a CAS token no longer matches the stored item.
	// The server reports it with the KeyExists status.
	ErrCASMismatch = ErrKeyExists
)

// StatusError is a non-success status returned by the server.
// The connection stays in a known state and can be reused.
type StatusError struct {
	Status  Status
	Message string // response body, when the server sent one
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return "memcache: " + e.Status.String() + ": " + e.Message
	}
	return "memcache: " + e.Status.String()
}

// Is matches the sentinel error of the status.
func (e *StatusError) Is(target error) bool {
	sentinel := e.Status.sentinel()
	return sentinel != nil && target == sentinel
}

// ShouldCloseConnection returns false - the frame was fully read
func (e *StatusError) ShouldCloseConnection() bool {
	return false
}

func (s Status) sentinel() error {
	switch s {
	case StatusKeyNotFound:
		return ErrKeyNotFound
	case StatusKeyExists:
		return ErrKeyExists
	case StatusValueTooLarge:
		return ErrValueTooLarge
	case StatusInvalidArguments:
		return ErrInvalidArguments
	case StatusItemNotStored:
		return ErrNotStored
	case StatusNonNumeric:
		return ErrNonNumericValue
	case StatusUnknownCommand:
		return ErrUnknownCommand
	case StatusOutOfMemory:
		return ErrOutOfMemory
	case StatusAuthError:
		return ErrAuthFailed
	default:
		return nil
	}
}

// Err converts a status into an error. StatusNoError returns nil.
func (s Status) Err(message string) error {
	if s == StatusNoError {
		return nil
	}
	return &StatusError{Status: s, Message: message}
}

// ProtocolError is returned when a frame violates the binary protocol:
// bad magic, inconsistent lengths, unknown opcode or an unexpected opaque.
//
// Connection handling: the byte stream can no longer be trusted, CLOSE it
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "memcache: protocol error: " + e.Message
}

// ShouldCloseConnection returns true - the stream position is unknown
func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// ConnectionError wraps I/O errors from the underlying byte stream.
type ConnectionError struct {
	Op  string // read, write or flush
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("memcache: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// TimeoutError is returned when a read or write misses its deadline.
// A response may still arrive later, so the connection is unusable.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("memcache: timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// ShouldCloseConnection returns true - a late response would desynchronize the stream
func (e *TimeoutError) ShouldCloseConnection() bool {
	return true
}

// InvalidKeyError is returned when a key fails validation before anything is written.
type InvalidKeyError struct {
	Message string
}

func (e *InvalidKeyError) Error() string {
	return "memcache: invalid key: " + e.Message
}

// ShouldCloseConnection returns false - nothing was sent
func (e *InvalidKeyError) ShouldCloseConnection() bool {
	return false
}

// NeedMoreDataError is returned by Decode when the buffer holds a partial frame.
type NeedMoreDataError struct {
	Missing int
}

func (e *NeedMoreDataError) Error() string {
	return fmt.Sprintf("memcache: incomplete frame, %d more bytes needed", e.Missing)
}

func (e *NeedMoreDataError) ShouldCloseConnection() bool {
	return false
}

// ErrorWithConnectionState is implemented by every error of this package.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves a connection in an unknown state.
// Errors of unknown types are treated as fatal.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
