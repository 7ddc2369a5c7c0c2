package binprot

import "fmt"

// Magic identifies the direction of a frame.
type Magic uint8

const (
	MagicRequest  Magic = 0x80
	MagicResponse Magic = 0x81
)

func (m Magic) String() string {
	switch m {
	case MagicRequest:
		return "request"
	case MagicResponse:
		return "response"
	default:
		return fmt.Sprintf("magic(0x%02x)", uint8(m))
	}
}

// Protocol limits
const (
	HeaderLength = 24

	MinKeyLength = 1
	MaxKeyLength = 250

	// DefaultMaxValueLength is the item size limit of a stock memcached (-I 1m).
	DefaultMaxValueLength = 1024 * 1024

	// DataTypeRaw is the only data type defined by memcached.
	DataTypeRaw uint8 = 0x00
)

// Opcode is the command byte of a frame.
type Opcode uint8

const (
	OpGet           Opcode = 0x00
	OpSet           Opcode = 0x01
	OpAdd           Opcode = 0x02
	OpReplace       Opcode = 0x03
	OpDelete        Opcode = 0x04
	OpIncrement     Opcode = 0x05
	OpDecrement     Opcode = 0x06
	OpQuit          Opcode = 0x07
	OpFlush         Opcode = 0x08
	OpGetQ          Opcode = 0x09
	OpNoop          Opcode = 0x0a
	OpVersion       Opcode = 0x0b
	OpGetK          Opcode = 0x0c
	OpGetKQ         Opcode = 0x0d
	OpAppend        Opcode = 0x0e
	OpPrepend       Opcode = 0x0f
	OpStat          Opcode = 0x10
	OpSetQ          Opcode = 0x11
	OpAddQ          Opcode = 0x12
	OpReplaceQ      Opcode = 0x13
	OpDeleteQ       Opcode = 0x14
	OpIncrementQ    Opcode = 0x15
	OpDecrementQ    Opcode = 0x16
	OpQuitQ         Opcode = 0x17
	OpFlushQ        Opcode = 0x18
	OpAppendQ       Opcode = 0x19
	OpPrependQ      Opcode = 0x1a
	OpTouch         Opcode = 0x1c
	OpGAT           Opcode = 0x1d
	OpGATQ          Opcode = 0x1e
	OpSaslListMechs Opcode = 0x20
	OpSaslAuth      Opcode = 0x21
	OpSaslStep      Opcode = 0x22
)

func (o Opcode) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpAdd:
		return "ADD"
	case OpReplace:
		return "REPLACE"
	case OpDelete:
		return "DELETE"
	case OpIncrement:
		return "INCREMENT"
	case OpDecrement:
		return "DECREMENT"
	case OpQuit:
		return "QUIT"
	case OpFlush:
		return "FLUSH"
	case OpGetQ:
		return "GETQ"
	case OpNoop:
		return "NOOP"
	case OpVersion:
		return "VERSION"
	case OpGetK:
		return "GETK"
	case OpGetKQ:
		return "GETKQ"
	case OpAppend:
		return "APPEND"
	case OpPrepend:
		return "PREPEND"
	case OpStat:
		return "STAT"
	case OpSetQ:
		return "SETQ"
	case OpAddQ:
		return "ADDQ"
	case OpReplaceQ:
		return "REPLACEQ"
	case OpDeleteQ:
		return "DELETEQ"
	case OpIncrementQ:
		return "INCREMENTQ"
	case OpDecrementQ:
		return "DECREMENTQ"
	case OpQuitQ:
		return "QUITQ"
	case OpFlushQ:
		return "FLUSHQ"
	case OpAppendQ:
		return "APPENDQ"
	case OpPrependQ:
		return "PREPENDQ"
	case OpTouch:
		return "TOUCH"
	case OpGAT:
		return "GAT"
	case OpGATQ:
		return "GATQ"
	case OpSaslListMechs:
		return "SASL_LIST_MECHS"
	case OpSaslAuth:
		return "SASL_AUTH"
	case OpSaslStep:
		return "SASL_STEP"
	default:
		return fmt.Sprintf("opcode(0x%02x)", uint8(o))
	}
}

// Valid reports whether the opcode belongs to the supported command set.
func (o Opcode) Valid() bool {
	switch o {
	case OpGet, OpSet, OpAdd, OpReplace, OpDelete, OpIncrement, OpDecrement,
		OpQuit, OpFlush, OpGetQ, OpNoop, OpVersion, OpGetK, OpGetKQ, OpAppend,
		OpPrepend, OpStat, OpSetQ, OpAddQ, OpReplaceQ, OpDeleteQ, OpIncrementQ,
		OpDecrementQ, OpQuitQ, OpFlushQ, OpAppendQ, OpPrependQ, OpTouch, OpGAT,
		OpGATQ, OpSaslListMechs, OpSaslAuth, OpSaslStep:
		return true
	default:
		return false
	}
}

// IsQuiet reports whether the server suppresses the success response for this opcode.
func (o Opcode) IsQuiet() bool {
	switch o {
	case OpGetQ, OpGetKQ, OpSetQ, OpAddQ, OpReplaceQ, OpDeleteQ, OpIncrementQ,
		OpDecrementQ, OpQuitQ, OpFlushQ, OpAppendQ, OpPrependQ, OpGATQ:
		return true
	default:
		return false
	}
}

// Quiet returns the quiet variant of the opcode.
// The second return value is false when no quiet variant exists.
func (o Opcode) Quiet() (Opcode, bool) {
	switch o {
	case OpGet:
		return OpGetQ, true
	case OpGetK:
		return OpGetKQ, true
	case OpSet:
		return OpSetQ, true
	case OpAdd:
		return OpAddQ, true
	case OpReplace:
		return OpReplaceQ, true
	case OpDelete:
		return OpDeleteQ, true
	case OpIncrement:
		return OpIncrementQ, true
	case OpDecrement:
		return OpDecrementQ, true
	case OpQuit:
		return OpQuitQ, true
	case OpFlush:
		return OpFlushQ, true
	case OpAppend:
		return OpAppendQ, true
	case OpPrepend:
		return OpPrependQ, true
	case OpGAT:
		return OpGATQ, true
	default:
		if o.IsQuiet() {
			return o, true
		}
		return o, false
	}
}

// Status is the response status field.
type Status uint16

const (
	StatusNoError          Status = 0x0000
	StatusKeyNotFound      Status = 0x0001
	StatusKeyExists        Status = 0x0002
	StatusValueTooLarge    Status = 0x0003
	StatusInvalidArguments Status = 0x0004
	StatusItemNotStored    Status = 0x0005
	StatusNonNumeric       Status = 0x0006
	StatusVBucketElsewhere Status = 0x0007
	StatusAuthError        Status = 0x0020
	StatusAuthContinue     Status = 0x0021
	StatusUnknownCommand   Status = 0x0081
	StatusOutOfMemory      Status = 0x0082
	StatusNotSupported     Status = 0x0083
	StatusInternalError    Status = 0x0084
	StatusBusy             Status = 0x0085
	StatusTemporaryFailure Status = 0x0086
)

func (s Status) String() string {
	switch s {
	case StatusNoError:
		return "no error"
	case StatusKeyNotFound:
		return "key not found"
	case StatusKeyExists:
		return "key exists"
	case StatusValueTooLarge:
		return "value too large"
	case StatusInvalidArguments:
		return "invalid arguments"
	case StatusItemNotStored:
		return "item not stored"
	case StatusNonNumeric:
		return "incr/decr on non-numeric value"
	case StatusVBucketElsewhere:
		return "vbucket belongs to another server"
	case StatusAuthError:
		return "authentication error"
	case StatusAuthContinue:
		return "authentication continue"
	case StatusUnknownCommand:
		return "unknown command"
	case StatusOutOfMemory:
		return "out of memory"
	case StatusNotSupported:
		return "not supported"
	case StatusInternalError:
		return "internal error"
	case StatusBusy:
		return "busy"
	case StatusTemporaryFailure:
		return "temporary failure"
	default:
		return fmt.Sprintf("status(0x%04x)", uint16(s))
	}
}
