package binprot

import "encoding/binary"

// NoCreate as a counter expiration tells the server to fail with KeyNotFound
// instead of creating the counter with its initial value.
const NoCreate uint32 = 0xffffffff

// StoreExtras builds the extras of set, add and replace: flags(4) expiration(4).
func StoreExtras(flags, expiration uint32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], flags)
	binary.BigEndian.PutUint32(b[4:8], expiration)
	return b
}

// CounterExtras builds the extras of incr and decr: delta(8) initial(8) expiration(4).
func CounterExtras(delta, initial uint64, expiration uint32) []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint64(b[0:8], delta)
	binary.BigEndian.PutUint64(b[8:16], initial)
	binary.BigEndian.PutUint32(b[16:20], expiration)
	return b
}

// ExpirationExtras builds the extras of touch, gat and flush.
func ExpirationExtras(expiration uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, expiration)
	return b
}

// FlagsExtras builds the extras of a get response.
func FlagsExtras(flags uint32) []byte {
	return ExpirationExtras(flags)
}

// ParseFlags reads the item flags from get response extras.
func ParseFlags(extras []byte) (uint32, error) {
	switch len(extras) {
	case 0:
		return 0, nil
	case 4:
		return binary.BigEndian.Uint32(extras), nil
	default:
		return 0, protocolErrorf("get extras length %d, expected 4", len(extras))
	}
}

// ParseStoreExtras is the inverse of StoreExtras.
func ParseStoreExtras(extras []byte) (flags, expiration uint32, err error) {
	if len(extras) != 8 {
		return 0, 0, protocolErrorf("store extras length %d, expected 8", len(extras))
	}
	return binary.BigEndian.Uint32(extras[0:4]), binary.BigEndian.Uint32(extras[4:8]), nil
}

// ParseCounterExtras is the inverse of CounterExtras.
func ParseCounterExtras(extras []byte) (delta, initial uint64, expiration uint32, err error) {
	if len(extras) != 20 {
		return 0, 0, 0, protocolErrorf("counter extras length %d, expected 20", len(extras))
	}
	return binary.BigEndian.Uint64(extras[0:8]),
		binary.BigEndian.Uint64(extras[8:16]),
		binary.BigEndian.Uint32(extras[16:20]), nil
}

// ParseExpirationExtras is the inverse of ExpirationExtras. Empty extras mean 0.
func ParseExpirationExtras(extras []byte) (uint32, error) {
	return ParseFlags(extras)
}

// ParseCounter reads the 64-bit counter carried in an incr/decr response value.
func ParseCounter(value []byte) (uint64, error) {
	if len(value) != 8 {
		return 0, protocolErrorf("counter value length %d, expected 8", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// CounterValue encodes a counter the way the server returns it.
func CounterValue(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
