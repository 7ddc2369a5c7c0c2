package memcache

import (
	"github.com/pior/memcache-binary/internal"
	"github.com/zeebo/xxh3"
)

// ServerSelector maps a key to a point in [0, totalWeight).
// Servers own consecutive ranges of points sized by their weight.
type ServerSelector func(key string, totalWeight int) int

// DefaultServerSelector hashes the key with xxh3 and reduces it with Jump Hash,
// which spreads keys uniformly over the weight range.
func DefaultServerSelector(key string, totalWeight int) int {
	return internal.JumpHash(xxh3.HashString(key), totalWeight)
}

// staticSelector is used in tests to always select a specific point.
func staticSelector(point int) ServerSelector {
	return func(key string, totalWeight int) int {
		return point % totalWeight
	}
}
