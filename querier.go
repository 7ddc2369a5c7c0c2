package memcache

import (
	"context"
)

// Operation is the set of single-key operations. A missing key fails with
// ErrKeyNotFound.
type Operation interface {
	Get(ctx context.Context, key string) (Item, error)
	GetK(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, item Item) error
	Add(ctx context.Context, item Item) error
	Replace(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error)
	Decrement(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error)
	Append(ctx context.Context, key string, value []byte) error
	Prepend(ctx context.Context, key string, value []byte) error
	Touch(ctx context.Context, key string, expiration uint32) error
	Flush(ctx context.Context, delay uint32) error
}

// MultiOperation runs multi-key operations as one quiet pipeline per server.
// A failing server only fails its own keys.
type MultiOperation interface {
	GetMulti(ctx context.Context, keys []string) (map[string]Item, error)
	SetMulti(ctx context.Context, items []Item) map[string]error
	DeleteMulti(ctx context.Context, keys []string) map[string]error
	IncrementMulti(ctx context.Context, counters map[string]Counter) (map[string]uint64, map[string]error)
}

// NoReplyOperation sends quiet requests and returns once they are written.
// Server-side failures are not observable, write failures are.
//
// The server still answers a failed quiet request. Those answers stay unread
// in the socket until the next request expecting a reply runs on the same
// connection, which discards them. A long run of no-reply requests with many
// failures can fill the socket buffers and block the writer until the
// Timeout; interleave operations expecting a reply to drain them.
type NoReplyOperation interface {
	SetNoReply(ctx context.Context, item Item) error
	AddNoReply(ctx context.Context, item Item) error
	ReplaceNoReply(ctx context.Context, item Item) error
	DeleteNoReply(ctx context.Context, key string) error
	IncrementNoReply(ctx context.Context, key string, delta, initial uint64, expiration uint32) error
	DecrementNoReply(ctx context.Context, key string, delta, initial uint64, expiration uint32) error
	AppendNoReply(ctx context.Context, key string, value []byte) error
	PrependNoReply(ctx context.Context, key string, value []byte) error
}

// CasOperation is the set of operations guarded by a CAS token.
// A nonzero stale token fails with ErrCASMismatch. Nothing is retried.
type CasOperation interface {
	GetCAS(ctx context.Context, key string) (Item, error)
	SetCAS(ctx context.Context, item Item) (uint64, error)
	AddCAS(ctx context.Context, item Item) (uint64, error)
	ReplaceCAS(ctx context.Context, item Item) (uint64, error)
	IncrementCAS(ctx context.Context, key string, delta, initial uint64, expiration uint32, cas uint64) (uint64, uint64, error)
	DecrementCAS(ctx context.Context, key string, delta, initial uint64, expiration uint32, cas uint64) (uint64, uint64, error)
	AppendCAS(ctx context.Context, key string, value []byte, cas uint64) (uint64, error)
	PrependCAS(ctx context.Context, key string, value []byte, cas uint64) (uint64, error)
	TouchCAS(ctx context.Context, key string, expiration uint32, cas uint64) (uint64, error)
	GetKCAS(ctx context.Context, key string) (Item, error)
	DeleteCAS(ctx context.Context, key string, cas uint64) error
}

// ServerOperation addresses every server instead of a key owner.
type ServerOperation interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (map[string]string, error)
	ServerStats(ctx context.Context, group string) (map[string]map[string]string, error)
}

// Querier is the whole operation surface of a Client.
type Querier interface {
	Operation
	MultiOperation
	NoReplyOperation
	CasOperation
	ServerOperation
}
