package memcache

import (
	"context"

	"github.com/pior/memcache-binary/binprot"
)

// noReply writes the quiet request on the server owning key. Only local
// failures are returned: the server answers a quiet request only to report
// an error, and that answer is dropped.
func (c *Client) noReply(ctx context.Context, op opKind, key string, build func(k []byte) *binprot.Request) error {
	c.stats.recordNoReply()

	k := []byte(key)
	err := binprot.ValidateKey(k)
	if err == nil {
		var sp *ServerPool
		sp, err = c.poolFor(key)
		if err == nil {
			err = sp.ExecuteNoReply(ctx, build(k))
		}
	}

	c.stats.record(op, 0, err)
	return err
}

func (c *Client) SetNoReply(ctx context.Context, item Item) error {
	return c.noReply(ctx, opSet, item.Key, func(k []byte) *binprot.Request {
		return binprot.NewStoreRequest(binprot.OpSetQ, k, item.Value, item.Flags, item.Expiration, 0)
	})
}

func (c *Client) AddNoReply(ctx context.Context, item Item) error {
	return c.noReply(ctx, opAdd, item.Key, func(k []byte) *binprot.Request {
		return binprot.NewStoreRequest(binprot.OpAddQ, k, item.Value, item.Flags, item.Expiration, 0)
	})
}

func (c *Client) ReplaceNoReply(ctx context.Context, item Item) error {
	return c.noReply(ctx, opReplace, item.Key, func(k []byte) *binprot.Request {
		return binprot.NewStoreRequest(binprot.OpReplaceQ, k, item.Value, item.Flags, item.Expiration, 0)
	})
}

func (c *Client) DeleteNoReply(ctx context.Context, key string) error {
	return c.noReply(ctx, opDelete, key, func(k []byte) *binprot.Request {
		return binprot.NewDeleteRequest(binprot.OpDeleteQ, k, 0)
	})
}

func (c *Client) IncrementNoReply(ctx context.Context, key string, delta, initial uint64, expiration uint32) error {
	return c.noReply(ctx, opIncrement, key, func(k []byte) *binprot.Request {
		return binprot.NewCounterRequest(binprot.OpIncrementQ, k, delta, initial, expiration, 0)
	})
}

func (c *Client) DecrementNoReply(ctx context.Context, key string, delta, initial uint64, expiration uint32) error {
	return c.noReply(ctx, opDecrement, key, func(k []byte) *binprot.Request {
		return binprot.NewCounterRequest(binprot.OpDecrementQ, k, delta, initial, expiration, 0)
	})
}

func (c *Client) AppendNoReply(ctx context.Context, key string, value []byte) error {
	return c.noReply(ctx, opAppend, key, func(k []byte) *binprot.Request {
		return binprot.NewConcatRequest(binprot.OpAppendQ, k, value, 0)
	})
}

func (c *Client) PrependNoReply(ctx context.Context, key string, value []byte) error {
	return c.noReply(ctx, opPrepend, key, func(k []byte) *binprot.Request {
		return binprot.NewConcatRequest(binprot.OpPrependQ, k, value, 0)
	})
}
