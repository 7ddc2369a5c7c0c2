package memcache

import (
	"context"

	"github.com/pior/memcache-binary/binprot"
)

// GetCAS returns the item with the CAS token to pass to the next CAS mutation.
func (c *Client) GetCAS(ctx context.Context, key string) (Item, error) {
	return c.Get(ctx, key)
}

// SetCAS stores the item if item.CAS still matches the stored token, and
// returns the new token. A zero item.CAS stores unconditionally.
func (c *Client) SetCAS(ctx context.Context, item Item) (uint64, error) {
	return c.store(ctx, opSet, binprot.OpSet, item, item.CAS)
}

func (c *Client) AddCAS(ctx context.Context, item Item) (uint64, error) {
	return c.store(ctx, opAdd, binprot.OpAdd, item, item.CAS)
}

func (c *Client) ReplaceCAS(ctx context.Context, item Item) (uint64, error) {
	return c.store(ctx, opReplace, binprot.OpReplace, item, item.CAS)
}

// IncrementCAS is Increment guarded by cas. It returns the new value and the new token.
func (c *Client) IncrementCAS(ctx context.Context, key string, delta, initial uint64, expiration uint32, cas uint64) (uint64, uint64, error) {
	return c.counter(ctx, opIncrement, binprot.OpIncrement, key, delta, initial, expiration, cas)
}

// DecrementCAS is Decrement guarded by cas. It returns the new value and the new token.
func (c *Client) DecrementCAS(ctx context.Context, key string, delta, initial uint64, expiration uint32, cas uint64) (uint64, uint64, error) {
	return c.counter(ctx, opDecrement, binprot.OpDecrement, key, delta, initial, expiration, cas)
}

func (c *Client) AppendCAS(ctx context.Context, key string, value []byte, cas uint64) (uint64, error) {
	return c.concat(ctx, opAppend, binprot.OpAppend, key, value, cas)
}

func (c *Client) PrependCAS(ctx context.Context, key string, value []byte, cas uint64) (uint64, error) {
	return c.concat(ctx, opPrepend, binprot.OpPrepend, key, value, cas)
}

// TouchCAS updates the expiration if cas still matches the stored token, and
// returns the token of the touched item.
func (c *Client) TouchCAS(ctx context.Context, key string, expiration uint32, cas uint64) (uint64, error) {
	return c.touch(ctx, key, expiration, cas)
}

// GetKCAS is GetK, the item carries its CAS token.
func (c *Client) GetKCAS(ctx context.Context, key string) (Item, error) {
	return c.GetK(ctx, key)
}

// DeleteCAS deletes the item if cas still matches the stored token.
func (c *Client) DeleteCAS(ctx context.Context, key string, cas uint64) error {
	_, err := c.deleteWithCAS(ctx, key, cas)
	return err
}
