package memcache

import (
	"context"
	"errors"

	"github.com/pior/memcache-binary/binprot"
)

// NoCreate as a counter expiration makes Increment and Decrement fail with
// ErrKeyNotFound instead of creating the counter at its initial value.
const NoCreate = binprot.NoCreate

type opKind uint8

const (
	opGet opKind = iota
	opSet
	opAdd
	opReplace
	opDelete
	opIncrement
	opDecrement
	opAppend
	opPrepend
	opTouch
	opFlush
)

// do validates key, builds the request and runs it on the server owning key.
func (c *Client) do(ctx context.Context, key string, build func(k []byte) *binprot.Request) (*binprot.Response, error) {
	k := []byte(key)
	if err := binprot.ValidateKey(k); err != nil {
		return nil, err
	}

	sp, err := c.poolFor(key)
	if err != nil {
		return nil, err
	}
	return sp.Execute(ctx, build(k))
}

func itemFromResponse(key string, resp *binprot.Response) (Item, error) {
	flags, err := binprot.ParseFlags(resp.Extras)
	if err != nil {
		return Item{}, err
	}
	return Item{
		Key:   key,
		Value: resp.Value,
		Flags: flags,
		CAS:   resp.CAS,
	}, nil
}

// Get returns the item stored under key, with its CAS token.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	return c.get(ctx, binprot.OpGet, key)
}

// GetK is Get asking the server to echo the key: Item.Key is the key the
// server answered for.
func (c *Client) GetK(ctx context.Context, key string) (Item, error) {
	return c.get(ctx, binprot.OpGetK, key)
}

func (c *Client) get(ctx context.Context, opcode binprot.Opcode, key string) (Item, error) {
	resp, err := c.do(ctx, key, func(k []byte) *binprot.Request {
		return binprot.NewGetRequest(opcode, k)
	})
	if err == nil {
		var item Item
		item, err = itemFromResponse(key, resp)
		if err == nil {
			if opcode == binprot.OpGetK {
				item.Key = string(resp.Key)
			}
			c.stats.recordGet(true)
			return item, nil
		}
	}

	c.stats.recordGet(false)
	if !errors.Is(err, ErrKeyNotFound) {
		c.stats.recordError()
	}
	return Item{}, err
}

// Set stores the item unconditionally. Item.CAS is ignored, see SetCAS.
func (c *Client) Set(ctx context.Context, item Item) error {
	_, err := c.store(ctx, opSet, binprot.OpSet, item, 0)
	return err
}

// Add stores the item only if the key does not exist, ErrKeyExists otherwise.
func (c *Client) Add(ctx context.Context, item Item) error {
	_, err := c.store(ctx, opAdd, binprot.OpAdd, item, 0)
	return err
}

// Replace stores the item only if the key exists, ErrKeyNotFound otherwise.
func (c *Client) Replace(ctx context.Context, item Item) error {
	_, err := c.store(ctx, opReplace, binprot.OpReplace, item, 0)
	return err
}

func (c *Client) store(ctx context.Context, op opKind, opcode binprot.Opcode, item Item, cas uint64) (uint64, error) {
	resp, err := c.do(ctx, item.Key, func(k []byte) *binprot.Request {
		return binprot.NewStoreRequest(opcode, k, item.Value, item.Flags, item.Expiration, cas)
	})
	c.stats.record(op, cas, err)
	if err != nil {
		return 0, err
	}
	return resp.CAS, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.deleteWithCAS(ctx, key, 0)
	return err
}

func (c *Client) deleteWithCAS(ctx context.Context, key string, cas uint64) (uint64, error) {
	resp, err := c.do(ctx, key, func(k []byte) *binprot.Request {
		return binprot.NewDeleteRequest(binprot.OpDelete, k, cas)
	})
	c.stats.record(opDelete, cas, err)
	if err != nil {
		return 0, err
	}
	return resp.CAS, nil
}

// Increment adds delta to the counter and returns its new value. A missing
// counter is created at initial, unless expiration is NoCreate.
// A value that is not a decimal number fails with ErrNonNumericValue.
func (c *Client) Increment(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	value, _, err := c.counter(ctx, opIncrement, binprot.OpIncrement, key, delta, initial, expiration, 0)
	return value, err
}

// Decrement subtracts delta from the counter, stopping at zero, and returns
// its new value. A missing counter is created at initial, unless expiration is NoCreate.
func (c *Client) Decrement(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	value, _, err := c.counter(ctx, opDecrement, binprot.OpDecrement, key, delta, initial, expiration, 0)
	return value, err
}

func (c *Client) counter(ctx context.Context, op opKind, opcode binprot.Opcode, key string, delta, initial uint64, expiration uint32, cas uint64) (uint64, uint64, error) {
	resp, err := c.do(ctx, key, func(k []byte) *binprot.Request {
		return binprot.NewCounterRequest(opcode, k, delta, initial, expiration, cas)
	})
	if err == nil {
		var value uint64
		value, err = binprot.ParseCounter(resp.Value)
		if err == nil {
			c.stats.record(op, cas, nil)
			return value, resp.CAS, nil
		}
	}

	c.stats.record(op, cas, err)
	return 0, 0, err
}

// Append adds value at the end of an existing item. Flags and expiration are kept.
func (c *Client) Append(ctx context.Context, key string, value []byte) error {
	_, err := c.concat(ctx, opAppend, binprot.OpAppend, key, value, 0)
	return err
}

// Prepend adds value at the start of an existing item. Flags and expiration are kept.
func (c *Client) Prepend(ctx context.Context, key string, value []byte) error {
	_, err := c.concat(ctx, opPrepend, binprot.OpPrepend, key, value, 0)
	return err
}

func (c *Client) concat(ctx context.Context, op opKind, opcode binprot.Opcode, key string, value []byte, cas uint64) (uint64, error) {
	resp, err := c.do(ctx, key, func(k []byte) *binprot.Request {
		return binprot.NewConcatRequest(opcode, k, value, cas)
	})
	c.stats.record(op, cas, err)
	if err != nil {
		return 0, err
	}
	return resp.CAS, nil
}

// Touch updates the expiration of an existing item.
func (c *Client) Touch(ctx context.Context, key string, expiration uint32) error {
	_, err := c.touch(ctx, key, expiration, 0)
	return err
}

func (c *Client) touch(ctx context.Context, key string, expiration uint32, cas uint64) (uint64, error) {
	resp, err := c.do(ctx, key, func(k []byte) *binprot.Request {
		return binprot.NewTouchRequest(k, expiration, cas)
	})
	c.stats.record(opTouch, cas, err)
	if err != nil {
		return 0, err
	}
	return resp.CAS, nil
}

// Flush invalidates all items on every server, after delay seconds when
// delay is not zero. Each failing server is reported as a *ServerError.
func (c *Client) Flush(ctx context.Context, delay uint32) error {
	err := c.eachServer(ctx, func(ctx context.Context, sp *ServerPool) error {
		_, err := sp.Execute(ctx, binprot.NewFlushRequest(binprot.OpFlush, delay))
		return err
	})
	c.stats.record(opFlush, 0, err)
	return err
}
