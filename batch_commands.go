package memcache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pior/memcache-binary/binprot"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// maxBatchSize bounds the number of quiet requests written before the noop.
const maxBatchSize = 256

// batchHandler receives the outcome of one key of a batch. resp is nil when
// the server stayed quiet or the batch failed.
type batchHandler func(key string, resp *binprot.Response, err error)

// GetMulti fetches keys with one GetKQ pipeline per server, in parallel.
// Missing keys are absent from the result. The error joins one *ServerError
// per failed server: the items of the other servers are still returned.
func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	items := make(map[string]Item, len(keys))
	if len(keys) == 0 {
		return items, nil
	}

	var errs error
	seen := map[*ServerError]bool{}

	keys = c.validKeys(uniqueKeys(keys), func(key string, err error) {
		errs = multierr.Append(errs, fmt.Errorf("memcache: get %q: %w", key, err))
	})

	c.fanOut(ctx, keys, func(key string) *binprot.Request {
		return binprot.NewGetRequest(binprot.OpGetKQ, []byte(key))
	}, func(key string, resp *binprot.Response, err error) {
		if err == nil && resp != nil {
			var item Item
			if item, err = itemFromResponse(key, resp); err == nil {
				items[key] = item
				c.stats.recordGet(true)
				return
			}
		}

		c.stats.recordGet(false)

		var serr *ServerError
		switch {
		case err == nil, errors.Is(err, ErrKeyNotFound):
		case errors.As(err, &serr):
			c.stats.recordError()
			if !seen[serr] {
				seen[serr] = true
				errs = multierr.Append(errs, serr)
			}
		default:
			c.stats.recordError()
			errs = multierr.Append(errs, fmt.Errorf("memcache: get %q: %w", key, err))
		}
	})

	return items, errs
}

// SetMulti stores items with one SetQ pipeline per server, in parallel.
// The result has an entry for every key, nil on success. When a key is
// listed twice, the last item wins.
func (c *Client) SetMulti(ctx context.Context, items []Item) map[string]error {
	results := make(map[string]error, len(items))
	if len(items) == 0 {
		return results
	}

	byKey := make(map[string]Item, len(items))
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := byKey[item.Key]; !ok {
			keys = append(keys, item.Key)
		}
		byKey[item.Key] = item
	}

	keys = c.validKeys(keys, func(key string, err error) {
		results[key] = err
		c.stats.record(opSet, 0, err)
	})

	c.fanOut(ctx, keys, func(key string) *binprot.Request {
		item := byKey[key]
		return binprot.NewStoreRequest(binprot.OpSetQ, []byte(key), item.Value, item.Flags, item.Expiration, 0)
	}, func(key string, _ *binprot.Response, err error) {
		results[key] = err
		c.stats.record(opSet, 0, err)
	})

	return results
}

// DeleteMulti deletes keys with one DeleteQ pipeline per server, in parallel.
// The result has an entry for every key. A missing key counts as deleted.
func (c *Client) DeleteMulti(ctx context.Context, keys []string) map[string]error {
	results := make(map[string]error, len(keys))
	if len(keys) == 0 {
		return results
	}

	keys = c.validKeys(uniqueKeys(keys), func(key string, err error) {
		results[key] = err
		c.stats.record(opDelete, 0, err)
	})

	c.fanOut(ctx, keys, func(key string) *binprot.Request {
		return binprot.NewDeleteRequest(binprot.OpDeleteQ, []byte(key), 0)
	}, func(key string, _ *binprot.Response, err error) {
		if errors.Is(err, ErrKeyNotFound) {
			err = nil
		}
		results[key] = err
		c.stats.record(opDelete, 0, err)
	})

	return results
}

// Counter is one entry of IncrementMulti: the arguments of Increment.
type Counter struct {
	Delta      uint64
	Initial    uint64
	Expiration uint32
}

// IncrementMulti increments counters with one pipeline per server, in
// parallel. Every request is answered, so the pipeline uses Increment rather
// than its quiet variant. Values holds the new value of each incremented
// counter, errs the failure of every other key.
func (c *Client) IncrementMulti(ctx context.Context, counters map[string]Counter) (values map[string]uint64, errs map[string]error) {
	values = make(map[string]uint64, len(counters))
	errs = map[string]error{}
	if len(counters) == 0 {
		return values, errs
	}

	keys := make([]string, 0, len(counters))
	for key := range counters {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	keys = c.validKeys(keys, func(key string, err error) {
		errs[key] = err
		c.stats.record(opIncrement, 0, err)
	})

	c.fanOut(ctx, keys, func(key string) *binprot.Request {
		counter := counters[key]
		return binprot.NewCounterRequest(binprot.OpIncrement, []byte(key), counter.Delta, counter.Initial, counter.Expiration, 0)
	}, func(key string, resp *binprot.Response, err error) {
		if err == nil && resp == nil {
			err = &binprot.ProtocolError{Message: fmt.Sprintf("no answer to increment %q", key)}
		}
		if err == nil {
			var value uint64
			if value, err = binprot.ParseCounter(resp.Value); err == nil {
				values[key] = value
			}
		}
		if err != nil {
			errs[key] = err
		}
		c.stats.record(opIncrement, 0, err)
	})

	return values, errs
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	unique := make([]string, 0, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			unique = append(unique, key)
		}
	}
	return unique
}

// validKeys returns the keys that can be sent and reports the others to invalid.
func (c *Client) validKeys(keys []string, invalid func(key string, err error)) []string {
	valid := keys[:0:0]
	for _, key := range keys {
		if err := binprot.ValidateKey([]byte(key)); err != nil {
			invalid(key, err)
			continue
		}
		valid = append(valid, key)
	}
	return valid
}

// fanOut partitions keys by server and runs the partitions in parallel.
// handle is called once per key, never concurrently.
func (c *Client) fanOut(ctx context.Context, keys []string, build func(key string) *binprot.Request, handle batchHandler) {
	if len(keys) == 0 {
		return
	}

	if c.closed.Load() {
		for _, key := range keys {
			handle(key, nil, ErrClientClosed)
		}
		return
	}

	var mu sync.Mutex
	locked := func(key string, resp *binprot.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		handle(key, resp, err)
	}

	var g errgroup.Group
	for server, partition := range c.servers.Partition(keys) {
		sp := c.pools[server.Addr]
		g.Go(func() error {
			pipeline(ctx, sp, partition, build, locked)
			return nil
		})
	}
	_ = g.Wait()
}

// pipeline runs the keys of one server in chunks of pipelined requests. When a
// chunk fails, the connection is gone: that key and all following keys get the
// failure as a *ServerError.
func pipeline(ctx context.Context, sp *ServerPool, keys []string, build func(key string) *binprot.Request, handle batchHandler) {
	for start := 0; start < len(keys); start += maxBatchSize {
		chunk := keys[start:min(start+maxBatchSize, len(keys))]

		reqs := make([]*binprot.Request, len(chunk))
		for i, key := range chunk {
			reqs[i] = build(key)
		}

		resps, err := sp.ExecutePipeline(ctx, reqs)
		if err != nil {
			serr := &ServerError{Addr: sp.Address(), Err: err}
			for _, key := range keys[start:] {
				handle(key, nil, serr)
			}
			return
		}

		for i, key := range chunk {
			resp := resps[i]
			if resp == nil {
				handle(key, nil, nil)
				continue
			}
			handle(key, resp, resp.Err())
		}
	}
}
