package memcache

import (
	"context"
	"sync"

	"github.com/pior/memcache-binary/binprot"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// eachServer runs fn on every server in parallel. The error joins one
// *ServerError per failed server.
func (c *Client) eachServer(ctx context.Context, fn func(ctx context.Context, sp *ServerPool) error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	for _, sp := range c.orderedPools() {
		g.Go(func() error {
			if err := fn(ctx, sp); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, &ServerError{Addr: sp.Address(), Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Ping sends a noop to every server.
func (c *Client) Ping(ctx context.Context) error {
	return c.eachServer(ctx, func(ctx context.Context, sp *ServerPool) error {
		_, err := sp.Execute(ctx, binprot.NewNoopRequest())
		return err
	})
}

// Version returns the version string of every server that answered, by address.
func (c *Client) Version(ctx context.Context) (map[string]string, error) {
	var mu sync.Mutex
	versions := map[string]string{}

	err := c.eachServer(ctx, func(ctx context.Context, sp *ServerPool) error {
		resp, err := sp.Execute(ctx, binprot.NewVersionRequest())
		if err != nil {
			return err
		}
		mu.Lock()
		versions[sp.Address()] = string(resp.Value)
		mu.Unlock()
		return nil
	})
	return versions, err
}

// ServerStats returns a statistics group of every server that answered, by
// address. An empty group returns the general statistics.
func (c *Client) ServerStats(ctx context.Context, group string) (map[string]map[string]string, error) {
	var mu sync.Mutex
	all := map[string]map[string]string{}

	err := c.eachServer(ctx, func(ctx context.Context, sp *ServerPool) error {
		stats, err := sp.ExecuteStats(ctx, group)
		if err != nil {
			return err
		}
		mu.Lock()
		all[sp.Address()] = stats
		mu.Unlock()
		return nil
	})
	return all, err
}
