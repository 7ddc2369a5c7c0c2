package memcache

import (
	"context"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
)

// NewPuddlePool creates a connection pool backed by jackc/puddle.
//
//	Config{Pool: memcache.NewPuddlePool}
func NewPuddlePool(constructor ConnectionConstructor, maxSize int32) (Pool, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	p := &puddlePool{}

	pool, err := puddle.NewPool(&puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			conn, err := constructor(ctx)
			if err == nil {
				p.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(c *Connection) {
			p.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: maxSize,
	})
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

type puddlePool struct {
	pool           *puddle.Pool[*Connection]
	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if err == puddle.ErrClosedPool {
			return nil, ErrClientClosed
		}
		return nil, err
	}
	return puddleResource{res}, nil
}

func (p *puddlePool) AcquireAllIdle() []Resource {
	idle := p.pool.AcquireAllIdle()
	resources := make([]Resource, len(idle))
	for i, res := range idle {
		resources[i] = puddleResource{res}
	}
	return resources
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

// Stats maps puddle's counters onto PoolStats.
func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      uint64(p.createdConns.Load()),
		DestroyedConns:    uint64(p.destroyedConns.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}

// puddleResource destroys broken connections instead of returning them to the pool.
type puddleResource struct {
	*puddle.Resource[*Connection]
}

func (r puddleResource) Release() {
	if r.Value().Broken() {
		r.Destroy()
		return
	}
	r.Resource.Release()
}

func (r puddleResource) ReleaseUnused() {
	if r.Value().Broken() {
		r.Destroy()
		return
	}
	r.Resource.ReleaseUnused()
}
