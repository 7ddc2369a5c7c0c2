package memcache

import (
	"context"
	"sync"
	"time"

	"github.com/pior/memcache-binary/internal/coarsetime"
)

// NewChannelPool creates a channel-based connection pool. This is the default pool.
// Connections are created on demand, up to maxSize.
func NewChannelPool(constructor ConnectionConstructor, maxSize int32) (Pool, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		resources:   make(chan *channelResource, maxSize),
		freed:       make(chan struct{}, 1),
	}, nil
}

type channelResource struct {
	conn         *Connection
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *Connection {
	return r.conn
}

func (r *channelResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

// ReleaseUnused returns the connection without touching its idle time (health checks).
func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	r.conn.Close()
	r.pool.removeResource()
}

func (r *channelResource) CreationTime() time.Time {
	return r.creationTime
}

func (r *channelResource) IdleDuration() time.Duration {
	return coarsetime.Since(r.lastUsedTime)
}

type channelPool struct {
	constructor ConnectionConstructor
	maxSize     int32

	mu        sync.Mutex
	resources chan *channelResource
	freed     chan struct{}
	size      int32
	closed    bool

	stats poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	var waitStart time.Time
	for {
		select {
		case res, ok := <-p.resources:
			if !ok {
				p.stats.recordAcquireError()
				return nil, ErrClientClosed
			}
			if !waitStart.IsZero() {
				p.stats.recordAcquireWait(time.Since(waitStart))
			}
			p.stats.recordAcquireFromIdle()
			return res, nil
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, ErrClientClosed
		}

		if p.size < p.maxSize {
			p.size++
			p.mu.Unlock()
			return p.create(ctx)
		}
		p.mu.Unlock()

		// Pool is full: wait for a release, or for a destroyed connection to free a slot
		if waitStart.IsZero() {
			waitStart = time.Now()
		}
		select {
		case res, ok := <-p.resources:
			if !ok {
				p.stats.recordAcquireError()
				return nil, ErrClientClosed
			}
			p.stats.recordAcquireWait(time.Since(waitStart))
			p.stats.recordAcquireFromIdle()
			return res, nil
		case <-p.freed:
		case <-ctx.Done():
			p.stats.recordAcquireError()
			return nil, ctx.Err()
		}
	}
}

func (p *channelPool) create(ctx context.Context) (Resource, error) {
	conn, err := p.constructor(ctx)
	if err != nil {
		p.mu.Lock()
		p.size--
		p.mu.Unlock()
		p.signalFreed()
		p.stats.recordAcquireError()
		return nil, err
	}

	p.stats.recordCreate()
	p.stats.recordActivate()

	now := coarsetime.Now()
	return &channelResource{
		conn:         conn,
		pool:         p,
		creationTime: now,
		lastUsedTime: now,
	}, nil
}

func (p *channelPool) signalFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *channelPool) put(res *channelResource) {
	// a broken connection is never handed out again
	if res.conn.Broken() {
		res.conn.Close()
		p.removeResource()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		res.conn.Close()
		p.size--
		p.stats.recordDestroy()
		return
	}

	select {
	case p.resources <- res:
		p.stats.recordRelease()
	default:
		res.conn.Close()
		p.size--
		p.stats.recordDestroy()
		p.signalFreed()
	}
}

// removeResource forgets a connection that was checked out.
func (p *channelPool) removeResource() {
	p.mu.Lock()
	p.size--
	p.mu.Unlock()
	p.stats.recordDestroy()
	p.signalFreed()
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	for {
		select {
		case res := <-p.resources:
			p.stats.recordAcquireFromIdle()
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

func (p *channelPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	close(p.resources)
	for res := range p.resources {
		res.conn.Close()
		p.size--
		p.stats.recordAcquireFromIdle()
		p.stats.recordDestroy()
	}
}

func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
