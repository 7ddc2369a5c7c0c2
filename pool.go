package memcache

import (
	"context"
	"time"
)

// Pool holds the connections to a single server.
type Pool interface {
	Acquire(ctx context.Context) (Resource, error)
	AcquireAllIdle() []Resource
	Close()
	Stats() PoolStats
}

// Resource is a connection checked out of a Pool.
// Exactly one of Release, ReleaseUnused or Destroy must be called.
type Resource interface {
	Value() *Connection
	Release()
	ReleaseUnused()
	Destroy()
	CreationTime() time.Time
	IdleDuration() time.Duration
}

// ConnectionConstructor dials and authenticates a new connection.
type ConnectionConstructor func(ctx context.Context) (*Connection, error)

// PoolFactory builds the pool of one server.
type PoolFactory func(constructor ConnectionConstructor, maxSize int32) (Pool, error)
