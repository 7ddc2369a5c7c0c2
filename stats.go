package memcache

import (
	"errors"
	"sync/atomic"
	"time"
)

// PoolStats contains statistics about the connection pool of one server.
//
// For Prometheus integration, see the prommetrics package:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// ClientStats contains counters of client operations.
// Multi-key operations count once per key.
type ClientStats struct {
	Gets        uint64
	GetHits     uint64 // Gets that found the key
	Sets        uint64
	Adds        uint64
	Replaces    uint64
	Deletes     uint64
	Increments  uint64
	Decrements  uint64
	Appends     uint64
	Prepends    uint64
	Touches     uint64
	NoReplies   uint64 // Requests sent without waiting for a response
	CASFailures uint64 // Mutations rejected because of a stale CAS token
	Errors      uint64 // Failed operations, misses excluded
}

type poolStatsCollector struct {
	acquireCount      atomic.Uint64
	acquireWaitCount  atomic.Uint64
	createdConns      atomic.Uint64
	destroyedConns    atomic.Uint64
	acquireErrors     atomic.Uint64
	acquireWaitTimeNs atomic.Uint64

	totalConns  atomic.Int32
	idleConns   atomic.Int32
	activeConns atomic.Int32
}

func (c *poolStatsCollector) recordAcquire() {
	c.acquireCount.Add(1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	c.acquireWaitCount.Add(1)
	c.acquireWaitTimeNs.Add(uint64(duration.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	c.createdConns.Add(1)
	c.totalConns.Add(1)
}

// recordDestroy accounts for an active connection being closed.
func (c *poolStatsCollector) recordDestroy() {
	c.destroyedConns.Add(1)
	c.totalConns.Add(-1)
	c.activeConns.Add(-1)
}

func (c *poolStatsCollector) recordAcquireError() {
	c.acquireErrors.Add(1)
}

func (c *poolStatsCollector) recordAcquireFromIdle() {
	c.idleConns.Add(-1)
	c.activeConns.Add(1)
}

func (c *poolStatsCollector) recordActivate() {
	c.activeConns.Add(1)
}

func (c *poolStatsCollector) recordRelease() {
	c.idleConns.Add(1)
	c.activeConns.Add(-1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		AcquireCount:      c.acquireCount.Load(),
		AcquireWaitCount:  c.acquireWaitCount.Load(),
		CreatedConns:      c.createdConns.Load(),
		DestroyedConns:    c.destroyedConns.Load(),
		AcquireErrors:     c.acquireErrors.Load(),
		AcquireWaitTimeNs: c.acquireWaitTimeNs.Load(),
		TotalConns:        c.totalConns.Load(),
		IdleConns:         c.idleConns.Load(),
		ActiveConns:       c.activeConns.Load(),
	}
}

type clientStatsCollector struct {
	gets        atomic.Uint64
	getHits     atomic.Uint64
	sets        atomic.Uint64
	adds        atomic.Uint64
	replaces    atomic.Uint64
	deletes     atomic.Uint64
	increments  atomic.Uint64
	decrements  atomic.Uint64
	appends     atomic.Uint64
	prepends    atomic.Uint64
	touches     atomic.Uint64
	noReplies   atomic.Uint64
	casFailures atomic.Uint64
	errors      atomic.Uint64
}

func (c *clientStatsCollector) recordGet(found bool) {
	c.gets.Add(1)
	if found {
		c.getHits.Add(1)
	}
}

// record counts one operation and its outcome. Misses are not errors.
func (c *clientStatsCollector) record(op opKind, cas uint64, err error) {
	switch op {
	case opSet:
		c.sets.Add(1)
	case opAdd:
		c.adds.Add(1)
	case opReplace:
		c.replaces.Add(1)
	case opDelete:
		c.deletes.Add(1)
	case opIncrement:
		c.increments.Add(1)
	case opDecrement:
		c.decrements.Add(1)
	case opAppend:
		c.appends.Add(1)
	case opPrepend:
		c.prepends.Add(1)
	case opTouch:
		c.touches.Add(1)
	}

	switch {
	case err == nil, errors.Is(err, ErrKeyNotFound):
	case cas != 0 && errors.Is(err, ErrCASMismatch):
		c.casFailures.Add(1)
	default:
		c.errors.Add(1)
	}
}

func (c *clientStatsCollector) recordNoReply() {
	c.noReplies.Add(1)
}

func (c *clientStatsCollector) recordError() {
	c.errors.Add(1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:        c.gets.Load(),
		GetHits:     c.getHits.Load(),
		Sets:        c.sets.Load(),
		Adds:        c.adds.Load(),
		Replaces:    c.replaces.Load(),
		Deletes:     c.deletes.Load(),
		Increments:  c.increments.Load(),
		Decrements:  c.decrements.Load(),
		Appends:     c.appends.Load(),
		Prepends:    c.prepends.Load(),
		Touches:     c.touches.Load(),
		NoReplies:   c.noReplies.Load(),
		CASFailures: c.casFailures.Load(),
		Errors:      c.errors.Load(),
	}
}
