package memcache

import (
	"context"
	"strings"
	"time"

	"github.com/pior/memcache-binary/binprot"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// NewServerPool creates the connection pool of one server.
// Connections are dialed and authenticated lazily, on first use.
func NewServerPool(server Server, config Config) (*ServerPool, error) {
	config = config.withDefaults()

	logger := config.Logger.WithField("server", server.Addr)

	constructor := config.constructor
	if constructor == nil {
		constructor = func(ctx context.Context) (*Connection, error) {
			network, address := splitAddr(server.Addr)
			netConn, err := config.Dial(ctx, network, address)
			if err != nil {
				return nil, err
			}

			conn := NewConnection(netConn, ConnectionOptions{
				Timeout:      config.Timeout,
				MaxValueSize: config.MaxValueSize,
				Logger:       config.Logger,
			})
			if err := conn.Authenticate(ctx, config.Credentials); err != nil {
				_ = conn.Close()
				return nil, err
			}

			logger.Debug("connection established")
			return conn, nil
		}
	}

	pool, err := config.Pool(constructor, config.MaxSize)
	if err != nil {
		return nil, err
	}

	sp := &ServerPool{
		server: server,
		pool:   pool,
		logger: logger,
	}
	if config.NewCircuitBreaker != nil {
		sp.circuitBreaker = config.NewCircuitBreaker(server.Addr)
	}
	return sp, nil
}

// splitAddr accepts "host:port" for TCP and "unix:/path" or "/path" for unix sockets.
func splitAddr(addr string) (network, address string) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		return "unix", strings.TrimPrefix(addr, "unix:")
	case strings.HasPrefix(addr, "/"):
		return "unix", addr
	default:
		return "tcp", addr
	}
}

// ServerPool runs requests against one server: it owns the server's
// connection pool and its optional circuit breaker.
type ServerPool struct {
	server         Server
	pool           Pool
	circuitBreaker *CircuitBreaker
	logger         logrus.FieldLogger
}

func (sp *ServerPool) Address() string {
	return sp.server.Addr
}

func (sp *ServerPool) Server() Server {
	return sp.server
}

// ServerPoolStats contains stats for a single server pool
type ServerPoolStats struct {
	Addr                 string
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (sp *ServerPool) Stats() ServerPoolStats {
	stats := ServerPoolStats{
		Addr:      sp.server.Addr,
		PoolStats: sp.pool.Stats(),
	}
	if sp.circuitBreaker != nil {
		stats.CircuitBreakerState = sp.circuitBreaker.State()
		stats.CircuitBreakerCounts = sp.circuitBreaker.Counts()
	}
	return stats
}

// Execute runs a single request-response exchange.
// A non-success status is returned as an error.
func (sp *ServerPool) Execute(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	var resp *binprot.Response
	err := sp.withConnection(ctx, func(conn *Connection) error {
		var err error
		resp, err = conn.Send(ctx, req)
		if err != nil {
			return err
		}
		return resp.Err()
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ExecuteBatch pipelines quiet requests on one connection, see Connection.ExecuteBatch.
// Per-request failures are in the returned responses; the error is for the whole batch.
func (sp *ServerPool) ExecuteBatch(ctx context.Context, reqs []*binprot.Request) ([]*binprot.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	var resps []*binprot.Response
	err := sp.withConnection(ctx, func(conn *Connection) error {
		var err error
		resps, err = conn.ExecuteBatch(ctx, reqs)
		return err
	})
	return resps, err
}

// ExecutePipeline pipelines requests of any kind on one connection, see
// Connection.Pipeline.
func (sp *ServerPool) ExecutePipeline(ctx context.Context, reqs []*binprot.Request) ([]*binprot.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	var resps []*binprot.Response
	err := sp.withConnection(ctx, func(conn *Connection) error {
		var err error
		resps, err = conn.Pipeline(ctx, reqs)
		return err
	})
	return resps, err
}

// ExecuteNoReply sends a quiet request without waiting for an answer.
func (sp *ServerPool) ExecuteNoReply(ctx context.Context, req *binprot.Request) error {
	return sp.withConnection(ctx, func(conn *Connection) error {
		return conn.SendNoReply(ctx, req)
	})
}

// ExecuteStats fetches a statistics group.
func (sp *ServerPool) ExecuteStats(ctx context.Context, group string) (map[string]string, error) {
	var stats map[string]string
	err := sp.withConnection(ctx, func(conn *Connection) error {
		var err error
		stats, err = conn.SendStats(ctx, group)
		return err
	})
	return stats, err
}

// Warm opens and authenticates a connection if the pool has none.
func (sp *ServerPool) Warm(ctx context.Context) error {
	return sp.withConnection(ctx, func(conn *Connection) error {
		return nil
	})
}

func (sp *ServerPool) withConnection(ctx context.Context, fn func(conn *Connection) error) error {
	if sp.circuitBreaker == nil {
		return sp.withConnectionDirect(ctx, fn)
	}

	_, err := sp.circuitBreaker.Execute(func() (struct{}, error) {
		return struct{}{}, sp.withConnectionDirect(ctx, fn)
	})
	return err
}

// withConnectionDirect acquires a connection and releases it, or destroys it
// when fn left it broken.
func (sp *ServerPool) withConnectionDirect(ctx context.Context, fn func(conn *Connection) error) error {
	resource, err := sp.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(resource.Value())
	if resource.Value().Broken() {
		sp.logger.WithError(err).Warn("destroying connection")
		resource.Destroy()
		return err
	}

	resource.Release()
	return err
}

// checkIdle destroys idle connections past their lifetime or idle limits and
// pings the others.
func (sp *ServerPool) checkIdle(ctx context.Context, maxLifetime, maxIdle time.Duration) {
	now := time.Now()

	for _, res := range sp.pool.AcquireAllIdle() {
		if maxLifetime > 0 && now.Sub(res.CreationTime()) > maxLifetime {
			res.Destroy()
			continue
		}

		if maxIdle > 0 && res.IdleDuration() > maxIdle {
			res.Destroy()
			continue
		}

		if err := res.Value().Ping(ctx); err != nil {
			sp.logger.WithError(err).Warn("health check failed")
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

func (sp *ServerPool) Close() {
	sp.pool.Close()
}
