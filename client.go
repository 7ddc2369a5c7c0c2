package memcache

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// NoExpiration keeps items until they are evicted.
const NoExpiration = 0

// DefaultMaxSize is the default number of connections per server.
const DefaultMaxSize int32 = 4

// ProtocolType selects the wire protocol. Only the binary protocol is implemented.
type ProtocolType int

const (
	ProtocolBinary ProtocolType = iota
)

func (p ProtocolType) String() string {
	switch p {
	case ProtocolBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Item is a cached value with its metadata.
type Item struct {
	Key   string
	Value []byte
	Flags uint32

	// Expiration is a duration in seconds, or a unix timestamp when larger
	// than 30 days. Zero means no expiration.
	Expiration uint32

	// CAS is the version token returned by the server. It is only sent by
	// the CAS operations.
	CAS uint64
}

// Config holds configuration for the memcache client.
type Config struct {
	// Protocol must be ProtocolBinary, the zero value.
	Protocol ProtocolType

	// Credentials enable SASL PLAIN authentication. Nil disables authentication.
	Credentials *Credentials

	// MaxSize is the maximum number of connections per server.
	// Zero means DefaultMaxSize.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are checked with a noop.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Timeout bounds each exchange with a server when the context has no
	// earlier deadline. A timed out connection is discarded.
	// Zero means no timeout.
	Timeout time.Duration

	// MaxValueSize rejects larger values before sending them.
	// Zero means 1MiB, the default item size limit of memcached.
	MaxValueSize int

	// Dialer is the net.Dialer used to create new connections.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// Dial overrides Dialer, for instance to return TLS connections.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	// Pool is the connection pool factory function.
	// If nil, uses NewChannelPool. NewPuddlePool is the alternative.
	Pool PoolFactory

	// SelectServer maps keys to servers, DefaultServerSelector if nil.
	SelectServer ServerSelector

	// NewCircuitBreaker creates a circuit breaker for a server.
	// Called once per server address when the pool is created.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) *CircuitBreaker

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger

	// for testing purposes only
	constructor ConnectionConstructor
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Dial == nil {
		d := c.Dialer
		if d == nil {
			d = &net.Dialer{}
		}
		c.Dial = d.DialContext
	}
	if c.Pool == nil {
		c.Pool = NewChannelPool
	}
	if c.SelectServer == nil {
		c.SelectServer = DefaultServerSelector
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Client is a memcached binary protocol client over a weighted server list.
// It is safe for concurrent use.
type Client struct {
	servers *Servers
	config  Config
	logger  logrus.FieldLogger

	// one pool per server, built at construction and never modified
	pools map[string]*ServerPool

	closed          atomic.Bool
	closeOnce       sync.Once
	stopHealthCheck chan struct{}

	stats clientStatsCollector
}

var _ Querier = (*Client)(nil)

// NewClient creates a client. Connections are opened lazily, on first use.
func NewClient(servers *Servers, config Config) (*Client, error) {
	if servers == nil {
		return nil, ErrNoServers
	}
	if config.Protocol != ProtocolBinary {
		return nil, ErrUnsupportedProtocol
	}

	config = config.withDefaults()

	client := &Client{
		servers:         servers.WithSelector(config.SelectServer),
		config:          config,
		logger:          config.Logger,
		pools:           make(map[string]*ServerPool, len(servers.list)),
		stopHealthCheck: make(chan struct{}),
	}

	for _, server := range servers.list {
		sp, err := NewServerPool(server, config)
		if err != nil {
			client.closePools()
			return nil, err
		}
		client.pools[server.Addr] = sp
	}

	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}

	return client, nil
}

// Connect creates a client and opens one authenticated connection per server.
// When some servers fail, it returns a *ConnectError listing each of them.
func Connect(ctx context.Context, servers []Server, config Config) (*Client, error) {
	list, err := NewServers(servers...)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(list, config)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	for _, sp := range client.pools {
		g.Go(func() error {
			if err := sp.Warm(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, &ServerError{Addr: sp.Address(), Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		client.Close()
		return nil, newConnectError(errs)
	}

	client.logger.WithField("servers", len(servers)).Debug("memcache client connected")
	return client, nil
}

// Close closes the client and destroys all connections in all pools.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopHealthCheck)
		c.closePools()
	})
}

func (c *Client) closePools() {
	for _, sp := range c.pools {
		sp.Close()
	}
}

func (c *Client) Servers() *Servers {
	return c.servers
}

// poolFor returns the pool of the server owning key.
func (c *Client) poolFor(key string) (*ServerPool, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	return c.pools[c.servers.Select(key).Addr], nil
}

// orderedPools returns the pools in server list order.
func (c *Client) orderedPools() []*ServerPool {
	pools := make([]*ServerPool, 0, len(c.servers.list))
	for _, server := range c.servers.list {
		pools = append(pools, c.pools[server.Addr])
	}
	return pools
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkAllPools()
		}
	}
}

func (c *Client) checkAllPools() {
	for _, sp := range c.orderedPools() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.HealthCheckInterval)
		sp.checkIdle(ctx, c.config.MaxConnLifetime, c.config.MaxConnIdleTime)
		cancel()
	}
}

// Stats returns a snapshot of the client operation counters.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// AllPoolStats returns the stats of every server pool, in server list order.
func (c *Client) AllPoolStats() []ServerPoolStats {
	pools := c.orderedPools()
	stats := make([]ServerPoolStats, len(pools))
	for i, sp := range pools {
		stats[i] = sp.Stats()
	}
	return stats
}
