// Package prommetrics exposes memcache client and connection pool statistics
// as Prometheus metrics.
//
//	registry := prometheus.NewRegistry()
//	registry.MustRegister(prommetrics.NewCollector(client))
package prommetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	memcache "github.com/pior/memcache-binary"
)

const namespace = "memcache"

// StatsProvider is implemented by *memcache.Client.
type StatsProvider interface {
	Stats() memcache.ClientStats
	AllPoolStats() []memcache.ServerPoolStats
}

// Collector reads the client stats at scrape time.
type Collector struct {
	provider StatsProvider

	operations  *prometheus.Desc
	getHits     *prometheus.Desc
	noReplies   *prometheus.Desc
	casFailures *prometheus.Desc
	errors      *prometheus.Desc

	poolConns        *prometheus.Desc
	poolCreated      *prometheus.Desc
	poolDestroyed    *prometheus.Desc
	poolAcquires     *prometheus.Desc
	poolAcquireWaits *prometheus.Desc
	poolWaitSeconds  *prometheus.Desc
	poolErrors       *prometheus.Desc

	circuitState    *prometheus.Desc
	circuitRequests *prometheus.Desc
	circuitFailures *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(provider StatsProvider) *Collector {
	server := []string{"server"}

	return &Collector{
		provider: provider,

		operations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "operations_total"),
			"Operations issued by the client, per operation type.",
			[]string{"operation"}, nil,
		),
		getHits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "get_hits_total"),
			"Gets that found the key.",
			nil, nil,
		),
		noReplies: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "noreply_total"),
			"Requests sent without waiting for a response.",
			nil, nil,
		),
		casFailures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "cas_failures_total"),
			"Mutations rejected because of a stale CAS token.",
			nil, nil,
		),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "errors_total"),
			"Failed operations, misses excluded.",
			nil, nil,
		),

		poolConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "connections"),
			"Connections in the pool by state.",
			[]string{"server", "state"}, nil,
		),
		poolCreated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "connections_created_total"),
			"Connections created.",
			server, nil,
		),
		poolDestroyed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "connections_destroyed_total"),
			"Connections destroyed.",
			server, nil,
		),
		poolAcquires: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquires_total"),
			"Connection acquire attempts.",
			server, nil,
		),
		poolAcquireWaits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquire_waits_total"),
			"Acquires that had to wait for a connection.",
			server, nil,
		),
		poolWaitSeconds: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquire_wait_seconds_total"),
			"Time spent waiting for a connection.",
			server, nil,
		),
		poolErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquire_errors_total"),
			"Failed connection acquires.",
			server, nil,
		),

		circuitState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "circuit_breaker", "state"),
			"Circuit breaker state (0=closed, 1=half-open, 2=open).",
			server, nil,
		),
		circuitRequests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "circuit_breaker", "requests"),
			"Requests counted in the current circuit breaker interval.",
			server, nil,
		),
		circuitFailures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "circuit_breaker", "failures"),
			"Failures counted in the current circuit breaker interval.",
			[]string{"server", "type"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operations
	ch <- c.getHits
	ch <- c.noReplies
	ch <- c.casFailures
	ch <- c.errors
	ch <- c.poolConns
	ch <- c.poolCreated
	ch <- c.poolDestroyed
	ch <- c.poolAcquires
	ch <- c.poolAcquireWaits
	ch <- c.poolWaitSeconds
	ch <- c.poolErrors
	ch <- c.circuitState
	ch <- c.circuitRequests
	ch <- c.circuitFailures
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectClient(ch, c.provider.Stats())

	for _, stats := range c.provider.AllPoolStats() {
		c.collectPool(ch, stats)
	}
}

func (c *Collector) collectClient(ch chan<- prometheus.Metric, stats memcache.ClientStats) {
	operations := []struct {
		name  string
		count uint64
	}{
		{"get", stats.Gets},
		{"set", stats.Sets},
		{"add", stats.Adds},
		{"replace", stats.Replaces},
		{"delete", stats.Deletes},
		{"increment", stats.Increments},
		{"decrement", stats.Decrements},
		{"append", stats.Appends},
		{"prepend", stats.Prepends},
		{"touch", stats.Touches},
	}
	for _, op := range operations {
		ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(op.count), op.name)
	}

	ch <- prometheus.MustNewConstMetric(c.getHits, prometheus.CounterValue, float64(stats.GetHits))
	ch <- prometheus.MustNewConstMetric(c.noReplies, prometheus.CounterValue, float64(stats.NoReplies))
	ch <- prometheus.MustNewConstMetric(c.casFailures, prometheus.CounterValue, float64(stats.CASFailures))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stats.Errors))
}

func (c *Collector) collectPool(ch chan<- prometheus.Metric, stats memcache.ServerPoolStats) {
	addr := stats.Addr
	pool := stats.PoolStats

	ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(pool.TotalConns), addr, "total")
	ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(pool.ActiveConns), addr, "active")
	ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(pool.IdleConns), addr, "idle")

	ch <- prometheus.MustNewConstMetric(c.poolCreated, prometheus.CounterValue, float64(pool.CreatedConns), addr)
	ch <- prometheus.MustNewConstMetric(c.poolDestroyed, prometheus.CounterValue, float64(pool.DestroyedConns), addr)
	ch <- prometheus.MustNewConstMetric(c.poolAcquires, prometheus.CounterValue, float64(pool.AcquireCount), addr)
	ch <- prometheus.MustNewConstMetric(c.poolAcquireWaits, prometheus.CounterValue, float64(pool.AcquireWaitCount), addr)
	ch <- prometheus.MustNewConstMetric(c.poolWaitSeconds, prometheus.CounterValue, float64(pool.AcquireWaitTimeNs)/1e9, addr)
	ch <- prometheus.MustNewConstMetric(c.poolErrors, prometheus.CounterValue, float64(pool.AcquireErrors), addr)

	ch <- prometheus.MustNewConstMetric(c.circuitState, prometheus.GaugeValue, circuitStateValue(stats.CircuitBreakerState), addr)
	ch <- prometheus.MustNewConstMetric(c.circuitRequests, prometheus.GaugeValue, float64(stats.CircuitBreakerCounts.Requests), addr)
	ch <- prometheus.MustNewConstMetric(c.circuitFailures, prometheus.GaugeValue, float64(stats.CircuitBreakerCounts.TotalFailures), addr, "total")
	ch <- prometheus.MustNewConstMetric(c.circuitFailures, prometheus.GaugeValue, float64(stats.CircuitBreakerCounts.ConsecutiveFailures), addr, "consecutive")
}

func circuitStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
