// Package metrics exposes the library's runtime behavior as Prometheus
// instrumentation: pool occupancy, acquire/query latency, and prepared
// statement cache turnover. It is optional — a program that never
// constructs a Collector pays nothing for it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dbbouncer/mysqlx/pool"
)

// Collector holds the Prometheus metrics for one mysqlx.DB.
type Collector struct {
	Registry *prometheus.Registry

	poolFree        prometheus.Gauge
	poolInFlight    prometheus.Gauge
	poolUnallocated prometheus.Gauge
	poolWaiting     prometheus.Gauge
	poolExhausted   prometheus.Counter

	acquireDuration prometheus.Histogram
	queryDuration   prometheus.Histogram
	serverErrors    prometheus.Counter

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter

	transactionsTotal *prometheus.CounterVec
}

// New creates and registers a Collector on a fresh, independent registry.
// Safe to call more than once, e.g. one Collector per DB in a process that
// opens several.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		poolFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysqlx_pool_free",
			Help: "Idle connections currently available to Acquire.",
		}),
		poolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysqlx_pool_in_flight",
			Help: "Connections currently checked out by a caller.",
		}),
		poolUnallocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysqlx_pool_unallocated",
			Help: "Remaining room under MaxConnections not yet dialed.",
		}),
		poolWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysqlx_pool_waiting",
			Help: "Goroutines currently blocked in Acquire.",
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlx_pool_exhausted_total",
			Help: "Acquire calls that had to wait because the pool was at MaxConnections.",
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mysqlx_acquire_duration_seconds",
			Help:    "Time spent waiting inside pool.Acquire.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mysqlx_query_duration_seconds",
			Help:    "Time from sending a command to its result becoming available.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		serverErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlx_server_errors_total",
			Help: "ERR_Packet responses received from the server.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlx_stmt_cache_hits_total",
			Help: "Prepared statement cache lookups that found a cached handle.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlx_stmt_cache_misses_total",
			Help: "Prepared statement cache lookups that required a new PREPARE.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mysqlx_stmt_cache_evictions_total",
			Help: "Prepared statements evicted to make room for a new one.",
		}),
		transactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlx_transactions_total",
				Help: "Completed transactions by outcome.",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		c.poolFree,
		c.poolInFlight,
		c.poolUnallocated,
		c.poolWaiting,
		c.poolExhausted,
		c.acquireDuration,
		c.queryDuration,
		c.serverErrors,
		c.cacheHits,
		c.cacheMisses,
		c.cacheEvictions,
		c.transactionsTotal,
	)

	return c
}

// UpdatePoolStats sets the pool occupancy gauges from a pool.Stats snapshot.
func (c *Collector) UpdatePoolStats(s pool.Stats) {
	c.poolFree.Set(float64(s.Free))
	c.poolInFlight.Set(float64(s.InFlight))
	c.poolUnallocated.Set(float64(s.Unallocated))
	c.poolWaiting.Set(float64(s.Waiting))
}

// AcquireDuration observes the time a caller spent waiting in Acquire.
func (c *Collector) AcquireDuration(d time.Duration) {
	c.acquireDuration.Observe(d.Seconds())
}

// QueryDuration observes the time an Execute or Fetch call took.
func (c *Collector) QueryDuration(d time.Duration) {
	c.queryDuration.Observe(d.Seconds())
}

// ServerError increments the count of ERR_Packet responses seen.
func (c *Collector) ServerError() {
	c.serverErrors.Inc()
}

// PoolExhausted increments the count of Acquire calls that had to wait.
func (c *Collector) PoolExhausted() {
	c.poolExhausted.Inc()
}

// CacheHit records a prepared statement cache hit.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss records a prepared statement cache miss.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

// CacheEviction records a prepared statement evicted from the cache.
func (c *Collector) CacheEviction() { c.cacheEvictions.Inc() }

// TransactionCompleted records a transaction outcome, "commit" or "rollback".
func (c *Collector) TransactionCompleted(outcome string) {
	c.transactionsTotal.WithLabelValues(outcome).Inc()
}
