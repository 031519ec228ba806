package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_tenant_pools_created_total",
		Help: "Number of tenant connection pools constructed on first access",
	})
	poolsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_tenant_pools_evicted_total",
		Help: "Number of tenant connection pools evicted and closed",
	})
	queryRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_query_retries_total",
		Help: "Number of query retries after transient backend errors, labeled by scope",
	}, []string{"scope"})
	slowQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_slow_queries_total",
		Help: "Number of query executions exceeding the slow-query threshold, labeled by scope",
	}, []string{"scope"})
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strata_query_duration_seconds",
		Help:    "Query execution latency in seconds, labeled by scope",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})
	poolOpenConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "strata_pool_open_connections",
		Help: "Open connections per pool, labeled by database",
	}, []string{"database"})
	poolIdleConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "strata_pool_idle_connections",
		Help: "Idle connections per pool, labeled by database",
	}, []string{"database"})
	poolWaitCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "strata_pool_wait_count",
		Help: "Cumulative connection waits per pool, labeled by database",
	}, []string{"database"})
)
