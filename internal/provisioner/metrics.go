package provisioner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tenantsProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_tenants_provisioned_total",
		Help: "Number of tenant databases successfully provisioned.",
	})

	tenantsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_tenants_deleted_total",
		Help: "Number of tenants fully torn down.",
	})

	teardownFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_tenant_teardown_failures_total",
		Help: "Number of tenant deletions that left one or more steps incomplete.",
	})

	provisioningDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_tenant_provisioning_duration_seconds",
		Help:    "End-to-end duration of tenant provisioning, including schema bootstrap.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
