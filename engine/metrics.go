/*
metrics.go - Prometheus instrumentation for the balance engine

PURPOSE:
  Counters for the hot paths: allocation passes, order lifecycle movements,
  consumption/refund traffic, sync drift detection, and post-commit publish
  failures. Exposed via the /metrics route on the API router.
*/
package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocationPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitorders_allocation_passes_total",
		Help: "Allocation passes run, by outcome (changed, noop, failed).",
	}, []string{"outcome"})

	ordersGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitorders_orders_generated_total",
		Help: "New AVAILABLE orders created by the allocation pass, by kind.",
	}, []string{"kind"})

	ordersAccumulated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visitorders_orders_accumulated_total",
		Help: "VOs aged from AVAILABLE to ACCUMULATED.",
	})

	ordersExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitorders_orders_expired_total",
		Help: "Orders expired by cap enforcement or PVO aging, by kind.",
	}, []string{"kind"})

	negativesRepaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitorders_negatives_repaid_total",
		Help: "Negative orders repaid out of allocations or adjustments, by kind.",
	}, []string{"kind"})

	visitsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitorders_visits_consumed_total",
		Help: "Orders consumed by visit bookings, by kind (negative = borrowed).",
	}, []string{"kind"})

	visitsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visitorders_visits_refunded_total",
		Help: "Visit cancellations refunded.",
	})

	syncDriftDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "visitorders_sync_drift_detected_total",
		Help: "Syncs whose declared old balance disagreed with the stored balance, by kind.",
	}, []string{"kind"})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "visitorders_event_publish_failures_total",
		Help: "Notification events that failed to publish after commit.",
	})
)
