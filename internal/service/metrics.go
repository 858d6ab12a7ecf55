package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for edgelockdown.
// Pass to components that need to record metrics.
type Metrics struct {
	ApplyAttemptsTotal    *prometheus.CounterVec
	VersionConflictsTotal *prometheus.CounterVec
	RemoteRetriesTotal    *prometheus.CounterVec
	ReconcileOpsTotal     *prometheus.CounterVec
	AddressSetWritesTotal *prometheus.CounterVec
	ApplyDuration         *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ApplyAttemptsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgelockdown",
				Name:      "apply_attempts_total",
				Help:      "Total read-compute-write attempts against the policy store",
			},
			[]string{"realm", "outcome"}, // outcome=applied/noop/conflict/unavailable/error
		),
		VersionConflictsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgelockdown",
				Name:      "version_conflicts_total",
				Help:      "Conditional writes lost to a concurrent writer",
			},
			[]string{"realm"},
		),
		RemoteRetriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgelockdown",
				Name:      "remote_retries_total",
				Help:      "Retries caused by transient policy store unavailability",
			},
			[]string{"realm"},
		),
		ReconcileOpsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgelockdown",
				Name:      "reconcile_ops_total",
				Help:      "Reconcile operations by kind and result",
			},
			[]string{"op", "result"}, // op=enable/disable, result=applied/noop/failed
		),
		AddressSetWritesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgelockdown",
				Name:      "address_set_writes_total",
				Help:      "Address set writes by kind",
			},
			[]string{"kind"}, // kind=create/update/skip/delete
		),
		ApplyDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "edgelockdown",
				Name:      "apply_duration_seconds",
				Help:      "Duration of a full Apply cycle including retries",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
			},
			[]string{"realm"},
		),
	}
}
