package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the persistence core.
type Metrics struct {
	Commits       prometheus.Counter
	Rollbacks     prometheus.Counter
	Conflicts     prometheus.Counter
	AuditEntries  prometheus.Counter
	FlushDuration prometheus.Histogram
}

// New creates and registers all persistence metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Commits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_persistence_commits_total",
			Help: "Total number of committed units of work",
		}),
		Rollbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_persistence_rollbacks_total",
			Help: "Total number of rolled-back units of work",
		}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_persistence_conflicts_total",
			Help: "Total number of optimistic-concurrency conflicts",
		}),
		AuditEntries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_persistence_audit_entries_total",
			Help: "Total number of audit log entries written",
		}),
		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fintrack_persistence_flush_duration_seconds",
			Help:    "Duration of unit-of-work flushes",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
