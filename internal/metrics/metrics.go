package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the store and the ingest core.
type Metrics struct {
	TxDuration     *prometheus.HistogramVec
	TxTotal        *prometheus.CounterVec
	TasksClaimed   *prometheus.CounterVec
	ClaimsEmpty    prometheus.Counter
	Transitions    *prometheus.CounterVec
	SubjectsIssued prometheus.Counter
	BulkRows       *prometheus.CounterVec
}

var singleton = sync.OnceValue(func() *Metrics {
	return &Metrics{
		TxDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingestflow",
			Name:      "tx_duration_seconds",
			Help:      "Duration of units of work by transaction mode.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"mode", "result"}),
		TxTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestflow",
			Name:      "tx_total",
			Help:      "Total number of units of work by mode and result.",
		}, []string{"mode", "result"}),
		TasksClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestflow",
			Name:      "tasks_claimed_total",
			Help:      "Total number of tasks claimed by workers.",
		}, []string{"type"}),
		ClaimsEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestflow",
			Name:      "claims_empty_total",
			Help:      "Total number of claim attempts that found no pending task.",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestflow",
			Name:      "ingest_transitions_total",
			Help:      "Total number of ingest status transitions by target status.",
		}, []string{"status"}),
		SubjectsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ingestflow",
			Name:      "subjects_issued_total",
			Help:      "Total number of new subject codes issued.",
		}),
		BulkRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestflow",
			Name:      "bulk_rows_total",
			Help:      "Total number of rows written by bulk operations.",
		}, []string{"kind", "op"}),
	}
})

// Get returns the process-wide collectors, registering them on first use.
func Get() *Metrics {
	return singleton()
}

// Result labels an outcome for counters with a result dimension.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
