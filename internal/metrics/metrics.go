package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dimledger"

// Recorder holds the pipeline counters. A nil *Recorder records nothing.
type Recorder struct {
	runsTotal       *prometheus.CounterVec
	versionsCreated prometheus.Counter
	versionsClosed  prometheus.Counter
	conflictRetries prometheus.Counter
	factRowsWritten prometheus.Counter
	orphanTxns      prometheus.Counter
	gateDiagnostics *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
}

// New registers the counters with reg. Pass prometheus.DefaultRegisterer to expose
// them on the default /metrics handler.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Engine runs by kind and final status",
		}, []string{"kind", "status"}),
		versionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dimension_versions_created_total",
			Help:      "Dimension versions inserted by the merge engine",
		}),
		versionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dimension_versions_closed_total",
			Help:      "Dimension versions closed by the merge engine",
		}),
		conflictRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflict_retries_total",
			Help:      "Optimistic conflict retries during merge apply",
		}),
		factRowsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fact_rows_written_total",
			Help:      "Fact rows written by partition replaces",
		}),
		orphanTxns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_transactions_total",
			Help:      "Transactions excluded because their customer was unknown on the business date",
		}),
		gateDiagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_diagnostics_total",
			Help:      "Data quality rule violations by rule and severity",
		}, []string{"rule", "severity"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of engine runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
	}
}

func (r *Recorder) Run(kind, status string, seconds float64) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(kind, status).Inc()
	r.runDuration.WithLabelValues(kind).Observe(seconds)
}

func (r *Recorder) Merge(created, closed, retries int) {
	if r == nil {
		return
	}
	r.versionsCreated.Add(float64(created))
	r.versionsClosed.Add(float64(closed))
	r.conflictRetries.Add(float64(retries))
}

func (r *Recorder) Aggregate(rowsWritten, orphans int) {
	if r == nil {
		return
	}
	r.factRowsWritten.Add(float64(rowsWritten))
	r.orphanTxns.Add(float64(orphans))
}

func (r *Recorder) Diagnostic(rule, severity string, count int) {
	if r == nil {
		return
	}
	r.gateDiagnostics.WithLabelValues(rule, severity).Add(float64(count))
}
