package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// counterValue sums every series of the named family matching labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Run("merge", "success", 0.2)
	r.Run("merge", "rejected", 0.1)
	r.Run("aggregate", "success", 0.3)
	r.Merge(3, 1, 2)
	r.Merge(1, 1, 0)
	r.Aggregate(10, 4)
	r.Diagnostic("email_not_null", "warning", 7)

	require.Equal(t, 2.0, counterValue(t, reg, "dimledger_runs_total", map[string]string{"kind": "merge"}))
	require.Equal(t, 1.0, counterValue(t, reg, "dimledger_runs_total", map[string]string{"status": "rejected"}))
	require.Equal(t, 4.0, counterValue(t, reg, "dimledger_dimension_versions_created_total", nil))
	require.Equal(t, 2.0, counterValue(t, reg, "dimledger_dimension_versions_closed_total", nil))
	require.Equal(t, 2.0, counterValue(t, reg, "dimledger_merge_conflict_retries_total", nil))
	require.Equal(t, 10.0, counterValue(t, reg, "dimledger_fact_rows_written_total", nil))
	require.Equal(t, 4.0, counterValue(t, reg, "dimledger_orphan_transactions_total", nil))
	require.Equal(t, 7.0, counterValue(t, reg, "dimledger_quality_diagnostics_total", map[string]string{"rule": "email_not_null"}))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	require.NotPanics(t, func() {
		r.Run("merge", "success", 1)
		r.Merge(1, 1, 1)
		r.Aggregate(1, 1)
		r.Diagnostic("x", "error", 1)
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
