package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestConsistencyMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newConsistencyMetrics(registry, Config{ServiceName: "caseledger", Environment: "test"})

	m.AddDiscrepancies("drift", 2)
	m.AddDiscrepancies("drift", 0)
	m.IncReconcileRun("execute", "PASS")
	m.IncBackupFailure("")
	m.ObserveInvariantCheck("FAIL", 100, 3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.discrepancies.WithLabelValues("drift")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reconcileRuns.WithLabelValues("execute", "PASS")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.backupFailures.WithLabelValues("unknown")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.invariantCases))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.invariantFindings))
}

func TestConsistencyMetricsNilSafe(t *testing.T) {
	var m *ConsistencyMetrics
	m.AddDiscrepancies("drift", 1)
	m.IncReplay("submit_time_entry")
	m.ObserveInvariantCheck("PASS", 1, 0)
}
