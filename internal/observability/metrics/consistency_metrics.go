package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsistencyMetrics tracks drift detection, reconciliation, invariant audits
// and backfills.
type ConsistencyMetrics struct {
	discrepancies     *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
	correctionsApply  prometheus.Counter
	backupFailures    *prometheus.CounterVec
	invariantChecks   *prometheus.CounterVec
	invariantCases    prometheus.Gauge
	invariantFindings prometheus.Gauge
	backfillRecords   *prometheus.CounterVec
	replays           *prometheus.CounterVec
}

var (
	consistencyMetricsOnce sync.Once
	consistencyMetrics     *ConsistencyMetrics
)

// Consistency returns the singleton consistency metrics registry.
func Consistency() *ConsistencyMetrics {
	return ConsistencyWithConfig(Config{})
}

// ConsistencyWithConfig returns the singleton consistency metrics registry using config labels.
func ConsistencyWithConfig(cfg Config) *ConsistencyMetrics {
	consistencyMetricsOnce.Do(func() {
		consistencyMetrics = newConsistencyMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return consistencyMetrics
}

// ResetConsistencyMetricsForTest resets the consistency metrics singleton for tests.
func ResetConsistencyMetricsForTest() {
	consistencyMetricsOnce = sync.Once{}
	consistencyMetrics = nil
}

// NewConsistencyMetricsForRegistry builds an isolated instance, used by tests
// that need to read counter values back.
func NewConsistencyMetricsForRegistry(registerer prometheus.Registerer, cfg Config) *ConsistencyMetrics {
	return newConsistencyMetrics(registerer, cfg)
}

func newConsistencyMetrics(registerer prometheus.Registerer, cfg Config) *ConsistencyMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	discrepancies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "caseledger_discrepancies_detected_total",
		Help:        "Discrepancies found by drift detection, by kind.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	reconcileRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "caseledger_reconciliation_runs_total",
		Help:        "Reconciliation runs by mode and status.",
		ConstLabels: constLabels,
	}, []string{"mode", "status"})
	correctionsApply := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "caseledger_reconciliation_corrections_applied_total",
		Help:        "Service and case corrections written by execute runs.",
		ConstLabels: constLabels,
	})
	backupFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "caseledger_backup_failures_total",
		Help:        "Backup artifact write failures by sink.",
		ConstLabels: constLabels,
	}, []string{"sink"})
	invariantChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "caseledger_invariant_checks_total",
		Help:        "Invariant audit runs by status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	invariantCases := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "caseledger_invariant_cases_checked",
		Help:        "Cases checked by the most recent invariant audit.",
		ConstLabels: constLabels,
	})
	invariantFindings := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "caseledger_invariant_discrepancies",
		Help:        "Discrepancies reported by the most recent invariant audit.",
		ConstLabels: constLabels,
	})
	backfillRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "caseledger_backfill_records_total",
		Help:        "Records touched by backfills, by migration and operation.",
		ConstLabels: constLabels,
	}, []string{"migration", "operation"})
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "caseledger_idempotent_replays_total",
		Help:        "Commands answered from a stored result snapshot.",
		ConstLabels: constLabels,
	}, []string{"operation"})

	registerer.MustRegister(
		discrepancies,
		reconcileRuns,
		correctionsApply,
		backupFailures,
		invariantChecks,
		invariantCases,
		invariantFindings,
		backfillRecords,
		replays,
	)

	return &ConsistencyMetrics{
		discrepancies:     discrepancies,
		reconcileRuns:     reconcileRuns,
		correctionsApply:  correctionsApply,
		backupFailures:    backupFailures,
		invariantChecks:   invariantChecks,
		invariantCases:    invariantCases,
		invariantFindings: invariantFindings,
		backfillRecords:   backfillRecords,
		replays:           replays,
	}
}

func (m *ConsistencyMetrics) AddDiscrepancies(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.discrepancies.WithLabelValues(normalizeLabel(kind)).Add(float64(count))
}

func (m *ConsistencyMetrics) IncReconcileRun(mode, status string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(normalizeLabel(mode), normalizeLabel(status)).Inc()
}

func (m *ConsistencyMetrics) AddCorrectionsApplied(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.correctionsApply.Add(float64(count))
}

func (m *ConsistencyMetrics) IncBackupFailure(sink string) {
	if m == nil {
		return
	}
	m.backupFailures.WithLabelValues(normalizeLabel(sink)).Inc()
}

// ObserveInvariantCheck records an audit outcome and its headline gauges.
func (m *ConsistencyMetrics) ObserveInvariantCheck(status string, casesChecked, discrepancies int) {
	if m == nil {
		return
	}
	m.invariantChecks.WithLabelValues(normalizeLabel(status)).Inc()
	m.invariantCases.Set(float64(casesChecked))
	m.invariantFindings.Set(float64(discrepancies))
}

func (m *ConsistencyMetrics) AddBackfillRecords(migration, operation string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.backfillRecords.WithLabelValues(normalizeLabel(migration), normalizeLabel(operation)).Add(float64(count))
}

func (m *ConsistencyMetrics) IncReplay(operation string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
