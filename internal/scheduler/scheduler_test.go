package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/caseledger/internal/clock"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	healthcheckdomain "github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	"github.com/smallbiznis/caseledger/internal/ledger/ledgertest"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAuditor struct {
	mu       sync.Mutex
	calls    int
	triggers []string
	err      error
	onRun    func(calls int)
}

func (f *fakeAuditor) Run(ctx context.Context, trigger string) (*healthcheckdomain.InvariantReport, error) {
	f.mu.Lock()
	f.calls++
	f.triggers = append(f.triggers, trigger)
	calls := f.calls
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(calls)
	}
	report := &healthcheckdomain.InvariantReport{ID: "r", Status: driftdomain.StatusPass, CasesChecked: 3}
	if f.err != nil {
		report.Status = driftdomain.StatusError
		return report, f.err
	}
	return report, nil
}

func (f *fakeAuditor) Latest(context.Context) (*healthcheckdomain.InvariantReport, error) {
	return nil, healthcheckdomain.ErrReportNotFound
}

func (f *fakeAuditor) List(context.Context, int) ([]healthcheckdomain.InvariantReport, error) {
	return nil, nil
}

func newTestScheduler(t *testing.T, auditor healthcheckdomain.Service, fake *clock.FakeClock, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Log:     zap.NewNop(),
		GenID:   ledgertest.Node(t),
		Clock:   fake,
		Auditor: auditor,
		Config:  cfg,
	})
	require.NoError(t, err)
	return s
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "caseledger",
		Environment: "test",
	})

	s := newTestScheduler(t, &fakeAuditor{}, clock.NewFakeClock(time.Time{}), Config{})
	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "caseledger",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "caseledger_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "caseledger",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "caseledger_scheduler_job_errors_total", errorLabels))
}

func TestRunOnceRunsInvariantAudit(t *testing.T) {
	auditor := &fakeAuditor{}
	s := newTestScheduler(t, auditor, clock.NewFakeClock(time.Now()), Config{})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, auditor.calls)
	assert.Equal(t, []string{TriggerScheduled}, auditor.triggers)
}

func TestRunOnceWrapsJobError(t *testing.T) {
	auditor := &fakeAuditor{err: errors.New("sweep_failed")}
	s := newTestScheduler(t, auditor, clock.NewFakeClock(time.Now()), Config{})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobInvariantAudit)
}

func TestRunOnceSkipsDisabledJobs(t *testing.T) {
	auditor := &fakeAuditor{}
	s := newTestScheduler(t, auditor, clock.NewFakeClock(time.Now()), Config{EnabledJobs: []string{"something_else"}})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 0, auditor.calls)
}

func TestRunForeverWaitsForCalendarSlots(t *testing.T) {
	// 03:00 UTC on a winter day is 05:00 in Jerusalem.
	fake := clock.NewFakeClock(time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auditor := &fakeAuditor{onRun: func(calls int) {
		if calls == 2 {
			cancel()
		}
	}}
	s := newTestScheduler(t, auditor, fake, Config{ScheduleAt: "06:00", Timezone: "Asia/Jerusalem"})

	var waits []time.Duration
	s.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		fake.Advance(d)
		ch := make(chan time.Time, 1)
		ch <- fake.Now()
		return ch
	}

	s.RunForever(ctx)

	assert.Equal(t, 2, auditor.calls)
	require.Len(t, waits, 2)
	assert.Equal(t, time.Hour, waits[0])
	assert.Equal(t, 24*time.Hour, waits[1])
	assert.Equal(t, time.Date(2025, 1, 16, 4, 0, 0, 0, time.UTC), fake.Now())
}

func TestNextRun(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	require.NoError(t, err)
	at := TimeOfDay{Hour: 6}

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before slot in winter", time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC), time.Date(2025, 1, 15, 4, 0, 0, 0, time.UTC)},
		{"after slot rolls to tomorrow", time.Date(2025, 1, 15, 5, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 4, 0, 0, 0, time.UTC)},
		{"exactly on slot rolls to tomorrow", time.Date(2025, 1, 15, 4, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 4, 0, 0, 0, time.UTC)},
		{"summer offset", time.Date(2025, 7, 1, 2, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextRun(tc.now, at, loc)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got.UTC())
		})
	}
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("06:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 6, Minute: 30}, got)
	assert.Equal(t, "06:30", got.String())

	for _, bad := range []string{"", "6", "24:00", "06:60", "aa:bb"} {
		_, err := ParseTimeOfDay(bad)
		assert.ErrorIs(t, err, ErrInvalidConfig, bad)
	}
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	_, err := New(Params{
		Log:     zap.NewNop(),
		GenID:   ledgertest.Node(t),
		Clock:   clock.NewFakeClock(time.Now()),
		Auditor: &fakeAuditor{},
		Config:  Config{Timezone: "Mars/Olympus"},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
