package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/clock"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	healthcheckdomain "github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobInvariantAudit = "invariant_audit"

	TriggerScheduled = "scheduled"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Auditor healthcheckdomain.Service
	Config  Config `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	at      TimeOfDay
	loc     *time.Location
	genID   *snowflake.Node
	clock   clock.Clock
	auditor healthcheckdomain.Service

	// after waits for the next slot; tests swap it to drive the loop.
	after func(time.Duration) <-chan time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Auditor == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	at, err := ParseTimeOfDay(cfg.ScheduleAt)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone))
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, cfg.Timezone, err)
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     cfg,
		at:      at,
		loc:     loc,
		genID:   p.GenID,
		clock:   p.Clock,
		auditor: p.Auditor,
		after:   time.After,
	}, nil
}

// runJob executes one job under its budget. A blown deadline is reported
// and swallowed; the next calendar slot retries.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run := s.beginRun(ctx, name)

	m := obsmetrics.Scheduler()
	m.IncJobRun(name)
	err := fn(ctx)
	now := s.clock.Now()
	m.ObserveJobDuration(name, now.Sub(run.started))
	run.finish(now, err)

	switch {
	case err == nil:
		m.MarkJobSuccess(name, now)
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		m.IncJobTimeout(name)
		m.IncJobError(name, err)
		run.log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	m.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobInvariantAudit, s.InvariantAuditJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

// RunForever sleeps until each calendar slot and runs the jobs there.
func (s *Scheduler) RunForever(ctx context.Context) {
	schedMetrics := obsmetrics.Scheduler()

	for {
		if ctx.Err() != nil {
			return
		}
		now := s.clock.Now()
		next := NextRun(now, s.at, s.loc)
		s.log.Info("scheduler.next_run",
			zap.Time("at", next),
			zap.String("slot", s.at.String()),
			zap.String("timezone", s.loc.String()),
		)

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}

		schedMetrics.ObserveRunLoopLag(s.clock.Now().Sub(next))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}
}

// InvariantAuditJob sweeps every case and persists one report.
func (s *Scheduler) InvariantAuditJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	if run == nil {
		ctx, run = s.beginRun(ctx, JobInvariantAudit)
	}

	report, err := s.auditor.Run(ctx, TriggerScheduled)
	if report != nil {
		run.addProcessed(report.CasesChecked)
		obsmetrics.Scheduler().AddBatchProcessed(JobInvariantAudit, "cases", report.CasesChecked)
		fields := []zap.Field{
			zap.String("report_id", report.ID),
			zap.String("status", string(report.Status)),
			zap.Int("cases_checked", report.CasesChecked),
			zap.Int("cases_skipped", report.CasesSkipped),
			zap.Int("discrepancies", report.DiscrepanciesCount),
		}
		if report.Status == driftdomain.StatusPass {
			run.log.Info("invariant audit finished", fields...)
		} else {
			run.log.Warn("invariant audit finished", fields...)
		}
	}
	if err != nil {
		run.fail("invariant audit failed", err)
		return err
	}
	return nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
