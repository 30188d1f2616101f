package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/caseledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun is the per-execution bookkeeping a job reaches through its context.
type jobRun struct {
	id        string
	job       string
	started   time.Time
	log       *zap.Logger
	processed int
	failures  int
}

type jobRunKey struct{}

func (s *Scheduler) beginRun(ctx context.Context, job string) (context.Context, *jobRun) {
	run := &jobRun{
		id:      s.genID.Generate().String(),
		job:     job,
		started: s.clock.Now(),
	}
	run.log = obslogger.WithContext(ctx, s.log).With(
		zap.String("job", job),
		zap.String("run_id", run.id),
	)
	run.log.Info("scheduler.job.start")
	return context.WithValue(ctx, jobRunKey{}, run), run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (r *jobRun) addProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

// fail logs a classified job error and counts it against the run.
func (r *jobRun) fail(msg string, err error, fields ...zap.Field) {
	if r == nil || err == nil {
		return
	}
	r.failures++
	r.log.Error(msg, append([]zap.Field{
		zap.Error(err),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
	}, fields...)...)
}

func (r *jobRun) finish(now time.Time, err error) {
	if err != nil && r.failures == 0 {
		r.failures = 1
	}
	fields := []zap.Field{
		zap.Duration("duration", now.Sub(r.started)),
		zap.Int("processed_count", r.processed),
		zap.Int("error_count", r.failures),
	}
	if r.failures > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}
