package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/clock"
	"github.com/smallbiznis/caseledger/internal/config"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"github.com/smallbiznis/caseledger/internal/lock"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"github.com/smallbiznis/caseledger/internal/reconcile/backup"
	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	pkgdb "github.com/smallbiznis/caseledger/pkg/db"
	"github.com/smallbiznis/caseledger/pkg/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultLockTTL = time.Minute

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	Repo    ledgerdomain.Repository
	Runs    reconciledomain.Repository
	Drift   driftdomain.Service
	Locker  lock.CaseLocker
	Backup  *backup.Writer                  `optional:"true"`
	Policy  *config.ConsistencyPolicyHolder `optional:"true"`
	Metrics *obsmetrics.ConsistencyMetrics  `optional:"true"`
	Audit   auditdomain.Service             `optional:"true"`
	Clock   clock.Clock                     `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     config.ReconcileConfig
	repo    ledgerdomain.Repository
	runs    reconciledomain.Repository
	drift   driftdomain.Service
	locker  lock.CaseLocker
	backup  *backup.Writer
	policy  *config.ConsistencyPolicyHolder
	metrics *obsmetrics.ConsistencyMetrics
	audit   auditdomain.Service
	clock   clock.Clock
	retry   retry.Policy
}

func NewService(p Params) reconciledomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("reconcile.service"),
		cfg:     p.Config.Reconcile,
		repo:    p.Repo,
		runs:    p.Runs,
		drift:   p.Drift,
		locker:  p.Locker,
		backup:  p.Backup,
		policy:  p.Policy,
		metrics: p.Metrics,
		audit:   p.Audit,
		clock:   clk,
		retry:   retry.DefaultPolicy(),
	}
}

// attempt is what one pass of the execute loop saw and did.
type attempt struct {
	drift          *driftdomain.CaseDrift
	plan           reconciledomain.Plan
	applied        bool
	backupLocation string
	backupErr      error
}

// Reconcile detects drift on one case and, in execute mode, writes the
// corrections. A record is persisted for every run that reaches the case,
// dry runs included.
func (s *Service) Reconcile(ctx context.Context, caseID string, mode reconciledomain.Mode) (*reconciledomain.Record, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, reconciledomain.ErrInvalidCaseID
	}
	if mode != reconciledomain.ModeDryRun && mode != reconciledomain.ModeExecute {
		return nil, reconciledomain.ErrInvalidMode
	}
	ctx = obscontext.WithCaseID(ctx, caseID)

	record := &reconciledomain.Record{
		ID:        ulid.Make().String(),
		CaseID:    caseID,
		Mode:      mode,
		Actor:     actorFromContext(ctx),
		CreatedAt: s.clock.Now(),
	}

	if s.policy.Get().IsSkipped(caseID) {
		record.Skipped = true
		record.Status = driftdomain.StatusPass
		s.log.Info("case on skip-list, not reconciled", zap.String("case_id", caseID))
		return s.finish(ctx, record, nil)
	}

	if mode == reconciledomain.ModeDryRun {
		return s.dryRun(ctx, record)
	}
	return s.execute(ctx, record)
}

func (s *Service) dryRun(ctx context.Context, record *reconciledomain.Record) (*reconciledomain.Record, error) {
	d, err := s.drift.DetectDrift(ctx, record.CaseID)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrCaseNotFound) {
			return nil, err
		}
		record.Status = driftdomain.StatusError
		record.Error = err.Error()
		return s.finish(ctx, record, err)
	}

	plan := reconciledomain.PlanCorrections(d)
	fill(record, d, plan)
	record.Attempts = 1
	record.Status = driftdomain.StatusPass
	if !d.Clean() {
		record.Status = driftdomain.StatusFail
	}
	return s.finish(ctx, record, nil)
}

func (s *Service) execute(ctx context.Context, record *reconciledomain.Record) (*reconciledomain.Record, error) {
	policy := s.retry
	if attempts := s.policy.Get().RetryAttempts; attempts > 0 {
		policy.MaxAttempts = attempts
	}

	result, err := retry.Do(ctx, policy, isRetryable, func(ctx context.Context) (*attempt, error) {
		record.Attempts++
		return s.executeOnce(ctx, record)
	})
	if result != nil {
		fill(record, result.drift, result.plan)
		record.Applied = result.applied
		record.BackupLocation = result.backupLocation
		if result.backupErr != nil {
			record.BackupError = result.backupErr.Error()
		}
	}

	if err != nil {
		if errors.Is(err, ledgerdomain.ErrCaseNotFound) {
			return nil, err
		}
		if errors.Is(err, ledgerdomain.ErrVersionConflict) || pkgdb.IsRetryableTxErr(err) {
			err = fmt.Errorf("%w: %w", reconciledomain.ErrTransactionConflict, err)
		}
		record.Status = driftdomain.StatusError
		record.Error = err.Error()
		return s.finish(ctx, record, err)
	}

	record.Status = driftdomain.StatusPass
	if len(record.Changes.Data().ManualReview) > 0 {
		record.Status = driftdomain.StatusFail
	}
	if record.Applied {
		s.metrics.AddCorrectionsApplied(record.Changes.Data().Writes())
	}
	return s.finish(ctx, record, nil)
}

// executeOnce is one locked pass: detect, plan, back up, then write under
// the case version read by the detector.
func (s *Service) executeOnce(ctx context.Context, record *reconciledomain.Record) (*attempt, error) {
	ttl := s.cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	release, err := s.locker.TryLock(ctx, record.CaseID, ttl)
	if errors.Is(err, lock.ErrLocked) {
		return nil, reconciledomain.ErrCaseLocked
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("release case lock failed", zap.String("case_id", record.CaseID), zap.Error(err))
		}
	}()

	d, err := s.drift.DetectDrift(ctx, record.CaseID)
	if err != nil {
		return nil, err
	}
	out := &attempt{drift: d, plan: reconciledomain.PlanCorrections(d)}
	if out.plan.Empty() {
		return out, nil
	}

	locations, err := s.backup.Write(ctx, backup.Artifact{
		RunID:         record.ID,
		CaseID:        d.CaseID,
		CaseName:      d.CaseName,
		CaseVersion:   d.CaseVersion,
		Actor:         record.Actor,
		CreatedAt:     record.CreatedAt,
		Discrepancies: d.Discrepancies,
		Changes:       out.plan,
	})
	out.backupLocation = strings.Join(locations, ",")
	if err != nil {
		out.backupErr = err
		if s.cfg.RequireBackup {
			return out, err
		}
		s.log.Error("backup failed, continuing without one",
			zap.String("case_id", record.CaseID),
			zap.Error(err),
		)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.LockCase(ctx, tx, record.CaseID)
		if err != nil {
			return err
		}
		if current.Version != d.CaseVersion {
			return ledgerdomain.ErrVersionConflict
		}

		for _, change := range out.plan.Services {
			if err := s.repo.UpdateServiceTotals(ctx, tx, change.ServiceID, change.NewUsed, change.NewRemaining); err != nil {
				return err
			}
		}
		if _, err := s.repo.RollupCase(ctx, tx, record.CaseID, d.CaseVersion); err != nil {
			return err
		}

		if s.audit == nil {
			return nil
		}
		return s.audit.RecordTx(ctx, tx, auditdomain.Event{
			Action:     "case.reconciled",
			TargetType: "case",
			TargetID:   record.CaseID,
			Metadata: map[string]any{
				"run_id":           record.ID,
				"services_changed": len(out.plan.Services),
				"case_changed":     out.plan.Case != nil,
				"case_version":     d.CaseVersion,
				"backup_location":  out.backupLocation,
			},
		})
	})
	if err != nil {
		return out, err
	}

	out.applied = true
	s.log.Info("reconciliation applied",
		zap.String("case_id", record.CaseID),
		zap.String("run_id", record.ID),
		zap.Int("services_changed", len(out.plan.Services)),
		zap.Bool("case_changed", out.plan.Case != nil),
	)
	return out, nil
}

// finish persists the record even when the caller's context is gone and
// returns the original run error alongside it.
func (s *Service) finish(ctx context.Context, record *reconciledomain.Record, runErr error) (*reconciledomain.Record, error) {
	s.metrics.IncReconcileRun(string(record.Mode), string(record.Status))

	if err := s.runs.Insert(context.WithoutCancel(ctx), s.db, record); err != nil {
		s.log.Error("persist reconciliation record failed",
			zap.String("case_id", record.CaseID),
			zap.String("run_id", record.ID),
			zap.Error(err),
		)
		return record, errors.Join(runErr, fmt.Errorf("persist reconciliation record: %w", err))
	}
	return record, runErr
}

// ReconcileMany runs each case independently. A failing case is recorded
// in the summary and the batch carries on.
func (s *Service) ReconcileMany(ctx context.Context, caseIDs []string, mode reconciledomain.Mode) (*reconciledomain.BatchSummary, error) {
	if mode != reconciledomain.ModeDryRun && mode != reconciledomain.ModeExecute {
		return nil, reconciledomain.ErrInvalidMode
	}

	if len(caseIDs) == 0 {
		ids, err := s.repo.ListCaseIDs(ctx, s.db)
		if err != nil {
			return nil, err
		}
		caseIDs = ids
	}

	summary := &reconciledomain.BatchSummary{Mode: mode, Records: []*reconciledomain.Record{}}
	for _, caseID := range caseIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		record, err := s.Reconcile(ctx, caseID, mode)
		if record != nil {
			summary.Records = append(summary.Records, record)
			if record.Skipped {
				summary.Skipped++
			}
			if record.Applied {
				summary.Changed++
			}
		}
		if err != nil {
			summary.Failed = append(summary.Failed, reconciledomain.CaseFailure{CaseID: caseID, Error: err.Error()})
			s.log.Warn("case reconciliation failed", zap.String("case_id", caseID), zap.Error(err))
		}
	}
	return summary, nil
}

func (s *Service) ListRuns(ctx context.Context, caseID string, limit int) ([]reconciledomain.Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.runs.ListByCase(ctx, s.db, strings.TrimSpace(caseID), limit)
}

func fill(record *reconciledomain.Record, d *driftdomain.CaseDrift, plan reconciledomain.Plan) {
	if d == nil {
		return
	}
	discrepancies := d.Discrepancies
	if discrepancies == nil {
		discrepancies = []driftdomain.Discrepancy{}
	}
	record.CaseVersion = d.CaseVersion
	record.Discrepancies = datatypes.NewJSONType(discrepancies)
	record.Changes = datatypes.NewJSONType(plan)
}

func isRetryable(err error) bool {
	return errors.Is(err, ledgerdomain.ErrVersionConflict) ||
		errors.Is(err, reconciledomain.ErrCaseLocked) ||
		pkgdb.IsRetryableTxErr(err)
}

func actorFromContext(ctx context.Context) string {
	actorType, actorID := obscontext.ActorFromContext(ctx)
	switch {
	case actorType == "" && actorID == "":
		return "system"
	case actorID == "":
		return actorType
	default:
		return actorType + ":" + actorID
	}
}
