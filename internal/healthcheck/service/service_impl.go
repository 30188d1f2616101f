package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/caseledger/internal/clock"
	"github.com/smallbiznis/caseledger/internal/config"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	"github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"github.com/smallbiznis/caseledger/pkg/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Ledger  ledgerdomain.Repository
	Drift   driftdomain.Service
	Policy  *config.ConsistencyPolicyHolder `optional:"true"`
	Metrics *obsmetrics.ConsistencyMetrics  `optional:"true"`
	Clock   clock.Clock                     `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	ledger  ledgerdomain.Repository
	drift   driftdomain.Service
	policy  *config.ConsistencyPolicyHolder
	metrics *obsmetrics.ConsistencyMetrics
	clock   clock.Clock
	retry   retry.Policy
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("healthcheck.service"),
		repo:    p.Repo,
		ledger:  p.Ledger,
		drift:   p.Drift,
		policy:  p.Policy,
		metrics: p.Metrics,
		clock:   clk,
		retry:   retry.DefaultPolicy(),
	}
}

// sweep accumulates per-case results from concurrent workers.
type sweep struct {
	mu            sync.Mutex
	checked       int
	manualReview  int
	unassigned    int64
	orphaned      int64
	discrepancies []driftdomain.Discrepancy
	caseErrors    []domain.CaseError
}

func (w *sweep) pass(d *driftdomain.CaseDrift) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checked++
	w.unassigned += d.UnassignedEntries
	w.orphaned += d.OrphanedEntries
	for _, item := range d.Discrepancies {
		if item.Kind == driftdomain.KindManualReview {
			w.manualReview++
		}
	}
	w.discrepancies = append(w.discrepancies, d.Discrepancies...)
}

func (w *sweep) fail(caseID string, attempts int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.caseErrors = append(w.caseErrors, domain.CaseError{CaseID: caseID, Error: err.Error(), Attempts: attempts})
}

// Run checks every case read-only and writes exactly one report. A case
// that keeps failing is listed in the report and never stops the sweep.
func (s *Service) Run(ctx context.Context, trigger string) (*domain.InvariantReport, error) {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		trigger = "manual"
	}

	report := &domain.InvariantReport{
		ID:          ulid.Make().String(),
		Type:        domain.TypeInvariantCheck,
		TriggeredBy: trigger,
		StartedAt:   s.clock.Now(),
	}

	caseIDs, err := s.ledger.ListCaseIDs(ctx, s.db)
	if err != nil {
		report.Status = driftdomain.StatusError
		report.Message = "list cases: " + err.Error()
		return s.finish(ctx, report, &sweep{}, fmt.Errorf("%w: %w", domain.ErrSweepFailed, err))
	}

	policy := s.policy.Get()
	retryPolicy := s.retry
	if policy.RetryAttempts > 0 {
		retryPolicy.MaxAttempts = policy.RetryAttempts
	}
	limit := policy.AuditConcurrency
	if limit <= 0 {
		limit = 1
	}

	acc := &sweep{}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, caseID := range caseIDs {
		if policy.IsSkipped(caseID) {
			report.CasesSkipped++
			continue
		}
		if ctx.Err() != nil {
			break
		}

		caseID := caseID
		g.Go(func() error {
			attempts := 0
			d, err := retry.Do(ctx, retryPolicy, isRetryable, func(ctx context.Context) (*driftdomain.CaseDrift, error) {
				attempts++
				return s.drift.DetectDrift(ctx, caseID)
			})
			if err != nil {
				s.log.Warn("case check failed",
					zap.String("case_id", caseID),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				acc.fail(caseID, attempts, err)
				return nil
			}
			acc.pass(d)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		report.Status = driftdomain.StatusError
		report.Message = "sweep interrupted: " + err.Error()
		return s.finish(ctx, report, acc, fmt.Errorf("%w: %w", domain.ErrSweepFailed, err))
	}

	report.Status = driftdomain.StatusPass
	if len(acc.discrepancies) > 0 || len(acc.caseErrors) > 0 {
		report.Status = driftdomain.StatusFail
	}
	report.Message = fmt.Sprintf("%d cases checked, %d discrepancies, %d case errors",
		acc.checked, len(acc.discrepancies), len(acc.caseErrors))
	return s.finish(ctx, report, acc, nil)
}

func (s *Service) finish(ctx context.Context, report *domain.InvariantReport, acc *sweep, runErr error) (*domain.InvariantReport, error) {
	sort.SliceStable(acc.discrepancies, func(i, j int) bool {
		return acc.discrepancies[i].CaseID < acc.discrepancies[j].CaseID
	})
	sort.Slice(acc.caseErrors, func(i, j int) bool {
		return acc.caseErrors[i].CaseID < acc.caseErrors[j].CaseID
	})
	if acc.discrepancies == nil {
		acc.discrepancies = []driftdomain.Discrepancy{}
	}
	if acc.caseErrors == nil {
		acc.caseErrors = []domain.CaseError{}
	}

	report.CasesChecked = acc.checked
	report.DiscrepanciesCount = len(acc.discrepancies)
	report.ManualReviewCount = acc.manualReview
	report.UnassignedEntries = acc.unassigned
	report.OrphanedEntries = acc.orphaned
	report.Discrepancies = datatypes.NewJSONType(acc.discrepancies)
	report.CaseErrors = datatypes.NewJSONType(acc.caseErrors)
	report.FinishedAt = s.clock.Now()
	report.DurationMillis = report.FinishedAt.Sub(report.StartedAt).Milliseconds()

	s.metrics.ObserveInvariantCheck(string(report.Status), report.CasesChecked, report.DiscrepanciesCount)

	if err := s.repo.Insert(context.WithoutCancel(ctx), s.db, report); err != nil {
		s.log.Error("persist health check failed", zap.String("report_id", report.ID), zap.Error(err))
		return report, errors.Join(runErr, fmt.Errorf("persist health check: %w", err))
	}

	s.log.Info("invariant check finished",
		zap.String("report_id", report.ID),
		zap.String("status", string(report.Status)),
		zap.String("triggered_by", report.TriggeredBy),
		zap.Int("cases_checked", report.CasesChecked),
		zap.Int("cases_skipped", report.CasesSkipped),
		zap.Int("discrepancies", report.DiscrepanciesCount),
		zap.Int("case_errors", len(acc.caseErrors)),
	)
	return report, runErr
}

func (s *Service) Latest(ctx context.Context) (*domain.InvariantReport, error) {
	return s.repo.Latest(ctx, s.db)
}

func (s *Service) List(ctx context.Context, limit int) ([]domain.InvariantReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.List(ctx, s.db, limit)
}

// isRetryable gives up early on failures another attempt cannot fix.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ledgerdomain.ErrCaseNotFound), errors.Is(err, driftdomain.ErrInvalidCaseID):
		return false
	default:
		return true
	}
}
