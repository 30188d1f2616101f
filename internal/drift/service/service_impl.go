package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/caseledger/internal/config"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    ledgerdomain.Repository
	Policy  *config.ConsistencyPolicyHolder `optional:"true"`
	Metrics *obsmetrics.ConsistencyMetrics  `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    ledgerdomain.Repository
	policy  *config.ConsistencyPolicyHolder
	metrics *obsmetrics.ConsistencyMetrics
}

func NewService(p Params) driftdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("drift.service"),
		repo:    p.Repo,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

// DetectDrift reads the case, its services and the entry sums inside one
// transaction so the comparison is made against a single snapshot.
func (s *Service) DetectDrift(ctx context.Context, caseID string) (*driftdomain.CaseDrift, error) {
	var out *driftdomain.CaseDrift
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, err := s.DetectDriftTx(ctx, tx, caseID)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	for kind, count := range driftdomain.CountByKind(out.Discrepancies) {
		s.metrics.AddDiscrepancies(string(kind), count)
	}
	if !out.Clean() {
		s.log.Info("drift detected",
			zap.String("case_id", out.CaseID),
			zap.Int("discrepancies", len(out.Discrepancies)),
			zap.Int64("unassigned_entries", out.UnassignedEntries),
			zap.Int64("orphaned_entries", out.OrphanedEntries),
		)
	}
	return out, nil
}

func (s *Service) DetectDriftTx(ctx context.Context, tx *gorm.DB, caseID string) (*driftdomain.CaseDrift, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, driftdomain.ErrInvalidCaseID
	}

	c, err := s.repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	services, err := s.repo.ListServices(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.SumMinutesByService(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}

	return driftdomain.Analyze(*c, services, totals, s.policy.Get().ToleranceHours), nil
}
