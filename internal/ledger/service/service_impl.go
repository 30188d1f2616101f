package service

import (
	"context"
	"strings"

	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo ledgerdomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo ledgerdomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("ledger.service"),
		repo: p.Repo,
	}
}

// GetCase reads the case and its services in one transaction so the
// cached totals and the service rows come from the same snapshot.
func (s *Service) GetCase(ctx context.Context, caseID string) (*ledgerdomain.CaseView, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, ledgerdomain.ErrInvalidCaseID
	}

	var view ledgerdomain.CaseView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.repo.GetCase(ctx, tx, caseID)
		if err != nil {
			return err
		}
		services, err := s.repo.ListServices(ctx, tx, caseID)
		if err != nil {
			return err
		}
		view.Case = *c
		view.Services = services
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}
