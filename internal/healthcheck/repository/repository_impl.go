package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, report *domain.InvariantReport) error {
	return db.WithContext(ctx).Create(report).Error
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB) (*domain.InvariantReport, error) {
	var report domain.InvariantReport
	err := db.WithContext(ctx).
		Where("type = ?", domain.TypeInvariantCheck).
		Order("started_at desc, id desc").
		Take(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, limit int) ([]domain.InvariantReport, error) {
	var reports []domain.InvariantReport
	err := db.WithContext(ctx).
		Where("type = ?", domain.TypeInvariantCheck).
		Order("started_at desc, id desc").
		Limit(limit).
		Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}
