package repository

import (
	"context"

	"github.com/smallbiznis/caseledger/internal/reconcile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Create(record).Error
}

// ListByCase returns the newest runs first. An empty caseID lists across
// all cases.
func (r *repo) ListByCase(ctx context.Context, db *gorm.DB, caseID string, limit int) ([]domain.Record, error) {
	query := db.WithContext(ctx).Model(&domain.Record{})
	if caseID != "" {
		query = query.Where("case_id = ?", caseID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []domain.Record
	if err := query.Order("created_at desc, id desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
