package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/caseledger/internal/idempotency/domain"
	pkgdb "github.com/smallbiznis/caseledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, key string) (*domain.ProcessedOperation, error) {
	var op domain.ProcessedOperation
	err := db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, op *domain.ProcessedOperation) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO processed_operations (idempotency_key, operation, result_snapshot, recorded_at)
		 VALUES (?, ?, ?, ?)`,
		op.IdempotencyKey,
		op.Operation,
		op.ResultSnapshot,
		op.RecordedAt,
	).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateKey
	}
	return err
}
