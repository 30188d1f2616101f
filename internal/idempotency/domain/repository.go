package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, key string) (*ProcessedOperation, error)
	Insert(ctx context.Context, db *gorm.DB, op *ProcessedOperation) error
}

type Service interface {
	// Find returns nil without error when the key was never processed.
	Find(ctx context.Context, key string) (*ProcessedOperation, error)
	// Record stores snapshot under key using the caller's transaction.
	// A concurrent twin surfaces as ErrDuplicateKey.
	Record(ctx context.Context, tx *gorm.DB, key, operation string, snapshot any) error
}
