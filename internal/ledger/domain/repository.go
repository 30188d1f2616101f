package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	GetCase(ctx context.Context, db *gorm.DB, caseID string) (*Case, error)
	LockCase(ctx context.Context, db *gorm.DB, caseID string) (*Case, error)
	ListCaseIDs(ctx context.Context, db *gorm.DB) ([]string, error)
	ListServices(ctx context.Context, db *gorm.DB, caseID string) ([]CaseService, error)
	GetService(ctx context.Context, db *gorm.DB, serviceID string) (*CaseService, error)
	ListEntriesByCase(ctx context.Context, db *gorm.DB, caseID string) ([]BillableEntry, error)
	SumMinutesByService(ctx context.Context, db *gorm.DB, caseID string) (EntryTotals, error)

	InsertEntry(ctx context.Context, db *gorm.DB, entry *BillableEntry) error
	ApplyServiceUsage(ctx context.Context, db *gorm.DB, serviceID string, deltaHours float64) (*CaseService, error)
	UpdateServiceTotals(ctx context.Context, db *gorm.DB, serviceID string, used, remaining float64) error
	RollupCase(ctx context.Context, db *gorm.DB, caseID string, expectedVersion int64) (*Case, error)
	EnsureInternalCase(ctx context.Context, db *gorm.DB, employeeID string) (*Case, error)
}
