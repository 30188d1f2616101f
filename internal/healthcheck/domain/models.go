package domain

import (
	"context"
	"time"

	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const TypeInvariantCheck = "invariant_check"

// CaseError is a case that could not be audited after all retries. It is
// reported and never aborts the sweep.
type CaseError struct {
	CaseID   string `json:"case_id"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// InvariantReport is the one document written per audit run.
type InvariantReport struct {
	ID                 string                                        `gorm:"primaryKey;type:text" json:"id"`
	Type               string                                        `gorm:"type:text;not null;index" json:"type"`
	Status             driftdomain.Status                            `gorm:"type:text;not null" json:"status"`
	TriggeredBy        string                                        `gorm:"type:text" json:"triggered_by,omitempty"`
	CasesChecked       int                                           `gorm:"not null;default:0" json:"cases_checked"`
	CasesSkipped       int                                           `gorm:"not null;default:0" json:"cases_skipped"`
	DiscrepanciesCount int                                           `gorm:"not null;default:0" json:"discrepancies_count"`
	ManualReviewCount  int                                           `gorm:"not null;default:0" json:"manual_review_count"`
	UnassignedEntries  int64                                         `gorm:"not null;default:0" json:"unassigned_entries"`
	OrphanedEntries    int64                                         `gorm:"not null;default:0" json:"orphaned_entries"`
	Discrepancies      datatypes.JSONType[[]driftdomain.Discrepancy] `json:"discrepancies"`
	CaseErrors         datatypes.JSONType[[]CaseError]               `json:"case_errors"`
	Message            string                                        `gorm:"type:text" json:"message,omitempty"`
	StartedAt          time.Time                                     `gorm:"not null;index" json:"started_at"`
	FinishedAt         time.Time                                     `gorm:"not null" json:"finished_at"`
	DurationMillis     int64                                         `gorm:"not null;default:0" json:"duration_ms"`
}

// TableName sets the database table name.
func (InvariantReport) TableName() string { return "system_health_checks" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, report *InvariantReport) error
	Latest(ctx context.Context, db *gorm.DB) (*InvariantReport, error)
	List(ctx context.Context, db *gorm.DB, limit int) ([]InvariantReport, error)
}

type Service interface {
	// Run sweeps every case once and persists exactly one report.
	Run(ctx context.Context, trigger string) (*InvariantReport, error)
	Latest(ctx context.Context) (*InvariantReport, error)
	List(ctx context.Context, limit int) ([]InvariantReport, error)
}
