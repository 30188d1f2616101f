package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Mode string

const (
	ModeDryRun  Mode = "dry_run"
	ModeExecute Mode = "execute"
)

// ParseMode accepts the wire spellings used by the HTTP and CLI surfaces.
// An empty value means dry run.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "dry_run", "dry-run", "dryrun":
		return ModeDryRun, nil
	case "execute", "exec":
		return ModeExecute, nil
	default:
		return "", ErrInvalidMode
	}
}

// ServiceChange is the old and new cached values of one corrected service.
type ServiceChange struct {
	ServiceID    string  `json:"service_id"`
	ServiceName  string  `json:"service_name"`
	OldUsed      float64 `json:"old_hours_used"`
	NewUsed      float64 `json:"new_hours_used"`
	OldRemaining float64 `json:"old_hours_remaining"`
	NewRemaining float64 `json:"new_hours_remaining"`
}

// CaseChange is the old and new roll-up of the case.
type CaseChange struct {
	Old ledgerdomain.CaseTotals `json:"old"`
	New ledgerdomain.CaseTotals `json:"new"`
}

// Plan is the full set of writes one reconciliation would make.
type Plan struct {
	Services []ServiceChange `json:"services"`
	Case     *CaseChange     `json:"case,omitempty"`
	// ManualReview lists services left untouched.
	ManualReview []string `json:"manual_review,omitempty"`
}

// Empty reports whether the plan writes nothing.
func (p Plan) Empty() bool {
	return len(p.Services) == 0 && p.Case == nil
}

// Writes counts rows the plan updates.
func (p Plan) Writes() int {
	n := len(p.Services)
	if p.Case != nil {
		n++
	}
	return n
}

// Record is the persisted audit artifact of one reconciliation run. It is
// written for dry runs too.
type Record struct {
	ID             string                                        `gorm:"primaryKey;type:text" json:"id"`
	CaseID         string                                        `gorm:"type:text;not null;index" json:"case_id"`
	Mode           Mode                                          `gorm:"type:text;not null" json:"mode"`
	Status         driftdomain.Status                            `gorm:"type:text;not null" json:"status"`
	Skipped        bool                                          `gorm:"not null;default:false" json:"skipped"`
	Applied        bool                                          `gorm:"not null;default:false" json:"applied"`
	CaseVersion    int64                                         `gorm:"not null;default:0" json:"case_version"`
	Attempts       int                                           `gorm:"not null;default:0" json:"attempts"`
	Discrepancies  datatypes.JSONType[[]driftdomain.Discrepancy] `json:"discrepancies"`
	Changes        datatypes.JSONType[Plan]                      `json:"changes"`
	BackupLocation string                                        `gorm:"type:text" json:"backup_location,omitempty"`
	BackupError    string                                        `gorm:"type:text" json:"backup_error,omitempty"`
	Error          string                                        `gorm:"type:text" json:"error,omitempty"`
	Actor          string                                        `gorm:"type:text" json:"actor,omitempty"`
	CreatedAt      time.Time                                     `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "reconciliation_runs" }

// BatchSummary is the result of reconciling many cases. A failing case is
// listed in Failed and never stops the rest.
type BatchSummary struct {
	Mode    Mode          `json:"mode"`
	Records []*Record     `json:"records"`
	Failed  []CaseFailure `json:"failed,omitempty"`
	Skipped int           `json:"skipped"`
	Changed int           `json:"changed"`
}

// CaseFailure is one isolated per-case failure inside a batch.
type CaseFailure struct {
	CaseID string `json:"case_id"`
	Error  string `json:"error"`
}

type Service interface {
	Reconcile(ctx context.Context, caseID string, mode Mode) (*Record, error)
	ReconcileMany(ctx context.Context, caseIDs []string, mode Mode) (*BatchSummary, error)
	ListRuns(ctx context.Context, caseID string, limit int) ([]Record, error)
}

var (
	ErrInvalidMode         = errors.New("invalid_reconcile_mode")
	ErrInvalidCaseID       = errors.New("invalid_case_id")
	ErrTransactionConflict = errors.New("transaction_conflict")
	ErrCaseLocked          = errors.New("case_locked")
	ErrBackupWriteFailure  = errors.New("backup_write_failure")
)

// BackupError wraps the sink error so callers can match ErrBackupWriteFailure.
type BackupError struct {
	Sink string
	Err  error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup write failed on %s sink: %v", e.Sink, e.Err)
}

func (e *BackupError) Unwrap() []error { return []error{ErrBackupWriteFailure, e.Err} }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	ListByCase(ctx context.Context, db *gorm.DB, caseID string, limit int) ([]Record, error)
}
