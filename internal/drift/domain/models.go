package domain

import (
	"context"
	"errors"

	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"gorm.io/gorm"
)

// Kind classifies a discrepancy. Discrepancies are data, never errors.
type Kind string

const (
	// KindDrift is a cached service usage that diverged from its entries
	// by more than the tolerance.
	KindDrift Kind = "drift"
	// KindManualReview marks cached usage with no entries behind it. It
	// usually means the entries were re-pointed to another service id, so
	// it is reported and never corrected automatically.
	KindManualReview Kind = "manual_review_required"
	// KindRemainingMismatch breaks remaining == budget - used.
	KindRemainingMismatch Kind = "remaining_mismatch"
	// KindRollupMismatch is a case total that is not the sum of its services.
	KindRollupMismatch Kind = "rollup_mismatch"
)

// Correctable reports whether reconciliation may write a fix for the kind.
func (k Kind) Correctable() bool {
	switch k {
	case KindDrift, KindRemainingMismatch, KindRollupMismatch:
		return true
	default:
		return false
	}
}

const (
	FieldHoursUsed      = "hours_used"
	FieldHoursRemaining = "hours_remaining"
	FieldTotalHours     = "total_hours"
)

type Discrepancy struct {
	CaseID          string  `json:"case_id"`
	ServiceID       string  `json:"service_id,omitempty"`
	ServiceName     string  `json:"service_name,omitempty"`
	Kind            Kind    `json:"kind"`
	Field           string  `json:"field"`
	CachedValue     float64 `json:"cached_value"`
	RecomputedValue float64 `json:"recomputed_value"`
	Gap             float64 `json:"gap"`
}

// ServiceState is one service as seen by the detector.
type ServiceState struct {
	ServiceID      string  `json:"service_id"`
	Name           string  `json:"name"`
	HoursBudget    float64 `json:"hours_budget"`
	HoursUsed      float64 `json:"hours_used"`
	HoursRemaining float64 `json:"hours_remaining"`
	EntryMinutes   int64   `json:"entry_minutes"`
	EntryCount     int64   `json:"entry_count"`
	RecomputedUsed float64 `json:"recomputed_used"`
}

// CaseDrift is the read-only analysis of one case.
type CaseDrift struct {
	CaseID            string                     `json:"case_id"`
	CaseName          string                     `json:"case_name"`
	CaseVersion       int64                      `json:"case_version"`
	CachedTotals      ledgerdomain.CaseTotals    `json:"cached_totals"`
	Services          []ServiceState             `json:"services"`
	Discrepancies     []Discrepancy              `json:"discrepancies"`
	UnassignedEntries int64                      `json:"unassigned_entries"`
	UnassignedMinutes int64                      `json:"unassigned_minutes"`
	OrphanedEntries   int64                      `json:"orphaned_entries"`
	OrphanedMinutes   int64                      `json:"orphaned_minutes"`
	OrphanedServices  []string                   `json:"orphaned_service_ids,omitempty"`
	Source            []ledgerdomain.CaseService `json:"-"`
}

// Clean reports whether no discrepancy of any kind was found.
func (d *CaseDrift) Clean() bool {
	return d == nil || len(d.Discrepancies) == 0
}

// Correctable returns the discrepancies reconciliation may fix.
func (d *CaseDrift) Correctable() []Discrepancy {
	if d == nil {
		return nil
	}
	out := make([]Discrepancy, 0, len(d.Discrepancies))
	for _, item := range d.Discrepancies {
		if item.Kind.Correctable() {
			out = append(out, item)
		}
	}
	return out
}

// ManualReviewServices returns the service ids excluded from correction.
func (d *CaseDrift) ManualReviewServices() map[string]struct{} {
	out := map[string]struct{}{}
	if d == nil {
		return out
	}
	for _, item := range d.Discrepancies {
		if item.Kind == KindManualReview && item.ServiceID != "" {
			out[item.ServiceID] = struct{}{}
		}
	}
	return out
}

// CountByKind tallies discrepancies per kind.
func CountByKind(items []Discrepancy) map[Kind]int {
	out := map[Kind]int{}
	for _, item := range items {
		out[item.Kind]++
	}
	return out
}

type Service interface {
	DetectDrift(ctx context.Context, caseID string) (*CaseDrift, error)
	// DetectDriftTx runs the detector inside the caller's transaction.
	DetectDriftTx(ctx context.Context, tx *gorm.DB, caseID string) (*CaseDrift, error)
}

var ErrInvalidCaseID = errors.New("invalid_case_id")

// Status is the outcome of a reconciliation run or an invariant audit.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR"
)
