package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ServiceKind distinguishes prepaid hour packages from procedural stages.
type ServiceKind string

const (
	ServiceKindHoursPackage   ServiceKind = "hours_package"
	ServiceKindLegalProcedure ServiceKind = "legal_procedure"
)

// InternalCasePrefix prefixes the per-employee case that collects
// non-billable internal activity.
const InternalCasePrefix = "internal-"

// MigrationMarker is the audit trail a backfill leaves on a corrected row.
// Clearing it does not restore the corrected value.
type MigrationMarker struct {
	Migrated               bool       `gorm:"column:migrated;not null;default:false" json:"migrated"`
	MigrationVersion       *int       `gorm:"column:migration_version" json:"migration_version,omitempty"`
	MigrationName          *string    `gorm:"column:migration_name;type:text" json:"migration_name,omitempty"`
	MigratedAt             *time.Time `gorm:"column:migrated_at" json:"migrated_at,omitempty"`
	MigrationPreviousValue *float64   `gorm:"column:migration_previous_value" json:"migration_previous_value,omitempty"`
}

// Case is the root aggregate. Its hour totals are caches over its services.
type Case struct {
	ID             string    `gorm:"primaryKey;type:text" json:"id"`
	Name           string    `gorm:"type:text;not null" json:"name"`
	IsInternal     bool      `gorm:"not null;default:false" json:"is_internal"`
	TotalHours     float64   `gorm:"not null;default:0" json:"total_hours"`
	HoursUsed      float64   `gorm:"not null;default:0" json:"hours_used"`
	HoursRemaining float64   `gorm:"not null;default:0" json:"hours_remaining"`
	Version        int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Case) TableName() string { return "cases" }

// CaseService is a billing unit nested under a case. HoursUsed is a
// materialized view over the billable entries that reference it.
type CaseService struct {
	ID             string      `gorm:"primaryKey;type:text" json:"id"`
	CaseID         string      `gorm:"type:text;not null;index" json:"case_id"`
	Position       int         `gorm:"not null;default:0" json:"position"`
	Name           string      `gorm:"type:text;not null" json:"name"`
	Kind           ServiceKind `gorm:"type:text;not null" json:"kind"`
	HoursBudget    float64     `gorm:"not null;default:0" json:"hours_budget"`
	HoursUsed      float64     `gorm:"not null;default:0" json:"hours_used"`
	HoursRemaining float64     `gorm:"not null;default:0" json:"hours_remaining"`
	MigrationMarker
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CaseService) TableName() string { return "case_services" }

// BillableEntry is one recorded unit of time. Minutes is the source of
// truth; Hours is a denormalized copy kept for reporting.
type BillableEntry struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	CaseID         string       `gorm:"type:text;not null;index" json:"case_id"`
	ServiceID      *string      `gorm:"type:text;index" json:"service_id,omitempty"`
	EmployeeID     string       `gorm:"type:text;not null;index" json:"employee_id"`
	TaskID         *string      `gorm:"type:text" json:"task_id,omitempty"`
	WorkDate       string       `gorm:"type:text;not null" json:"work_date"`
	Minutes        int          `gorm:"not null" json:"minutes"`
	Hours          float64      `gorm:"not null" json:"hours"`
	Action         string       `gorm:"type:text" json:"action,omitempty"`
	IsInternal     bool         `gorm:"not null;default:false" json:"is_internal"`
	IdempotencyKey *string      `gorm:"type:text;uniqueIndex:ux_billable_entries_idempotency_key" json:"idempotency_key,omitempty"`
	RecordedAt     time.Time    `gorm:"not null" json:"recorded_at"`
	MigrationMarker
}

// TableName sets the database table name.
func (BillableEntry) TableName() string { return "billable_entries" }

// ServiceMinutes is the ledger side of a service's cached usage.
type ServiceMinutes struct {
	ServiceID string
	Minutes   int64
	Entries   int64
}

// EntryTotals groups a case's entry minutes by service.
type EntryTotals struct {
	ByService         map[string]ServiceMinutes
	UnassignedEntries int64
	UnassignedMinutes int64
}
