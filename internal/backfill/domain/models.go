package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Operation string

const (
	OperationDryRun Operation = "dry_run"
	OperationUp     Operation = "up"
	OperationDown   Operation = "down"
)

func ParseOperation(value string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dry-run", "dry_run", "dryrun":
		return OperationDryRun, nil
	case "up":
		return OperationUp, nil
	case "down":
		return OperationDown, nil
	default:
		return "", ErrInvalidOperation
	}
}

// MaxBatchSize bounds a single transaction.
const MaxBatchSize = 500

// Row is one scanned record with its current and corrected value. Guard
// carries whatever the definition needs to refuse a stale write.
type Row struct {
	ID      string
	Scope   string
	Before  float64
	After   float64
	Guard   []any
	Changed bool
}

// Marker stamps a corrected row.
type Marker struct {
	Version int
	Name    string
	At      time.Time
}

// Definition is one registered historical correction.
type Definition interface {
	ID() string
	Version() int
	Description() string
	Field() string
	// Scan returns up to limit rows ordered by id strictly after cursor.
	Scan(ctx context.Context, db *gorm.DB, cursor string, limit int) ([]Row, error)
	// Apply writes the correction and marker. It reports false when the
	// guard no longer matches.
	Apply(ctx context.Context, tx *gorm.DB, row Row, marker Marker) (bool, error)
	// ScanMarked returns ids stamped by this definition after cursor.
	ScanMarked(ctx context.Context, db *gorm.DB, cursor string, limit int) ([]string, error)
	ClearMarkers(ctx context.Context, tx *gorm.DB, ids []string) (int64, error)
}

// RecordChange is a per-record before/after line of a dry run.
type RecordChange struct {
	ID     string  `json:"id"`
	Scope  string  `json:"scope,omitempty"`
	Field  string  `json:"field"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// BatchFailure is one batch that rolled back.
type BatchFailure struct {
	Batch  int    `json:"batch"`
	Cursor string `json:"cursor"`
	Error  string `json:"error"`
}

type Stats struct {
	MigrationID string         `json:"migration_id"`
	Operation   Operation      `json:"operation"`
	Total       int            `json:"total"`
	Changed     int            `json:"changed"`
	Skipped     int            `json:"skipped"`
	Batches     int            `json:"batches"`
	Errors      int            `json:"errors"`
	Duration    time.Duration  `json:"duration"`
	Records     []RecordChange `json:"records,omitempty"`
	Failures    []BatchFailure `json:"failures,omitempty"`
	Notice      string         `json:"notice,omitempty"`
}

// Info describes a registered definition.
type Info struct {
	ID          string `json:"id"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

type Service interface {
	List() []Info
	Run(ctx context.Context, migrationID string, op Operation) (*Stats, error)
}

var (
	ErrUnknownMigration = errors.New("unknown_migration")
	ErrInvalidOperation = errors.New("invalid_backfill_operation")
	ErrPartialRun       = errors.New("backfill_partial_run")
)

// PartialRunError reports batches that failed while the rest committed.
type PartialRunError struct {
	Failures []BatchFailure
}

func (e *PartialRunError) Error() string {
	return fmt.Sprintf("%d backfill batches failed", len(e.Failures))
}

func (e *PartialRunError) Unwrap() error { return ErrPartialRun }
