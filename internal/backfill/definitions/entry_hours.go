// Package definitions holds the registered historical corrections.
package definitions

import (
	"context"
	"math"
	"strconv"

	"github.com/smallbiznis/caseledger/internal/backfill/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"gorm.io/gorm"
)

// entryHoursToleranceMinutes ignores rounding noise below one minute.
const entryHoursToleranceMinutes = 1.0

// EntryHours recomputes billable_entries.hours from minutes.
type EntryHours struct{}

func (EntryHours) ID() string    { return "001_fix_entry_hours" }
func (EntryHours) Version() int  { return 1 }
func (EntryHours) Field() string { return "hours" }
func (EntryHours) Description() string {
	return "Recompute billable_entries.hours as minutes/60 where they disagree by more than a minute"
}

type entryRow struct {
	ID      int64
	CaseID  string
	Minutes int
	Hours   float64
}

func (d EntryHours) Scan(ctx context.Context, db *gorm.DB, cursor string, limit int) ([]domain.Row, error) {
	after, err := parseIDCursor(cursor)
	if err != nil {
		return nil, err
	}

	var rows []entryRow
	err = db.WithContext(ctx).
		Model(&ledgerdomain.BillableEntry{}).
		Select("id, case_id, minutes, hours").
		Where("id > ?", after).
		Order("id asc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		want := ledgerdomain.MinutesToHours(int64(row.Minutes))
		out = append(out, domain.Row{
			ID:      strconv.FormatInt(row.ID, 10),
			Scope:   row.CaseID,
			Before:  row.Hours,
			After:   want,
			Guard:   []any{row.Minutes},
			Changed: math.Abs(row.Hours*60-float64(row.Minutes)) > entryHoursToleranceMinutes,
		})
	}
	return out, nil
}

func (d EntryHours) Apply(ctx context.Context, tx *gorm.DB, row domain.Row, marker domain.Marker) (bool, error) {
	id, err := strconv.ParseInt(row.ID, 10, 64)
	if err != nil {
		return false, err
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE billable_entries
		 SET hours = ?, migrated = ?, migration_version = ?, migration_name = ?, migrated_at = ?, migration_previous_value = ?
		 WHERE id = ? AND minutes = ?`,
		row.After,
		true,
		marker.Version,
		marker.Name,
		marker.At,
		row.Before,
		id,
		row.Guard[0],
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d EntryHours) ScanMarked(ctx context.Context, db *gorm.DB, cursor string, limit int) ([]string, error) {
	after, err := parseIDCursor(cursor)
	if err != nil {
		return nil, err
	}
	var ids []int64
	err = db.WithContext(ctx).
		Model(&ledgerdomain.BillableEntry{}).
		Where("id > ? AND migrated = ? AND migration_name = ?", after, true, d.ID()).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out, nil
}

func (d EntryHours) ClearMarkers(ctx context.Context, tx *gorm.DB, ids []string) (int64, error) {
	numeric := make([]int64, 0, len(ids))
	for _, id := range ids {
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, err
		}
		numeric = append(numeric, parsed)
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE billable_entries
		 SET migrated = ?, migration_version = NULL, migration_name = NULL, migrated_at = NULL, migration_previous_value = NULL
		 WHERE id IN ? AND migration_name = ?`,
		false,
		numeric,
		d.ID(),
	)
	return result.RowsAffected, result.Error
}

func parseIDCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	return strconv.ParseInt(cursor, 10, 64)
}
