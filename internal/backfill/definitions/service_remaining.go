package definitions

import (
	"context"

	"github.com/smallbiznis/caseledger/internal/backfill/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"gorm.io/gorm"
)

// ServiceRemaining re-derives case_services.hours_remaining from budget and
// used, then rolls the owning case up so the case totals stay consistent.
type ServiceRemaining struct {
	Ledger ledgerdomain.Repository
}

func (ServiceRemaining) ID() string    { return "002_fix_service_remaining" }
func (ServiceRemaining) Version() int  { return 2 }
func (ServiceRemaining) Field() string { return "hours_remaining" }
func (ServiceRemaining) Description() string {
	return "Recompute case_services.hours_remaining as hours_budget - hours_used"
}

func (d ServiceRemaining) Scan(ctx context.Context, db *gorm.DB, cursor string, limit int) ([]domain.Row, error) {
	var services []ledgerdomain.CaseService
	err := db.WithContext(ctx).
		Where("id > ?", cursor).
		Order("id asc").
		Limit(limit).
		Find(&services).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Row, 0, len(services))
	for _, svc := range services {
		want := ledgerdomain.RemainingFor(svc.HoursBudget, svc.HoursUsed)
		out = append(out, domain.Row{
			ID:      svc.ID,
			Scope:   svc.CaseID,
			Before:  svc.HoursRemaining,
			After:   want,
			Guard:   []any{svc.HoursBudget, svc.HoursUsed},
			Changed: !ledgerdomain.SameHours(svc.HoursRemaining, want),
		})
	}
	return out, nil
}

func (d ServiceRemaining) Apply(ctx context.Context, tx *gorm.DB, row domain.Row, marker domain.Marker) (bool, error) {
	c, err := d.Ledger.LockCase(ctx, tx, row.Scope)
	if err != nil {
		return false, err
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE case_services
		 SET hours_remaining = ?, migrated = ?, migration_version = ?, migration_name = ?, migrated_at = ?, migration_previous_value = ?
		 WHERE id = ? AND hours_budget = ? AND hours_used = ?`,
		row.After,
		true,
		marker.Version,
		marker.Name,
		marker.At,
		row.Before,
		row.ID,
		row.Guard[0],
		row.Guard[1],
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	if _, err := d.Ledger.RollupCase(ctx, tx, c.ID, c.Version); err != nil {
		return false, err
	}
	return true, nil
}

func (d ServiceRemaining) ScanMarked(ctx context.Context, db *gorm.DB, cursor string, limit int) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&ledgerdomain.CaseService{}).
		Where("id > ? AND migrated = ? AND migration_name = ?", cursor, true, d.ID()).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (d ServiceRemaining) ClearMarkers(ctx context.Context, tx *gorm.DB, ids []string) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE case_services
		 SET migrated = ?, migration_version = NULL, migration_name = NULL, migrated_at = NULL, migration_previous_value = NULL
		 WHERE id IN ? AND migration_name = ?`,
		false,
		ids,
		d.ID(),
	)
	return result.RowsAffected, result.Error
}
