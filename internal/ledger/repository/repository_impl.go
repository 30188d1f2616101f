package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/caseledger/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) GetCase(ctx context.Context, db *gorm.DB, caseID string) (*domain.Case, error) {
	var c domain.Case
	err := db.WithContext(ctx).Where("id = ?", caseID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LockCase takes a row lock on postgres and mysql. sqlite drops the locking
// clause and relies on its single writer.
func (r *repo) LockCase(ctx context.Context, db *gorm.DB, caseID string) (*domain.Case, error) {
	var c domain.Case
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", caseID).
		Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repo) ListCaseIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Case{}).
		Order("id asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListServices(ctx context.Context, db *gorm.DB, caseID string) ([]domain.CaseService, error) {
	var services []domain.CaseService
	err := db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("position asc, id asc").
		Find(&services).Error
	if err != nil {
		return nil, err
	}
	return services, nil
}

func (r *repo) GetService(ctx context.Context, db *gorm.DB, serviceID string) (*domain.CaseService, error) {
	var svc domain.CaseService
	err := db.WithContext(ctx).Where("id = ?", serviceID).Take(&svc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrServiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (r *repo) ListEntriesByCase(ctx context.Context, db *gorm.DB, caseID string) ([]domain.BillableEntry, error) {
	var entries []domain.BillableEntry
	err := db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("recorded_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

type minutesRow struct {
	ServiceID *string
	Minutes   int64
	Entries   int64
}

func (r *repo) SumMinutesByService(ctx context.Context, db *gorm.DB, caseID string) (domain.EntryTotals, error) {
	var rows []minutesRow
	err := db.WithContext(ctx).Raw(
		`SELECT service_id, COALESCE(SUM(minutes), 0) AS minutes, COUNT(*) AS entries
		 FROM billable_entries
		 WHERE case_id = ?
		 GROUP BY service_id`,
		caseID,
	).Scan(&rows).Error
	if err != nil {
		return domain.EntryTotals{}, err
	}

	totals := domain.EntryTotals{ByService: make(map[string]domain.ServiceMinutes, len(rows))}
	for _, row := range rows {
		if row.ServiceID == nil || strings.TrimSpace(*row.ServiceID) == "" {
			totals.UnassignedEntries += row.Entries
			totals.UnassignedMinutes += row.Minutes
			continue
		}
		id := strings.TrimSpace(*row.ServiceID)
		current := totals.ByService[id]
		current.ServiceID = id
		current.Minutes += row.Minutes
		current.Entries += row.Entries
		totals.ByService[id] = current
	}
	return totals, nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.BillableEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billable_entries (
			id, case_id, service_id, employee_id, task_id, work_date, minutes, hours,
			action, is_internal, idempotency_key, recorded_at, migrated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.CaseID,
		entry.ServiceID,
		entry.EmployeeID,
		entry.TaskID,
		entry.WorkDate,
		entry.Minutes,
		entry.Hours,
		entry.Action,
		entry.IsInternal,
		entry.IdempotencyKey,
		entry.RecordedAt,
		false,
	).Error
}

func (r *repo) ApplyServiceUsage(ctx context.Context, db *gorm.DB, serviceID string, deltaHours float64) (*domain.CaseService, error) {
	svc, err := r.GetService(ctx, db, serviceID)
	if err != nil {
		return nil, err
	}
	used := svc.HoursUsed + deltaHours
	remaining := domain.RemainingFor(svc.HoursBudget, used)
	if err := r.UpdateServiceTotals(ctx, db, serviceID, used, remaining); err != nil {
		return nil, err
	}
	svc.HoursUsed = used
	svc.HoursRemaining = remaining
	return svc, nil
}

func (r *repo) UpdateServiceTotals(ctx context.Context, db *gorm.DB, serviceID string, used, remaining float64) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE case_services SET hours_used = ?, hours_remaining = ?, updated_at = ? WHERE id = ?`,
		used,
		remaining,
		time.Now().UTC(),
		serviceID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrServiceNotFound
	}
	return nil
}

// RollupCase recomputes the case totals from its services and bumps the
// version. It fails with ErrVersionConflict when another writer moved the
// version since expectedVersion was read.
func (r *repo) RollupCase(ctx context.Context, db *gorm.DB, caseID string, expectedVersion int64) (*domain.Case, error) {
	services, err := r.ListServices(ctx, db, caseID)
	if err != nil {
		return nil, err
	}
	totals := domain.Rollup(services)

	now := time.Now().UTC()
	result := db.WithContext(ctx).Exec(
		`UPDATE cases
		 SET total_hours = ?, hours_used = ?, hours_remaining = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		totals.TotalHours,
		totals.HoursUsed,
		totals.HoursRemaining,
		now,
		caseID,
		expectedVersion,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetCase(ctx, db, caseID); err != nil {
			return nil, err
		}
		return nil, domain.ErrVersionConflict
	}

	return r.GetCase(ctx, db, caseID)
}

func (r *repo) EnsureInternalCase(ctx context.Context, db *gorm.DB, employeeID string) (*domain.Case, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return nil, domain.ErrInvalidEmployeeID
	}

	now := time.Now().UTC()
	c := domain.Case{
		ID:         domain.InternalCasePrefix + employeeID,
		Name:       "Internal activity " + employeeID,
		IsInternal: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&c).Error; err != nil {
		return nil, err
	}
	return r.GetCase(ctx, db, c.ID)
}
