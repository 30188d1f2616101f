package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/caseledger/internal/backfill/definitions"
	"github.com/smallbiznis/caseledger/internal/backfill/domain"
	"github.com/smallbiznis/caseledger/internal/backfill/service"
	"github.com/smallbiznis/caseledger/internal/config"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"github.com/smallbiznis/caseledger/internal/ledger/ledgertest"
	ledgerrepository "github.com/smallbiznis/caseledger/internal/ledger/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newRunner(db *gorm.DB, batchSize int) domain.Service {
	return service.NewService(service.Params{
		DB:     db,
		Log:    zap.NewNop(),
		Config: config.Config{Backfill: config.BackfillConfig{BatchSize: batchSize}},
		Ledger: ledgerrepository.Provide(),
	})
}

// stuckRow fails Apply for one entry, the way a row held by another writer
// would.
type stuckRow struct {
	definitions.EntryHours
	id string
}

func (d stuckRow) Apply(ctx context.Context, tx *gorm.DB, row domain.Row, marker domain.Marker) (bool, error) {
	if row.ID == d.id {
		return false, errors.New("row is locked")
	}
	return d.EntryHours.Apply(ctx, tx, row, marker)
}

// seedEntries leaves one entry with hours far off its minutes and one
// inside the one-minute tolerance.
func seedEntries(t *testing.T, db *gorm.DB) []ledgerdomain.BillableEntry {
	t.Helper()
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("s1", 60, 3))
	entries := ledgertest.SeedEntries(t, db, ledgertest.Node(t), "2025001", "s1", 60, 60, 60)
	require.NoError(t, db.Model(&ledgerdomain.BillableEntry{}).Where("id = ?", entries[0].ID).Update("hours", 2.0).Error)
	require.NoError(t, db.Model(&ledgerdomain.BillableEntry{}).Where("id = ?", entries[1].ID).Update("hours", 1.01).Error)
	return entries
}

func loadEntry(t *testing.T, db *gorm.DB, entry ledgerdomain.BillableEntry) ledgerdomain.BillableEntry {
	t.Helper()
	var out ledgerdomain.BillableEntry
	require.NoError(t, db.Where("id = ?", entry.ID).Take(&out).Error)
	return out
}

func TestEntryHoursDryRunListsChangesWithoutWriting(t *testing.T) {
	db := ledgertest.NewDB(t)
	entries := seedEntries(t, db)

	stats, err := newRunner(db, 2).Run(context.Background(), "001_fix_entry_hours", domain.OperationDryRun)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Changed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 2, stats.Batches)
	require.Len(t, stats.Records, 1)
	assert.InDelta(t, 2, stats.Records[0].Before, 1e-9)
	assert.InDelta(t, 1, stats.Records[0].After, 1e-9)

	assert.InDelta(t, 2, loadEntry(t, db, entries[0]).Hours, 1e-9)
}

func TestEntryHoursUpThenDown(t *testing.T) {
	db := ledgertest.NewDB(t)
	entries := seedEntries(t, db)
	runner := newRunner(db, 500)
	ctx := context.Background()

	stats, err := runner.Run(ctx, "001_fix_entry_hours", domain.OperationUp)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Changed)

	fixed := loadEntry(t, db, entries[0])
	assert.InDelta(t, 1, fixed.Hours, 1e-9)
	assert.True(t, fixed.Migrated)
	require.NotNil(t, fixed.MigrationName)
	assert.Equal(t, "001_fix_entry_hours", *fixed.MigrationName)
	require.NotNil(t, fixed.MigrationPreviousValue)
	assert.InDelta(t, 2, *fixed.MigrationPreviousValue, 1e-9)
	assert.False(t, loadEntry(t, db, entries[1]).Migrated)

	again, err := runner.Run(ctx, "001_fix_entry_hours", domain.OperationUp)
	require.NoError(t, err)
	assert.Zero(t, again.Changed)

	down, err := runner.Run(ctx, "001_fix_entry_hours", domain.OperationDown)
	require.NoError(t, err)
	assert.Equal(t, 1, down.Changed)
	assert.NotEmpty(t, down.Notice)

	cleared := loadEntry(t, db, entries[0])
	assert.False(t, cleared.Migrated)
	assert.Nil(t, cleared.MigrationName)
	assert.InDelta(t, 1, cleared.Hours, 1e-9)
}

func TestServiceRemainingUpRollsCaseUp(t *testing.T) {
	db := ledgertest.NewDB(t)
	broken := ledgertest.Service("s1", 60, 10)
	broken.HoursRemaining = 40
	ledgertest.SeedCase(t, db, "2025001", broken, ledgertest.Service("s2", 20, 5))

	stats, err := newRunner(db, 500).Run(context.Background(), "002_fix_service_remaining", domain.OperationUp)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Changed)

	svc := ledgertest.LoadService(t, db, "s1")
	assert.InDelta(t, 50, svc.HoursRemaining, 1e-9)
	assert.True(t, svc.Migrated)

	c := ledgertest.LoadCase(t, db, "2025001")
	assert.InDelta(t, 65, c.HoursRemaining, 1e-9)
	assert.Equal(t, int64(1), c.Version)
}

func TestRunRejectsUnknownMigration(t *testing.T) {
	db := ledgertest.NewDB(t)
	runner := newRunner(db, 0)

	_, err := runner.Run(context.Background(), "999_nope", domain.OperationUp)
	assert.ErrorIs(t, err, domain.ErrUnknownMigration)
	assert.Len(t, runner.List(), 2)
}

func TestParseOperation(t *testing.T) {
	op, err := domain.ParseOperation("dry-run")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationDryRun, op)

	_, err = domain.ParseOperation("sideways")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestEntryHoursUpCommitsEachBatchOnItsOwn(t *testing.T) {
	db := ledgertest.NewDB(t)
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("s1", 60, 4))
	entries := ledgertest.SeedEntries(t, db, ledgertest.Node(t), "2025001", "s1", 60, 60, 60, 60)
	require.NoError(t, db.Model(&ledgerdomain.BillableEntry{}).Where("case_id = ?", "2025001").Update("hours", 2.0).Error)

	runner := service.NewRunner(service.Params{
		DB:     db,
		Log:    zap.NewNop(),
		Config: config.Config{Backfill: config.BackfillConfig{BatchSize: 2}},
		Ledger: ledgerrepository.Provide(),
	}, stuckRow{id: entries[1].ID.String()})

	stats, err := runner.Run(context.Background(), "001_fix_entry_hours", domain.OperationUp)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPartialRun)

	require.NotNil(t, stats)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 2, stats.Changed)
	assert.Equal(t, 1, stats.Errors)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, 1, stats.Failures[0].Batch)
	assert.Contains(t, stats.Failures[0].Error, "row is locked")

	// the first batch rolled back as a whole, including the row that applied
	for _, entry := range entries[:2] {
		got := loadEntry(t, db, entry)
		assert.InDelta(t, 2, got.Hours, 1e-9)
		assert.False(t, got.Migrated)
	}
	for _, entry := range entries[2:] {
		got := loadEntry(t, db, entry)
		assert.InDelta(t, 1, got.Hours, 1e-9)
		assert.True(t, got.Migrated)
	}
}
