package service_test

import (
	"context"
	"sync"
	"testing"

	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	auditrepository "github.com/smallbiznis/caseledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/caseledger/internal/audit/service"
	"github.com/smallbiznis/caseledger/internal/config"
	idempotencydomain "github.com/smallbiznis/caseledger/internal/idempotency/domain"
	idempotencyrepository "github.com/smallbiznis/caseledger/internal/idempotency/repository"
	idempotencyservice "github.com/smallbiznis/caseledger/internal/idempotency/service"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"github.com/smallbiznis/caseledger/internal/ledger/ledgertest"
	ledgerrepository "github.com/smallbiznis/caseledger/internal/ledger/repository"
	"github.com/smallbiznis/caseledger/internal/timeentry/domain"
	"github.com/smallbiznis/caseledger/internal/timeentry/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T, db *gorm.DB, deriveMissingKey bool) domain.Service {
	t.Helper()
	log := zap.NewNop()
	node := ledgertest.Node(t)
	return service.NewService(service.Params{
		DB:     db,
		Log:    log,
		Config: config.Config{Idempotency: config.IdempotencyConfig{DeriveMissingKey: deriveMissingKey}},
		GenID:  node,
		Ledger: ledgerrepository.Provide(),
		Idempotency: idempotencyservice.NewService(idempotencyservice.Params{
			DB:   db,
			Log:  log,
			Repo: idempotencyrepository.Provide(),
		}),
		Audit: auditservice.NewService(auditservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Repo:  auditrepository.Provide(),
		}),
	})
}

func command(key string) domain.Command {
	return domain.Command{
		CaseID:         "2025001",
		ServiceID:      "s1",
		Minutes:        90,
		EmployeeID:     "emp-1",
		Date:           "2026-03-01",
		IdempotencyKey: key,
		Action:         "Drafted motion",
	}
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestSubmitRecordsEntryAndAggregates(t *testing.T) {
	db := ledgertest.NewDB(t)
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("s1", 60, 0), ledgertest.Service("s2", 10, 2))
	svc := newService(t, db, false)

	result, err := svc.Submit(context.Background(), command("key-1"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Replayed)
	assert.NotEmpty(t, result.EntryID)
	require.NotNil(t, result.CachedServiceUsed)
	assert.InDelta(t, 1.5, *result.CachedServiceUsed, 1e-9)

	s1 := ledgertest.LoadService(t, db, "s1")
	assert.InDelta(t, 1.5, s1.HoursUsed, 1e-9)
	assert.InDelta(t, 58.5, s1.HoursRemaining, 1e-9)

	c := ledgertest.LoadCase(t, db, "2025001")
	assert.InDelta(t, 3.5, c.HoursUsed, 1e-9)
	assert.InDelta(t, 66.5, c.HoursRemaining, 1e-9)
	assert.Equal(t, int64(1), c.Version)

	assert.Equal(t, int64(1), count(t, db, &idempotencydomain.ProcessedOperation{}))
	var audits int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).Where("action = ?", "time_entry.created").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestSubmitSameKeyReplaysStoredResult(t *testing.T) {
	db := ledgertest.NewDB(t)
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("s1", 60, 0))
	svc := newService(t, db, false)
	ctx := context.Background()

	first, err := svc.Submit(ctx, command("key-1"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := svc.Submit(ctx, command("key-1"))
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, first.EntryID, again.EntryID)
		assert.InDelta(t, *first.CachedServiceUsed, *again.CachedServiceUsed, 1e-9)
	}

	assert.Equal(t, int64(1), count(t, db, &ledgerdomain.BillableEntry{}))
	assert.InDelta(t, 1.5, ledgertest.LoadService(t, db, "s1").HoursUsed, 1e-9)
}

func TestSubmitConcurrentTwinsApplyOnce(t *testing.T) {
	db := ledgertest.NewDB(t)
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("s1", 60, 0))
	svc := newService(t, db, false)

	const twins = 8
	results := make([]*domain.Result, twins)
	errs := make([]error, twins)
	var wg sync.WaitGroup
	for i := 0; i < twins; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Submit(context.Background(), command("twin-key"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < twins; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].EntryID, results[i].EntryID)
	}
	assert.Equal(t, int64(1), count(t, db, &ledgerdomain.BillableEntry{}))
	assert.InDelta(t, 1.5, ledgertest.LoadService(t, db, "s1").HoursUsed, 1e-9)
}

func TestSubmitValidationWritesNothing(t *testing.T) {
	db := ledgertest.NewDB(t)
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("s1", 60, 0))
	ledgertest.SeedCase(t, db, "2025002", ledgertest.Service("other", 60, 0))
	svc := newService(t, db, false)

	cases := []struct {
		name  string
		mut   func(*domain.Command)
		field string
		code  string
	}{
		{"zero minutes", func(c *domain.Command) { c.Minutes = 0 }, "minutes", "gt"},
		{"bad date", func(c *domain.Command) { c.Date = "01/03/2026" }, "date", "datetime"},
		{"missing service", func(c *domain.Command) { c.ServiceID = "" }, "service_id", "required_unless"},
		{"missing employee", func(c *domain.Command) { c.EmployeeID = " " }, "employee_id", "required"},
		{"unknown service", func(c *domain.Command) { c.ServiceID = "ghost" }, "service_id", "not_found"},
		{"foreign service", func(c *domain.Command) { c.ServiceID = "other" }, "service_id", "not_in_case"},
		{"missing key", func(c *domain.Command) { c.IdempotencyKey = "" }, "idempotency_key", "required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := command("key-" + tc.name)
			tc.mut(&cmd)

			_, err := svc.Submit(context.Background(), cmd)
			require.ErrorIs(t, err, domain.ErrInvalidCommand)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, tc.code, verr.Code)
		})
	}

	assert.Zero(t, count(t, db, &ledgerdomain.BillableEntry{}))
	assert.Zero(t, count(t, db, &idempotencydomain.ProcessedOperation{}))
	assert.Equal(t, int64(0), ledgertest.LoadCase(t, db, "2025001").Version)
}

func TestSubmitDerivesMissingKeyWhenEnabled(t *testing.T) {
	db := ledgertest.NewDB(t)
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("s1", 60, 0))
	svc := newService(t, db, true)
	ctx := context.Background()

	first, err := svc.Submit(ctx, command(""))
	require.NoError(t, err)
	second, err := svc.Submit(ctx, command(""))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, int64(1), count(t, db, &ledgerdomain.BillableEntry{}))
}

func TestSubmitInternalActivityUsesEmployeeCase(t *testing.T) {
	db := ledgertest.NewDB(t)
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("s1", 60, 0))
	svc := newService(t, db, false)

	result, err := svc.Submit(context.Background(), domain.Command{
		Minutes:        45,
		EmployeeID:     "emp-7",
		Date:           "2026-03-02",
		IdempotencyKey: "internal-1",
		IsInternal:     true,
		Action:         "Team meeting",
	})
	require.NoError(t, err)
	assert.Equal(t, "internal-emp-7", result.CaseID)
	assert.Nil(t, result.CachedServiceUsed)

	internal := ledgertest.LoadCase(t, db, "internal-emp-7")
	assert.True(t, internal.IsInternal)

	var entry ledgerdomain.BillableEntry
	require.NoError(t, db.Where("case_id = ?", "internal-emp-7").Take(&entry).Error)
	assert.Nil(t, entry.ServiceID)
	assert.True(t, entry.IsInternal)
	assert.InDelta(t, 0.75, entry.Hours, 1e-9)

	assert.Zero(t, ledgertest.LoadService(t, db, "s1").HoursUsed)
}

func TestSubmitInternalRejectsService(t *testing.T) {
	db := ledgertest.NewDB(t)
	svc := newService(t, db, false)

	_, err := svc.Submit(context.Background(), domain.Command{
		ServiceID:      "s1",
		Minutes:        30,
		EmployeeID:     "emp-7",
		Date:           "2026-03-02",
		IdempotencyKey: "internal-2",
		IsInternal:     true,
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "excluded_if", verr.Code)
}
