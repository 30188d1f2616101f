// Package ledgertest builds migrated in-memory databases and seed data for
// package tests.
package ledgertest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"github.com/smallbiznis/caseledger/internal/migration"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database named after the test and
// migrates every model. A single connection serialises writers the way a
// row lock would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Service builds a service whose remaining already satisfies the identity.
func Service(id string, budget, used float64) ledgerdomain.CaseService {
	return ledgerdomain.CaseService{
		ID:             id,
		Name:           "Service " + id,
		Kind:           ledgerdomain.ServiceKindHoursPackage,
		HoursBudget:    budget,
		HoursUsed:      used,
		HoursRemaining: budget - used,
	}
}

// SeedCase inserts a case with the given services and rolls the case
// totals up from them.
func SeedCase(t testing.TB, db *gorm.DB, caseID string, services ...ledgerdomain.CaseService) ledgerdomain.Case {
	t.Helper()

	for i := range services {
		services[i].CaseID = caseID
		services[i].Position = i
	}
	totals := ledgerdomain.Rollup(services)
	c := ledgerdomain.Case{
		ID:             caseID,
		Name:           "Case " + caseID,
		TotalHours:     totals.TotalHours,
		HoursUsed:      totals.HoursUsed,
		HoursRemaining: totals.HoursRemaining,
	}
	require.NoError(t, db.Create(&c).Error)
	for i := range services {
		require.NoError(t, db.Create(&services[i]).Error)
	}
	return c
}

// SeedEntries inserts one entry per minutes value against serviceID. An
// empty serviceID seeds unassigned entries.
func SeedEntries(t testing.TB, db *gorm.DB, node *snowflake.Node, caseID, serviceID string, minutes ...int) []ledgerdomain.BillableEntry {
	t.Helper()

	out := make([]ledgerdomain.BillableEntry, 0, len(minutes))
	for _, m := range minutes {
		entry := ledgerdomain.BillableEntry{
			ID:         node.Generate(),
			CaseID:     caseID,
			EmployeeID: "emp-1",
			WorkDate:   "2026-03-01",
			Minutes:    m,
			Hours:      float64(m) / 60,
			RecordedAt: time.Now().UTC(),
		}
		if serviceID != "" {
			sid := serviceID
			entry.ServiceID = &sid
		}
		require.NoError(t, db.Create(&entry).Error)
		out = append(out, entry)
	}
	return out
}

// LoadService reads a service back for assertions.
func LoadService(t testing.TB, db *gorm.DB, serviceID string) ledgerdomain.CaseService {
	t.Helper()
	var svc ledgerdomain.CaseService
	require.NoError(t, db.Where("id = ?", serviceID).Take(&svc).Error)
	return svc
}

// LoadCase reads a case back for assertions.
func LoadCase(t testing.TB, db *gorm.DB, caseID string) ledgerdomain.Case {
	t.Helper()
	var c ledgerdomain.Case
	require.NoError(t, db.Where("id = ?", caseID).Take(&c).Error)
	return c
}
