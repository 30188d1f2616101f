package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	healthcheckdomain "github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	idempotencydomain "github.com/smallbiznis/caseledger/internal/idempotency/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded SQL migrations on postgres.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table owned by the service.
func Models() []any {
	return []any{
		&ledgerdomain.Case{},
		&ledgerdomain.CaseService{},
		&ledgerdomain.BillableEntry{},
		&idempotencydomain.ProcessedOperation{},
		&reconciledomain.Record{},
		&healthcheckdomain.InvariantReport{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate creates the schema from the gorm models. It backs sqlite and
// mysql deployments and the test databases.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
