// Package bootstrap holds the fx graph shared by every caseledger binary.
package bootstrap

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/caseledger/internal/audit"
	"github.com/smallbiznis/caseledger/internal/backfill"
	"github.com/smallbiznis/caseledger/internal/clock"
	"github.com/smallbiznis/caseledger/internal/config"
	"github.com/smallbiznis/caseledger/internal/drift"
	"github.com/smallbiznis/caseledger/internal/healthcheck"
	"github.com/smallbiznis/caseledger/internal/idempotency"
	"github.com/smallbiznis/caseledger/internal/ledger"
	"github.com/smallbiznis/caseledger/internal/lock"
	"github.com/smallbiznis/caseledger/internal/migration"
	"github.com/smallbiznis/caseledger/internal/observability"
	"github.com/smallbiznis/caseledger/internal/reconcile"
	"github.com/smallbiznis/caseledger/internal/timeentry"
	"github.com/smallbiznis/caseledger/pkg/db"
	"go.uber.org/fx"
)

// Core is the infrastructure plus every domain service. Binaries add the
// surface they serve on top.
var Core = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(RegisterSnowflake),
	db.Module,
	clock.Module,
	migration.Module,
	lock.Module,

	audit.Module,
	ledger.Module,
	idempotency.Module,
	drift.Module,
	reconcile.Module,
	healthcheck.Module,
	backfill.Module,
	timeentry.Module,
)

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
