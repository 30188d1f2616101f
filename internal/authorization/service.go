package authorization

import (
	"context"
	"errors"
)

const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

const (
	ObjectCase        = "case"
	ObjectDrift       = "drift"
	ObjectReconcile   = "reconcile"
	ObjectHealthCheck = "health_check"
	ObjectBackfill    = "backfill"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionCaseView = "case.view"

	ActionDriftView = "drift.view"

	ActionReconcileView    = "reconcile.view"
	ActionReconcileDryRun  = "reconcile.dry_run"
	ActionReconcileExecute = "reconcile.execute"

	ActionHealthCheckView = "health_check.view"
	ActionHealthCheckRun  = "health_check.run"

	ActionBackfillView   = "backfill.view"
	ActionBackfillDryRun = "backfill.dry_run"
	ActionBackfillUp     = "backfill.up"
	ActionBackfillDown   = "backfill.down"

	ActionAuditLogView = "audit_log.view"
)

// Operator is the caller as asserted by the upstream auth gateway.
type Operator struct {
	ID   string
	Role string
}

type Service interface {
	Authorize(ctx context.Context, operator Operator, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
