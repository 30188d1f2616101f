package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, operator Operator, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	role, err := normalizeRole(operator.Role)
	if err != nil {
		s.auditDecision(ctx, "authorization.denied", operator, object, action)
		return err
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("operator denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDecision(ctx, "authorization.denied", operator, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditDecision(ctx, "authorization.granted", operator, object, action)
	}
	return nil
}

func normalizeRole(role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "":
		return "", ErrInvalidActor
	case RoleViewer, RoleOperator, RoleAdmin:
		return role, nil
	default:
		return "", ErrInvalidRole
	}
}

func roleSubject(role string) string {
	return fmt.Sprintf("role:%s", role)
}

func (s *ServiceImpl) auditDecision(ctx context.Context, auditAction string, operator Operator, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Event{
		ActorType:  auditdomain.ActorTypeOperator,
		ActorID:    operator.ID,
		Action:     auditAction,
		TargetType: "capability",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   strings.TrimSpace(operator.Role),
		},
	}); err != nil {
		s.log.Warn("audit authorization decision failed", zap.Error(err))
	}
}

// Grants are only audited for actions that write business data.
func shouldAuditGrant(action string) bool {
	switch action {
	case ActionReconcileExecute, ActionBackfillUp, ActionBackfillDown:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Viewer permissions (read-only)
		{"role:viewer", ObjectCase, ActionCaseView},
		{"role:viewer", ObjectDrift, ActionDriftView},
		{"role:viewer", ObjectReconcile, ActionReconcileView},
		{"role:viewer", ObjectHealthCheck, ActionHealthCheckView},
		{"role:viewer", ObjectBackfill, ActionBackfillView},

		// Operator permissions
		{"role:operator", ObjectReconcile, ActionReconcileDryRun},
		{"role:operator", ObjectReconcile, ActionReconcileExecute},
		{"role:operator", ObjectHealthCheck, ActionHealthCheckRun},
		{"role:operator", ObjectBackfill, ActionBackfillDryRun},

		// Admin permissions
		{"role:admin", ObjectBackfill, ActionBackfillUp},
		{"role:admin", ObjectBackfill, ActionBackfillDown},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	inheritance := [][]string{
		{"role:operator", "role:viewer"},
		{"role:admin", "role:operator"},
	}
	for _, rule := range inheritance {
		if _, err := enforcer.AddGroupingPolicy(rule); err != nil {
			return err
		}
	}
	return nil
}
