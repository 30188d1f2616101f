package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/audit/masking"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	obslogger "github.com/smallbiznis/caseledger/internal/observability/logger"
	"github.com/smallbiznis/caseledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, ev auditdomain.Event) error {
	return s.RecordTx(ctx, s.db, ev)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, ev auditdomain.Event) error {
	entry, err := s.buildEntry(ctx, ev)
	if err != nil {
		return err
	}
	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("audit insert failed", zap.String("action", entry.Action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) buildEntry(ctx context.Context, ev auditdomain.Event) (*auditdomain.AuditLog, error) {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return nil, auditdomain.ErrInvalidAction
	}

	actorType, actorID := ev.ActorType, strings.TrimSpace(ev.ActorID)
	if actorType == "" {
		ctxType, ctxID := obscontext.ActorFromContext(ctx)
		actorType = auditdomain.ActorType(ctxType)
		if actorID == "" {
			actorID = strings.TrimSpace(ctxID)
		}
	}
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}

	meta := masking.MaskMetadata(ev.Metadata)
	if caseID := obscontext.CaseIDFromContext(ctx); caseID != "" {
		if _, set := meta["case_id"]; !set {
			meta["case_id"] = caseID
		}
	}

	targetType := strings.TrimSpace(ev.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	return &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(actorType),
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(ev.TargetID),
		Metadata:   datatypes.JSONMap(meta),
		RequestID:  optional(obscontext.RequestIDFromContext(ctx)),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AuditCursor
	token, err := pagination.ParseToken(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}
	if token != nil {
		id, err := snowflake.ParseString(token.ID)
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id, CreatedAt: token.At}
	}

	pageSize := req.Size(50, 250)
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, pageSize, func(item *auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.String(), At: item.CreatedAt}
	})

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			logs = append(logs, *item)
		}
	}
	return auditdomain.ListAuditLogResponse{AuditLogs: logs, PageInfo: pageInfo}, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
