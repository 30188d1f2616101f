package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/audit/repository"
	"github.com/smallbiznis/caseledger/internal/ledger/ledgertest"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	"github.com/smallbiznis/caseledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) auditdomain.Service {
	t.Helper()
	db := ledgertest.NewDB(t)
	return NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: ledgertest.Node(t),
		Repo:  repository.Provide(),
	})
}

func TestRecordResolvesActorAndCaseFromContext(t *testing.T) {
	svc := newTestService(t)

	ctx := obscontext.WithActor(context.Background(), string(auditdomain.ActorTypeEmployee), "emp-7")
	ctx = obscontext.WithCaseID(ctx, "2025001")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	require.NoError(t, svc.Record(ctx, auditdomain.Event{
		Action:     "time_entry.create",
		TargetType: "case",
		Metadata: map[string]any{
			"minutes":       30,
			"backup_secret": "sk_live_abcdef123456",
		},
	}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Action: "time_entry.create"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "employee", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "emp-7", *entry.ActorID)
	require.NotNil(t, entry.RequestID)
	assert.Equal(t, "req-1", *entry.RequestID)
	assert.Equal(t, "2025001", entry.Metadata["case_id"])

	secret, ok := entry.Metadata["backup_secret"].(string)
	require.True(t, ok)
	assert.NotEqual(t, "sk_live_abcdef123456", secret)
	assert.Contains(t, secret, "****")
	assert.False(t, resp.PageInfo.HasMore)
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Event{Action: "invariant_audit.run"}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "system", resp.AuditLogs[0].ActorType)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc := newTestService(t)
	err := svc.Record(context.Background(), auditdomain.Event{ActorType: auditdomain.ActorTypeCLI, Action: "  ", TargetType: "case"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	caseB := "2025002"
	for _, ev := range []auditdomain.Event{
		{ActorType: auditdomain.ActorTypeOperator, Action: "reconcile.execute", TargetType: "case", TargetID: "2025001"},
		{ActorType: auditdomain.ActorTypeOperator, Action: "reconcile.execute", TargetType: "case", TargetID: caseB},
		{ActorType: auditdomain.ActorTypeCLI, Action: "backfill.up", TargetType: "migration"},
	} {
		require.NoError(t, svc.Record(ctx, ev))
	}

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TargetType: "case", TargetID: caseB})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, caseB, *resp.AuditLogs[0].TargetID)

	resp, err = svc.List(ctx, auditdomain.ListAuditLogRequest{ActorType: "cli"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "backfill.up", resp.AuditLogs[0].Action)
}

func TestListRejectsBadInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "not-a-token"},
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, action := range []string{"backfill.up", "backfill.down", "reconcile.execute"} {
		require.NoError(t, svc.Record(ctx, auditdomain.Event{Action: action, TargetType: "case"}))
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.Equal(t, "reconcile.execute", first.AuditLogs[0].Action)
	assert.True(t, first.PageInfo.HasMore)
	require.NotEmpty(t, first.PageInfo.NextPageToken)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, "backfill.up", second.AuditLogs[0].Action)
	assert.False(t, second.PageInfo.HasMore)
}
