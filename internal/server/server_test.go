package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	auditrepository "github.com/smallbiznis/caseledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/caseledger/internal/audit/service"
	"github.com/smallbiznis/caseledger/internal/authorization"
	backfilldomain "github.com/smallbiznis/caseledger/internal/backfill/domain"
	"github.com/smallbiznis/caseledger/internal/config"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	healthcheckdomain "github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	"github.com/smallbiznis/caseledger/internal/ledger/ledgertest"
	ledgerrepository "github.com/smallbiznis/caseledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/caseledger/internal/ledger/service"
	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	timeentrydomain "github.com/smallbiznis/caseledger/internal/timeentry/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeDrift struct{}

func (fakeDrift) DetectDrift(_ context.Context, caseID string) (*driftdomain.CaseDrift, error) {
	return &driftdomain.CaseDrift{CaseID: caseID}, nil
}

func (fakeDrift) DetectDriftTx(ctx context.Context, _ *gorm.DB, caseID string) (*driftdomain.CaseDrift, error) {
	return fakeDrift{}.DetectDrift(ctx, caseID)
}

type fakeReconcile struct {
	calls []reconciledomain.Mode
	err   error
}

func (f *fakeReconcile) Reconcile(_ context.Context, caseID string, mode reconciledomain.Mode) (*reconciledomain.Record, error) {
	f.calls = append(f.calls, mode)
	if f.err != nil {
		return nil, f.err
	}
	return &reconciledomain.Record{ID: "run-1", CaseID: caseID, Mode: mode, Status: driftdomain.StatusPass}, nil
}

func (f *fakeReconcile) ReconcileMany(context.Context, []string, reconciledomain.Mode) (*reconciledomain.BatchSummary, error) {
	return &reconciledomain.BatchSummary{}, nil
}

func (f *fakeReconcile) ListRuns(context.Context, string, int) ([]reconciledomain.Record, error) {
	return nil, nil
}

type fakeHealth struct {
	latest *healthcheckdomain.InvariantReport
}

func (f *fakeHealth) Run(_ context.Context, trigger string) (*healthcheckdomain.InvariantReport, error) {
	return &healthcheckdomain.InvariantReport{ID: "r-1", TriggeredBy: trigger, Status: driftdomain.StatusPass}, nil
}

func (f *fakeHealth) Latest(context.Context) (*healthcheckdomain.InvariantReport, error) {
	if f.latest == nil {
		return nil, healthcheckdomain.ErrReportNotFound
	}
	return f.latest, nil
}

func (f *fakeHealth) List(context.Context, int) ([]healthcheckdomain.InvariantReport, error) {
	return nil, nil
}

type fakeBackfill struct {
	partial bool
}

func (f *fakeBackfill) List() []backfilldomain.Info {
	return []backfilldomain.Info{{ID: "001_service_used", Version: 1}}
}

func (f *fakeBackfill) Run(_ context.Context, migrationID string, op backfilldomain.Operation) (*backfilldomain.Stats, error) {
	if migrationID != "001_service_used" {
		return nil, backfilldomain.ErrUnknownMigration
	}
	stats := &backfilldomain.Stats{MigrationID: migrationID, Operation: op, Total: 4, Changed: 2}
	if f.partial {
		failures := []backfilldomain.BatchFailure{{}}
		stats.Failures = failures
		return stats, &backfilldomain.PartialRunError{Failures: failures}
	}
	return stats, nil
}

type fakeEntries struct {
	seen map[string]*timeentrydomain.Result
}

func (f *fakeEntries) Submit(_ context.Context, cmd timeentrydomain.Command) (*timeentrydomain.Result, error) {
	if cmd.Minutes <= 0 {
		return nil, &timeentrydomain.ValidationError{Field: "minutes", Code: "gt", Message: "minutes must be positive"}
	}
	if prior, ok := f.seen[cmd.IdempotencyKey]; ok {
		replay := *prior
		replay.Replayed = true
		return &replay, nil
	}
	res := &timeentrydomain.Result{EntryID: "e-1", CaseID: cmd.CaseID, Success: true}
	f.seen[cmd.IdempotencyKey] = res
	return res, nil
}

type testServer struct {
	srv       *Server
	db        *gorm.DB
	reconcile *fakeReconcile
	backfill  *fakeBackfill
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := ledgertest.NewDB(t)
	ledgertest.SeedCase(t, db, "2025001", ledgertest.Service("svc-1", 10, 4))

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: ledgertest.Node(t),
		Repo:  auditrepository.Provide(),
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := &testServer{db: db, reconcile: &fakeReconcile{}, backfill: &fakeBackfill{}}
	ts.srv = NewServer(ServerParams{
		Gin:          engine,
		Cfg:          config.Config{},
		Log:          zap.NewNop(),
		AuthzSvc:     authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit}),
		AuditSvc:     audit,
		LedgerSvc:    ledgerservice.NewService(ledgerservice.Params{DB: db, Log: zap.NewNop(), Repo: ledgerrepository.Provide()}),
		DriftSvc:     fakeDrift{},
		ReconcileSvc: ts.reconcile,
		HealthSvc:    &fakeHealth{},
		BackfillSvc:  ts.backfill,
		EntrySvc:     &fakeEntries{seen: map[string]*timeentrydomain.Result{}},
	})
	return ts
}

func (ts *testServer) do(method, path, role string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set(HeaderOperatorRole, role)
		req.Header.Set(HeaderOperatorID, "op-"+role)
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestAdminRoutesRequireOperator(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/admin/cases/2025001", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)

	rec = ts.do(http.MethodGet, "/admin/cases/2025001", "intern", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetCase(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/admin/cases/2025001", authorization.RoleViewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Case struct {
				ID             string  `json:"id"`
				HoursRemaining float64 `json:"hours_remaining"`
			} `json:"case"`
			Services []struct {
				ID string `json:"id"`
			} `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025001", resp.Data.Case.ID)
	assert.InDelta(t, 6, resp.Data.Case.HoursRemaining, 1e-9)
	require.Len(t, resp.Data.Services, 1)

	rec = ts.do(http.MethodGet, "/admin/cases/missing", authorization.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileRequiresGrantForMode(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/cases/2025001/reconcile", authorization.RoleViewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/cases/2025001/reconcile?mode=execute", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/cases/2025001/reconcile", authorization.RoleOperator, map[string]string{"mode": "dry-run"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []reconciledomain.Mode{reconciledomain.ModeExecute, reconciledomain.ModeDryRun}, ts.reconcile.calls)

	rec = ts.do(http.MethodPost, "/admin/cases/2025001/reconcile?mode=later", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_reconcile_mode", decodeError(t, rec).Errors[0].Code)
}

func TestReconcileConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.reconcile.err = reconciledomain.ErrCaseLocked

	rec := ts.do(http.MethodPost, "/admin/cases/2025001/reconcile?mode=execute", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBackfillRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/backfills/001_service_used/up", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/backfills/001_service_used/dry-run", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/backfills/unknown/up", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/backfills/001_service_used/sideways", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.backfill.partial = true
	rec = ts.do(http.MethodPost, "/admin/backfills/001_service_used/up", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Contains(t, rec.Body.String(), `"changed":2`)
}

func TestHealthCheckRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/admin/health-checks/latest", authorization.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/health-checks/run", authorization.RoleViewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/admin/health-checks/run", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"triggered_by":"api"`)
}

func TestSubmitTimeEntry(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{
		"case_id":     "2025001",
		"service_id":  "svc-1",
		"minutes":     30,
		"employee_id": "emp-1",
		"date":        "2026-03-01",
	}

	req := func() *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		r := httptest.NewRequest(http.MethodPost, "/api/time-entries", bytes.NewReader(raw))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set(HeaderIdempotencyKey, "key-1")
		rec := httptest.NewRecorder()
		ts.srv.Engine().ServeHTTP(rec, r)
		return rec
	}

	first := req()
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(HeaderIdempotentReplayed))

	second := req()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotentReplayed))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	body["minutes"] = 0
	invalid := req()
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.Equal(t, "minutes", decodeError(t, invalid).Errors[0].Field)
}

func TestListAuditLogsRecordsDenials(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/cases/2025001/reconcile?mode=execute", authorization.RoleViewer, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/admin/audit-logs?action=authorization.denied", authorization.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []struct {
			Action  string  `json:"action"`
			ActorID *string `json:"actor_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "authorization.denied", resp.Data[0].Action)

	rec = ts.do(http.MethodGet, "/admin/audit-logs?start_at=yesterday", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/admin/audit-logs", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
