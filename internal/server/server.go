package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/authorization"
	backfilldomain "github.com/smallbiznis/caseledger/internal/backfill/domain"
	"github.com/smallbiznis/caseledger/internal/config"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	healthcheckdomain "github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	"github.com/smallbiznis/caseledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/caseledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/caseledger/internal/observability/tracing"
	"github.com/smallbiznis/caseledger/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	timeentrydomain "github.com/smallbiznis/caseledger/internal/timeentry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Named("http.server").Info("listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	ledgerSvc    ledgerdomain.Service
	driftSvc     driftdomain.Service
	reconcileSvc reconciledomain.Service
	healthSvc    healthcheckdomain.Service
	backfillSvc  backfilldomain.Service
	entrySvc     timeentrydomain.Service

	intakeLimiter *ratelimit.IntakeLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	LedgerSvc    ledgerdomain.Service
	DriftSvc     driftdomain.Service
	ReconcileSvc reconciledomain.Service
	HealthSvc    healthcheckdomain.Service
	BackfillSvc  backfilldomain.Service
	EntrySvc     timeentrydomain.Service

	IntakeLimiter *ratelimit.IntakeLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		ledgerSvc:     p.LedgerSvc,
		driftSvc:      p.DriftSvc,
		reconcileSvc:  p.ReconcileSvc,
		healthSvc:     p.HealthSvc,
		backfillSvc:   p.BackfillSvc,
		entrySvc:      p.EntrySvc,
		intakeLimiter: p.IntakeLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/time-entries", s.EntryIntakeRateLimit(), s.SubmitTimeEntry)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.OperatorRequired())

	// -------- Cases --------
	admin.GET("/cases/:caseId", s.authorizeOperator(authorization.ObjectCase, authorization.ActionCaseView), s.GetCase)
	admin.GET("/cases/:caseId/drift", s.authorizeOperator(authorization.ObjectDrift, authorization.ActionDriftView), s.GetCaseDrift)
	admin.GET("/cases/:caseId/reconciliations", s.authorizeOperator(authorization.ObjectReconcile, authorization.ActionReconcileView), s.ListReconciliations)
	// Mode decides the required action, so the handler authorizes.
	admin.POST("/cases/:caseId/reconcile", s.ReconcileCase)

	// -------- Health checks --------
	admin.GET("/health-checks", s.authorizeOperator(authorization.ObjectHealthCheck, authorization.ActionHealthCheckView), s.ListHealthChecks)
	admin.GET("/health-checks/latest", s.authorizeOperator(authorization.ObjectHealthCheck, authorization.ActionHealthCheckView), s.LatestHealthCheck)
	admin.POST("/health-checks/run", s.authorizeOperator(authorization.ObjectHealthCheck, authorization.ActionHealthCheckRun), s.RunHealthCheck)

	// -------- Backfills --------
	admin.GET("/backfills", s.authorizeOperator(authorization.ObjectBackfill, authorization.ActionBackfillView), s.ListBackfills)
	admin.POST("/backfills/:migrationId/:op", s.RunBackfill)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorizeOperator(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
